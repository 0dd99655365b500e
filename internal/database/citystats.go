// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vigia-news/vigia/internal/metrics"
	"github.com/vigia-news/vigia/internal/models"
)

const cityStatsColumns = `id, city, last_result_count, hit_limit_count, needs_sharding, last_polled_at, updated_at`

func scanCityStats(sc scanner) (*models.CityStats, error) {
	var cs models.CityStats
	err := sc.Scan(&cs.ID, &cs.City, &cs.LastResultCount, &cs.HitLimitCount,
		&cs.NeedsSharding, &cs.LastPolledAt, &cs.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

// RecordPollResult upserts one locality's poll bookkeeping and returns the
// updated row. hitLimit marks a response that came back at the aggregator
// cap. The hit count is cumulative and never resets on low polls; once it
// reaches shardThreshold, needs_sharding latches on and stays on.
func (db *DB) RecordPollResult(ctx context.Context, city string, resultCount int, hitLimit bool, shardThreshold int) (stats *models.CityStats, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("upsert", "city_stats", time.Since(start), err) }()

	hit := 0
	if hitLimit {
		hit = 1
	}
	now := time.Now().UTC()

	_, err = db.conn.ExecContext(ctx, `INSERT INTO city_stats
		(city, last_result_count, hit_limit_count, needs_sharding, last_polled_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (city) DO UPDATE SET
			last_result_count = excluded.last_result_count,
			hit_limit_count = hit_limit_count + excluded.hit_limit_count,
			needs_sharding = (hit_limit_count + excluded.hit_limit_count) >= ?,
			last_polled_at = excluded.last_polled_at,
			updated_at = excluded.updated_at`,
		city, resultCount, hit, hit >= shardThreshold, now, now, shardThreshold)
	if err != nil {
		err = fmt.Errorf("failed to upsert city stats for %q: %w", city, err)
		return nil, err
	}

	return db.GetCityStatsByCity(ctx, city)
}

// GetCityStatsByCity retrieves one locality's poll stats.
func (db *DB) GetCityStatsByCity(ctx context.Context, city string) (*models.CityStats, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM city_stats WHERE city = ?`, cityStatsColumns), city)

	cs, err := scanCityStats(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("city stats for %q: %w", city, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get city stats for %q: %w", city, err)
	}
	return cs, nil
}

// GetCityStats lists poll stats for every locality seen so far.
func (db *DB) GetCityStats(ctx context.Context) ([]models.CityStats, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM city_stats ORDER BY city`, cityStatsColumns))
	if err != nil {
		return nil, fmt.Errorf("failed to query city stats: %w", err)
	}
	defer closeQuietly(rows)

	var stats []models.CityStats
	for rows.Next() {
		cs, scanErr := scanCityStats(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan city stats: %w", scanErr)
		}
		stats = append(stats, *cs)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating city stats: %w", err)
	}

	return stats, nil
}

// ShardedCities returns the set of localities currently flagged for
// publisher-domain sharding. The poller consults this once per cycle.
func (db *DB) ShardedCities(ctx context.Context) (map[string]bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT city FROM city_stats WHERE needs_sharding`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sharded cities: %w", err)
	}
	defer closeQuietly(rows)

	sharded := make(map[string]bool)
	for rows.Next() {
		var city string
		if err := rows.Scan(&city); err != nil {
			return nil, fmt.Errorf("failed to scan sharded city: %w", err)
		}
		sharded[city] = true
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sharded cities: %w", err)
	}

	return sharded, nil
}

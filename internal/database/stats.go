// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/vigia-news/vigia/internal/metrics"
	"github.com/vigia-news/vigia/internal/models"
)

// GetPipelineStats assembles the aggregate snapshot served by the stats
// endpoint. The counts come from four queries, not one transaction; the
// snapshot may be a few rows inconsistent under concurrent pipeline writes,
// which is fine for monitoring.
func (db *DB) GetPipelineStats(ctx context.Context) (stats *models.PipelineStats, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("stats", "all", time.Since(start), err) }()

	byStatus, err := db.CountSourcesByStatus(ctx)
	if err != nil {
		return nil, err
	}
	sourceStats := models.SourceStats{ByStatus: make(map[string]int64, len(byStatus))}
	for status, n := range byStatus {
		sourceStats.ByStatus[string(status)] = n
		sourceStats.Total += n
	}

	byState, gold, err := db.CountRawEventsByDedupState(ctx)
	if err != nil {
		return nil, err
	}
	rawStats := models.RawEventStats{
		ByDedupState: make(map[string]int64, len(byState)),
		GoldStandard: gold,
	}
	for state, n := range byState {
		rawStats.ByDedupState[string(state)] = n
		rawStats.Total += n
	}

	var uniqueStats models.UniqueEventStats
	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE confirmed),
		        COUNT(*) FILTER (WHERE needs_enrichment),
		        COUNT(*) FILTER (WHERE latitude IS NOT NULL)
		 FROM unique_events`).Scan(
		&uniqueStats.Total, &uniqueStats.Confirmed,
		&uniqueStats.NeedsEnrichment, &uniqueStats.Geocoded)
	if err != nil {
		return nil, fmt.Errorf("failed to count unique events: %w", err)
	}

	var feedStats models.FeedStats
	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE needs_sharding) FROM city_stats`).Scan(
		&feedStats.TrackedCities, &feedStats.ShardedCities)
	if err != nil {
		return nil, fmt.Errorf("failed to count city stats: %w", err)
	}
	if feedStats.LastFetchedAt, err = db.LastFetchedAt(ctx); err != nil {
		return nil, err
	}

	return &models.PipelineStats{
		Sources:      sourceStats,
		RawEvents:    rawStats,
		UniqueEvents: uniqueStats,
		Feed:         feedStats,
		GeneratedAt:  time.Now().UTC(),
	}, nil
}

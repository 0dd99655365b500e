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

	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/metrics"
	"github.com/vigia-news/vigia/internal/models"
)

// uniqueEventColumns is the canonical SELECT list for unique_events,
// matched by scanUniqueEvent.
const uniqueEventColumns = `id, homicide_type, method, event_date, date_precision, time_of_day,
	country, state, city, neighborhood, street, establishment, location_description,
	latitude, longitude, plus_code, place_id, formatted_address,
	geocode_precision, geocode_source, geocode_confidence,
	victim_count, identified_victim_count, victim_summary,
	perpetrator_count, identified_perpetrator_count, security_force_involved,
	title, description, additional_context, merged_data,
	source_count, confirmed, needs_enrichment, last_enriched_at, enrichment_model,
	created_at, updated_at`

func scanUniqueEvent(sc scanner) (*models.UniqueEvent, error) {
	var u models.UniqueEvent
	err := sc.Scan(
		&u.ID, &u.HomicideType, &u.Method, &u.EventDate, &u.DatePrecision, &u.TimeOfDay,
		&u.Country, &u.State, &u.City, &u.Neighborhood, &u.Street, &u.Establishment, &u.LocationDescription,
		&u.Latitude, &u.Longitude, &u.PlusCode, &u.PlaceID, &u.FormattedAddress,
		&u.GeocodePrecision, &u.GeocodeSource, &u.GeocodeConfidence,
		&u.VictimCount, &u.IdentifiedVictimCount, &u.VictimSummary,
		&u.PerpetratorCount, &u.IdentifiedPerpetratorCount, &u.SecurityForceInvolved,
		&u.Title, &u.Description, &u.AdditionalContext, &u.MergedData,
		&u.SourceCount, &u.Confirmed, &u.NeedsEnrichment, &u.LastEnrichedAt, &u.EnrichmentModel,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// InsertUniqueEvent creates a canonical incident row, typically seeded from
// the first member of a cluster. SourceCount should be zero at insert;
// LinkRawEvent bumps it once per attached raw event.
func (db *DB) InsertUniqueEvent(ctx context.Context, ue *models.UniqueEvent) (err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert", "unique_events", time.Since(start), err) }()

	now := time.Now().UTC()
	if ue.CreatedAt.IsZero() {
		ue.CreatedAt = now
	}
	ue.UpdatedAt = now

	err = db.conn.QueryRowContext(ctx, `INSERT INTO unique_events (
		homicide_type, method, event_date, date_precision, time_of_day,
		country, state, city, neighborhood, street, establishment, location_description,
		latitude, longitude, plus_code, place_id, formatted_address,
		geocode_precision, geocode_source, geocode_confidence,
		victim_count, identified_victim_count, victim_summary,
		perpetrator_count, identified_perpetrator_count, security_force_involved,
		title, description, additional_context, merged_data,
		source_count, confirmed, needs_enrichment, last_enriched_at, enrichment_model,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING id`,
		ue.HomicideType, ue.Method, ue.EventDate, ue.DatePrecision, ue.TimeOfDay,
		ue.Country, ue.State, ue.City, ue.Neighborhood, ue.Street, ue.Establishment, ue.LocationDescription,
		ue.Latitude, ue.Longitude, ue.PlusCode, ue.PlaceID, ue.FormattedAddress,
		ue.GeocodePrecision, ue.GeocodeSource, ue.GeocodeConfidence,
		ue.VictimCount, ue.IdentifiedVictimCount, ue.VictimSummary,
		ue.PerpetratorCount, ue.IdentifiedPerpetratorCount, ue.SecurityForceInvolved,
		ue.Title, ue.Description, ue.AdditionalContext, ue.MergedData,
		ue.SourceCount, ue.Confirmed, ue.NeedsEnrichment, ue.LastEnrichedAt, ue.EnrichmentModel,
		ue.CreatedAt, ue.UpdatedAt,
	).Scan(&ue.ID)
	if err != nil {
		return fmt.Errorf("failed to insert unique event: %w", err)
	}

	metrics.DedupUniqueEventsCreated.Inc()
	return nil
}

// GetUniqueEventByID retrieves a single unique event.
func (db *DB) GetUniqueEventByID(ctx context.Context, id int64) (*models.UniqueEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM unique_events WHERE id = ?`, uniqueEventColumns), id)

	u, err := scanUniqueEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("unique event %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get unique event %d: %w", id, err)
	}
	return u, nil
}

// UniqueEventFilter narrows GetUniqueEvents. Zero values mean no filter;
// From and To bound the event date inclusively.
type UniqueEventFilter struct {
	City      string
	State     string
	From      *time.Time
	To        *time.Time
	Confirmed *bool
	Limit     int
	Offset    int
}

// GetUniqueEvents lists the incident catalogue for the read API, most
// recent event date first (dateless incidents last), with the total row
// count for pagination.
func (db *DB) GetUniqueEvents(ctx context.Context, f UniqueEventFilter) (events []models.UniqueEvent, total int64, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("select", "unique_events", time.Since(start), err) }()

	where := ""
	args := []interface{}{}
	appendCond := func(cond string, condArgs ...interface{}) {
		if where == "" {
			where = " WHERE " + cond
		} else {
			where += " AND " + cond
		}
		args = append(args, condArgs...)
	}

	if f.City != "" {
		appendCond("lower(city) = lower(?)", f.City)
	}
	if f.State != "" {
		appendCond("lower(state) = lower(?)", f.State)
	}
	if f.From != nil {
		appendCond("event_date >= ?", f.From.UTC())
	}
	if f.To != nil {
		appendCond("event_date <= ?", f.To.UTC())
	}
	if f.Confirmed != nil {
		appendCond("confirmed = ?", *f.Confirmed)
	}

	if err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM unique_events`+where, args...).Scan(&total); err != nil {
		err = fmt.Errorf("failed to count unique events: %w", err)
		return nil, 0, err
	}

	query := fmt.Sprintf(
		`SELECT %s FROM unique_events%s ORDER BY event_date DESC NULLS LAST, id DESC LIMIT ? OFFSET ?`,
		uniqueEventColumns, where)
	args = append(args, f.Limit, f.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		err = fmt.Errorf("failed to query unique events: %w", err)
		return nil, 0, err
	}
	defer closeQuietly(rows)

	for rows.Next() {
		u, scanErr := scanUniqueEvent(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan unique event: %w", scanErr)
			return nil, 0, err
		}
		events = append(events, *u)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("error iterating unique events: %w", err)
		return nil, 0, err
	}

	return events, total, nil
}

// ForEachUniqueEvent streams the whole catalogue in id order through fn,
// without materializing it. Used by the bulk export endpoints. A non-nil
// error from fn aborts the iteration and is returned as-is.
func (db *DB) ForEachUniqueEvent(ctx context.Context, fn func(*models.UniqueEvent) error) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM unique_events ORDER BY id`, uniqueEventColumns))
	if err != nil {
		return fmt.Errorf("failed to query unique events for export: %w", err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		u, scanErr := scanUniqueEvent(rows)
		if scanErr != nil {
			return fmt.Errorf("failed to scan unique event: %w", scanErr)
		}
		if err := fn(u); err != nil {
			return err
		}
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating unique events: %w", err)
	}
	return nil
}

// MaxUniqueEventID returns the highest assigned incident ID, or zero when
// the table is empty. The dedup matcher snapshots this boundary before a
// run: incidents created during the run are not match candidates.
func (db *DB) MaxUniqueEventID(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var maxID int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM unique_events`).Scan(&maxID)
	if err != nil {
		return 0, fmt.Errorf("failed to get max unique event id: %w", err)
	}
	return maxID, nil
}

// CandidateUniqueEvents returns match candidates for a raw event: incidents
// within the snapshot boundary whose event date falls inside the blocking
// window eventDate +/- toleranceDays, capped at maxCandidates.
func (db *DB) CandidateUniqueEvents(ctx context.Context, eventDate time.Time, toleranceDays int, snapshotMaxID int64, maxCandidates int) ([]models.UniqueEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	day := eventDate.UTC().Truncate(24 * time.Hour)
	from := day.AddDate(0, 0, -toleranceDays)
	to := day.AddDate(0, 0, toleranceDays)

	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM unique_events
		 WHERE id <= ? AND event_date IS NOT NULL AND event_date BETWEEN ? AND ?
		 ORDER BY event_date, id LIMIT ?`, uniqueEventColumns),
		snapshotMaxID, from, to, maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to query match candidates: %w", err)
	}
	defer closeQuietly(rows)

	var candidates []models.UniqueEvent
	for rows.Next() {
		u, scanErr := scanUniqueEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan match candidate: %w", scanErr)
		}
		candidates = append(candidates, *u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match candidates: %w", err)
	}

	return candidates, nil
}

// UniqueEventsNeedingEnrichment returns the IDs flagged for (re-)synthesis,
// oldest first.
func (db *DB) UniqueEventsNeedingEnrichment(ctx context.Context, limit int) ([]int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id FROM unique_events WHERE needs_enrichment ORDER BY updated_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events needing enrichment: %w", err)
	}
	defer closeQuietly(rows)

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan unique event id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrichment queue: %w", err)
	}

	return ids, nil
}

// UniqueEventsInWindow returns all dated incidents with event date >= since,
// ordered by event date. The post-pass merge sweep forms same-day pairs
// from this list.
func (db *DB) UniqueEventsInWindow(ctx context.Context, since time.Time) ([]models.UniqueEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM unique_events
		 WHERE event_date IS NOT NULL AND event_date >= ?
		 ORDER BY event_date, id`, uniqueEventColumns), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query window events: %w", err)
	}
	defer closeQuietly(rows)

	var events []models.UniqueEvent
	for rows.Next() {
		u, scanErr := scanUniqueEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan window event: %w", scanErr)
		}
		events = append(events, *u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating window events: %w", err)
	}

	return events, nil
}

// ApplyEnrichment overwrites the canonical record with the synthesis
// result. The overwrite is authoritative: every field is written, explicit
// nulls included, because newer evidence may retract earlier values. Geocode
// columns come from geo when present and are cleared otherwise, so stale
// coordinates never outlive a location rewrite. Clears needs_enrichment and
// stamps the enrichment provenance.
func (db *DB) ApplyEnrichment(ctx context.Context, id int64, enr *models.EnrichmentResult, geo *models.GeocodeResult, modelID string, mergedData *string) (err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("enrich", "unique_events", time.Since(start), err) }()

	var lat, lng, geoConfidence *float64
	var plusCode, placeID, formattedAddress, precision, geoSource *string
	if geo != nil {
		lat, lng, geoConfidence = &geo.Latitude, &geo.Longitude, &geo.Confidence
		plusCode, placeID, formattedAddress = geo.PlusCode, geo.PlaceID, geo.FormattedAddress
		p := string(geo.Precision)
		precision, geoSource = &p, &geo.Source
	}

	now := time.Now().UTC()

	result, err := db.conn.ExecContext(ctx, `UPDATE unique_events SET
		homicide_type = ?, method = ?, event_date = ?, date_precision = ?, time_of_day = ?,
		country = ?, state = ?, city = ?, neighborhood = ?, street = ?,
		establishment = ?, location_description = ?,
		latitude = ?, longitude = ?, plus_code = ?, place_id = ?, formatted_address = ?,
		geocode_precision = ?, geocode_source = ?, geocode_confidence = ?,
		victim_count = ?, identified_victim_count = ?, victim_summary = ?,
		perpetrator_count = ?, identified_perpetrator_count = ?, security_force_involved = ?,
		title = ?, description = ?, additional_context = ?, merged_data = ?,
		needs_enrichment = false, last_enriched_at = ?, enrichment_model = ?, updated_at = ?
	WHERE id = ?`,
		enr.HomicideType, enr.Method, enr.EventDateTime(), enr.DatePrecision, enr.TimeOfDay,
		enr.Country, enr.State, enr.City, enr.Neighborhood, enr.Street,
		enr.Establishment, enr.LocationDescription,
		lat, lng, plusCode, placeID, formattedAddress,
		precision, geoSource, geoConfidence,
		enr.VictimCount, enr.IdentifiedVictimCount, enr.VictimSummary,
		enr.PerpetratorCount, enr.IdentifiedPerpetratorCount, enr.SecurityForceInvolved,
		enr.Title, enr.Description, enr.AdditionalContext, mergedData,
		now, modelID, now,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to apply enrichment to unique event %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("unique event %d: %w", id, ErrNotFound)
	}
	return nil
}

// MergeUniqueEvents folds the loser incident into the keeper: the loser's
// raw events are re-parented first, the keeper's source count is recomputed
// and it is flagged for re-enrichment, then the loser row is deleted. This
// is the only path that ever deletes a unique event.
func (db *DB) MergeUniqueEvents(ctx context.Context, keeperID, loserID int64) (err error) {
	if keeperID == loserID {
		return fmt.Errorf("cannot merge unique event %d into itself", keeperID)
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("merge", "unique_events", time.Since(start), err) }()

	now := time.Now().UTC()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin merge transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Error().Err(rbErr).AnErr("original_error", err).Msg("Merge rollback failed")
			}
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`UPDATE raw_events SET unique_event_id = ?, updated_at = ? WHERE unique_event_id = ?`,
		keeperID, now, loserID); err != nil {
		err = fmt.Errorf("failed to re-parent raw events from %d to %d: %w", loserID, keeperID, err)
		return err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE unique_events
		 SET source_count = (SELECT COUNT(*) FROM raw_events WHERE unique_event_id = ?),
		     needs_enrichment = true, updated_at = ?
		 WHERE id = ?`,
		keeperID, now, keeperID)
	if err != nil {
		err = fmt.Errorf("failed to update merge keeper %d: %w", keeperID, err)
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		err = fmt.Errorf("failed to get rows affected: %w", err)
		return err
	}
	if rowsAffected == 0 {
		err = fmt.Errorf("merge keeper %d: %w", keeperID, ErrNotFound)
		return err
	}

	result, err = tx.ExecContext(ctx, `DELETE FROM unique_events WHERE id = ?`, loserID)
	if err != nil {
		err = fmt.Errorf("failed to delete merge loser %d: %w", loserID, err)
		return err
	}
	rowsAffected, err = result.RowsAffected()
	if err != nil {
		err = fmt.Errorf("failed to get rows affected: %w", err)
		return err
	}
	if rowsAffected == 0 {
		err = fmt.Errorf("merge loser %d: %w", loserID, ErrNotFound)
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit merge: %w", err)
	}

	logging.Info().
		Int64("keeper_id", keeperID).
		Int64("loser_id", loserID).
		Msg("Merged duplicate incidents")
	return nil
}

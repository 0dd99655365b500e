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

	"github.com/goccy/go-json"
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/metrics"
	"github.com/vigia-news/vigia/internal/models"
)

// rawEventColumns is the canonical SELECT list for raw_events, matched by
// scanRawEvent.
const rawEventColumns = `id, source_id, unique_event_id, dedup_state, is_gold_standard,
	event_date, date_precision, time_of_day, city, state, neighborhood,
	victim_count, identified_victim_count, perpetrator_count, security_force_involved,
	homicide_type, method, title, description, extraction_data,
	extraction_model, extraction_success, extraction_error, created_at, updated_at`

func scanRawEvent(sc scanner) (*models.RawEvent, error) {
	var r models.RawEvent
	var payload *string

	err := sc.Scan(
		&r.ID, &r.SourceID, &r.UniqueEventID, &r.DedupState, &r.IsGoldStandard,
		&r.EventDate, &r.DatePrecision, &r.TimeOfDay, &r.City, &r.State, &r.Neighborhood,
		&r.VictimCount, &r.IdentifiedVictimCount, &r.PerpetratorCount, &r.SecurityForceInvolved,
		&r.HomicideType, &r.Method, &r.Title, &r.Description, &payload,
		&r.ExtractionModel, &r.ExtractionSuccess, &r.ExtractionError, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload != nil && *payload != "" {
		var ext models.Extraction
		if err := json.Unmarshal([]byte(*payload), &ext); err != nil {
			return nil, fmt.Errorf("corrupt extraction payload for raw event %d: %w", r.ID, err)
		}
		r.ExtractionData = &ext
	}

	return &r, nil
}

// InsertRawEvent stores a structured extraction and marks its parent source
// extracted, in one transaction. The source must still be in the extracting
// claim state, otherwise ErrStaleClaim.
//
// A source that already has a raw event is left untouched (the 1:1 unique
// constraint plus ON CONFLICT DO NOTHING make re-extraction a no-op), which
// also protects hand-annotated gold standard rows from being overwritten.
func (db *DB) InsertRawEvent(ctx context.Context, re *models.RawEvent) (err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert", "raw_events", time.Since(start), err) }()

	var payload *string
	if re.ExtractionData != nil {
		data, marshalErr := json.Marshal(re.ExtractionData)
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal extraction payload: %w", marshalErr)
		}
		s := string(data)
		payload = &s
	}

	now := time.Now().UTC()
	if re.CreatedAt.IsZero() {
		re.CreatedAt = now
	}
	re.UpdatedAt = now
	if re.DedupState == "" {
		re.DedupState = models.DedupPending
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Error().Err(rbErr).AnErr("original_error", err).Msg("Transaction rollback failed")
			}
		}
	}()

	row := tx.QueryRowContext(ctx, `INSERT INTO raw_events (
		source_id, unique_event_id, dedup_state, is_gold_standard,
		event_date, date_precision, time_of_day, city, state, neighborhood,
		victim_count, identified_victim_count, perpetrator_count, security_force_involved,
		homicide_type, method, title, description, extraction_data,
		extraction_model, extraction_success, extraction_error, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT DO NOTHING
	RETURNING id`,
		re.SourceID, re.UniqueEventID, string(re.DedupState), re.IsGoldStandard,
		re.EventDate, re.DatePrecision, re.TimeOfDay, re.City, re.State, re.Neighborhood,
		re.VictimCount, re.IdentifiedVictimCount, re.PerpetratorCount, re.SecurityForceInvolved,
		re.HomicideType, re.Method, re.Title, re.Description, payload,
		re.ExtractionModel, re.ExtractionSuccess, re.ExtractionError, re.CreatedAt, re.UpdatedAt,
	)

	if scanErr := row.Scan(&re.ID); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			// Conflict path: this source already has a raw event.
			var existingID int64
			if err = tx.QueryRowContext(ctx,
				`SELECT id FROM raw_events WHERE source_id = ?`, re.SourceID).Scan(&existingID); err != nil {
				err = fmt.Errorf("failed to look up existing raw event for source %d: %w", re.SourceID, err)
				return err
			}
			re.ID = existingID
			logging.Debug().
				Int64("source_id", re.SourceID).
				Int64("raw_event_id", existingID).
				Msg("Source already extracted, insert skipped")
		} else {
			err = fmt.Errorf("failed to insert raw event for source %d: %w", re.SourceID, scanErr)
			return err
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE sources SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(models.StatusExtracted), now, re.SourceID, string(models.StatusExtracting))
	if err != nil {
		err = fmt.Errorf("failed to mark source %d extracted: %w", re.SourceID, err)
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		err = fmt.Errorf("failed to get rows affected: %w", err)
		return err
	}
	if rowsAffected == 0 {
		err = fmt.Errorf("source %d not in state %q: %w", re.SourceID, models.StatusExtracting, ErrStaleClaim)
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit raw event: %w", err)
	}
	return nil
}

// PendingRawEvents returns up to limit raw events eligible for
// deduplication: still pending and carrying an event date for blocking.
// Dateless raw events are invisible here and stay pending forever.
func (db *DB) PendingRawEvents(ctx context.Context, limit int) ([]models.RawEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM raw_events
		 WHERE dedup_state = ? AND event_date IS NOT NULL
		 ORDER BY event_date, id LIMIT ?`, rawEventColumns),
		string(models.DedupPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending raw events: %w", err)
	}
	defer closeQuietly(rows)

	var events []models.RawEvent
	for rows.Next() {
		r, scanErr := scanRawEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan raw event: %w", scanErr)
		}
		events = append(events, *r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending raw events: %w", err)
	}

	return events, nil
}

// LinkRawEvent attaches a pending raw event to a unique event, bumps the
// unique event's source count, and flags it for (re-)enrichment, in one
// transaction. state records how the link was made: matched (against an
// existing incident) or clustered (incident created by clustering).
func (db *DB) LinkRawEvent(ctx context.Context, rawEventID, uniqueEventID int64, state models.DedupState) (err error) {
	if state != models.DedupMatched && state != models.DedupClustered {
		return fmt.Errorf("state %q is not a link state", state)
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("link", "raw_events", time.Since(start), err) }()

	now := time.Now().UTC()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Error().Err(rbErr).AnErr("original_error", err).Msg("Transaction rollback failed")
			}
		}
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE raw_events SET dedup_state = ?, unique_event_id = ?, updated_at = ?
		 WHERE id = ? AND dedup_state = ?`,
		string(state), uniqueEventID, now, rawEventID, string(models.DedupPending))
	if err != nil {
		err = fmt.Errorf("failed to link raw event %d: %w", rawEventID, err)
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		err = fmt.Errorf("failed to get rows affected: %w", err)
		return err
	}
	if rowsAffected == 0 {
		err = fmt.Errorf("raw event %d no longer pending: %w", rawEventID, ErrStaleClaim)
		return err
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE unique_events
		 SET source_count = source_count + 1, needs_enrichment = true, updated_at = ?
		 WHERE id = ?`,
		now, uniqueEventID)
	if err != nil {
		err = fmt.Errorf("failed to bump unique event %d: %w", uniqueEventID, err)
		return err
	}
	rowsAffected, err = result.RowsAffected()
	if err != nil {
		err = fmt.Errorf("failed to get rows affected: %w", err)
		return err
	}
	if rowsAffected == 0 {
		err = fmt.Errorf("unique event %d: %w", uniqueEventID, ErrNotFound)
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit link: %w", err)
	}
	return nil
}

// GetRawEventByID retrieves a single raw event.
func (db *DB) GetRawEventByID(ctx context.Context, id int64) (*models.RawEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM raw_events WHERE id = ?`, rawEventColumns), id)

	r, err := scanRawEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("raw event %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get raw event %d: %w", id, err)
	}
	return r, nil
}

// GetRawEventsByUniqueEvent returns all raw events linked to a unique
// event. Gold standard rows come first so synthesis prompts see them before
// ordinary extractions, then insertion order.
func (db *DB) GetRawEventsByUniqueEvent(ctx context.Context, uniqueEventID int64) ([]models.RawEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM raw_events WHERE unique_event_id = ?
		 ORDER BY is_gold_standard DESC, id`, rawEventColumns), uniqueEventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw events for unique event %d: %w", uniqueEventID, err)
	}
	defer closeQuietly(rows)

	var events []models.RawEvent
	for rows.Next() {
		r, scanErr := scanRawEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan raw event: %w", scanErr)
		}
		events = append(events, *r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw events: %w", err)
	}

	return events, nil
}

// RawEventFilter narrows GetRawEvents. Zero values mean no filter.
type RawEventFilter struct {
	DedupState string
	Limit      int
	Offset     int
}

// GetRawEvents lists raw events for the read API, newest first, with the
// total row count for pagination.
func (db *DB) GetRawEvents(ctx context.Context, f RawEventFilter) ([]models.RawEvent, int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where := ""
	args := []interface{}{}
	if f.DedupState != "" {
		where = " WHERE dedup_state = ?"
		args = append(args, f.DedupState)
	}

	var total int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count raw events: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM raw_events%s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		rawEventColumns, where)
	args = append(args, f.Limit, f.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query raw events: %w", err)
	}
	defer closeQuietly(rows)

	var events []models.RawEvent
	for rows.Next() {
		r, scanErr := scanRawEvent(rows)
		if scanErr != nil {
			return nil, 0, fmt.Errorf("failed to scan raw event: %w", scanErr)
		}
		events = append(events, *r)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating raw events: %w", err)
	}

	return events, total, nil
}

// CountRawEventsByDedupState returns per-state counts plus the gold
// standard total for the stats endpoint.
func (db *DB) CountRawEventsByDedupState(ctx context.Context) (map[models.DedupState]int64, int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	counts := map[models.DedupState]int64{
		models.DedupPending:   0,
		models.DedupMatched:   0,
		models.DedupClustered: 0,
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT dedup_state, COUNT(*) FROM raw_events GROUP BY dedup_state`)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count raw events by state: %w", err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, 0, fmt.Errorf("failed to scan dedup state count: %w", err)
		}
		counts[models.DedupState(state)] = count
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating dedup state counts: %w", err)
	}

	var gold int64
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_events WHERE is_gold_standard`).Scan(&gold); err != nil {
		return nil, 0, fmt.Errorf("failed to count gold standard rows: %w", err)
	}

	return counts, gold, nil
}

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
	"strings"
	"time"

	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/metrics"
	"github.com/vigia-news/vigia/internal/models"
)

// Sentinel errors returned by the store.
var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("row not found")

	// ErrStaleClaim is returned when a conditional status update matched no
	// row: the row moved out of the expected state underneath the caller.
	ErrStaleClaim = errors.New("row no longer in expected state")
)

// sourceColumns is the canonical SELECT list for sources, matched by
// scanSource.
const sourceColumns = `id, feed_id, feed_url, resolved_url, headline, publisher,
	publisher_url, published_at, content, search_query, status,
	is_violent_death, confidence, reasoning, error_message, fetched_at, updated_at`

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(sc scanner) (*models.Source, error) {
	var s models.Source
	err := sc.Scan(
		&s.ID, &s.FeedID, &s.FeedURL, &s.ResolvedURL, &s.Headline, &s.Publisher,
		&s.PublisherURL, &s.PublishedAt, &s.Content, &s.Query, &s.Status,
		&s.IsViolentDeath, &s.Confidence, &s.Reasoning, &s.ErrorMessage,
		&s.FetchedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertSources atomically inserts a batch of feed entries.
// Entries whose feed_id is already known are silently skipped
// (ON CONFLICT DO NOTHING on the unique constraint), which makes feed
// re-polling idempotent.
//
// Returns the number of rows actually inserted and the number skipped as
// duplicates. On error the whole batch is rolled back.
func (db *DB) InsertSources(ctx context.Context, sources []*models.Source) (inserted int, duplicates int, err error) {
	if len(sources) == 0 {
		return 0, 0, nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert", "sources", time.Since(start), err) }()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Error().Err(rbErr).AnErr("original_error", err).Msg("Transaction rollback failed")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO sources (
		feed_id, feed_url, resolved_url, headline, publisher, publisher_url,
		published_at, search_query, status, fetched_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer closeWithLog(stmt, "insert statement")

	for i, s := range sources {
		if s.Status == "" {
			s.Status = models.StatusReadyForClassification
		}
		now := time.Now().UTC()
		if s.FetchedAt.IsZero() {
			s.FetchedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}

		result, execErr := stmt.ExecContext(ctx,
			s.FeedID, s.FeedURL, s.ResolvedURL, s.Headline, s.Publisher, s.PublisherURL,
			s.PublishedAt, s.Query, string(s.Status), s.FetchedAt, s.UpdatedAt,
		)
		if execErr != nil {
			err = fmt.Errorf("failed to insert source %d (feed_id=%s): %w", i, s.FeedID, execErr)
			return 0, 0, err
		}

		rowsAffected, raErr := result.RowsAffected()
		if raErr != nil {
			err = fmt.Errorf("failed to get rows affected for source %d: %w", i, raErr)
			return 0, 0, err
		}
		if rowsAffected > 0 {
			inserted++
		} else {
			duplicates++
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logging.Debug().
		Int("inserted", inserted).
		Int("duplicates", duplicates).
		Int("total", len(sources)).
		Msg("Source batch committed")

	return inserted, duplicates, nil
}

// ClaimSources atomically claims up to limit sources waiting in the given
// input state and moves them into its claim state. The three steps run in
// one transaction: read candidate IDs, a single conditional UPDATE into the
// claim state, read back the rows actually claimed.
//
// A concurrent claimer racing for the same rows triggers a DuckDB
// write-write conflict; the losing transaction rolls back and returns an
// empty slice, because the rows now belong to the winner.
func (db *DB) ClaimSources(ctx context.Context, input models.SourceStatus, limit int) (claimed []models.Source, err error) {
	claim, ok := input.ClaimState()
	if !ok {
		return nil, fmt.Errorf("status %q is not claimable", input)
	}
	if limit <= 0 {
		return nil, nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("claim", "sources", time.Since(start), err) }()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Error().Err(rbErr).AnErr("original_error", err).Msg("Claim rollback failed")
			}
		}
	}()

	// Oldest first so retried rows do not starve behind fresh ones.
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM sources WHERE status = ? ORDER BY fetched_at, id LIMIT ?`,
		string(input), limit)
	if err != nil {
		err = fmt.Errorf("failed to query claim candidates: %w", err)
		return nil, err
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if scanErr := rows.Scan(&id); scanErr != nil {
			closeQuietly(rows)
			err = fmt.Errorf("failed to scan candidate id: %w", scanErr)
			return nil, err
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		closeQuietly(rows)
		err = fmt.Errorf("error iterating claim candidates: %w", err)
		return nil, err
	}
	closeQuietly(rows)

	if len(ids) == 0 {
		err = tx.Commit()
		return nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	updateArgs := make([]interface{}, 0, len(ids)+3)
	updateArgs = append(updateArgs, string(claim), time.Now().UTC())
	for _, id := range ids {
		updateArgs = append(updateArgs, id)
	}
	updateArgs = append(updateArgs, string(input))

	// The status guard makes the UPDATE conditional: rows another worker
	// moved since the candidate read are skipped, never double-claimed.
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE sources SET status = ?, updated_at = ? WHERE id IN (%s) AND status = ?`,
		placeholders), updateArgs...)
	if err != nil {
		if isTransactionConflict(err) {
			logging.Debug().Str("input", string(input)).Msg("Claim lost write-write conflict")
			err = nil
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Warn().Err(rbErr).Msg("Rollback after claim conflict failed")
			}
			return nil, nil
		}
		err = fmt.Errorf("failed to claim sources: %w", err)
		return nil, err
	}

	selectArgs := make([]interface{}, 0, len(ids)+1)
	for _, id := range ids {
		selectArgs = append(selectArgs, id)
	}
	selectArgs = append(selectArgs, string(claim))

	rows, err = tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM sources WHERE id IN (%s) AND status = ? ORDER BY fetched_at, id`,
		sourceColumns, placeholders), selectArgs...)
	if err != nil {
		err = fmt.Errorf("failed to read back claimed sources: %w", err)
		return nil, err
	}
	defer closeQuietly(rows)

	for rows.Next() {
		s, scanErr := scanSource(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan claimed source: %w", scanErr)
			return nil, err
		}
		claimed = append(claimed, *s)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("error iterating claimed sources: %w", err)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		if isTransactionConflict(err) {
			logging.Debug().Str("input", string(input)).Msg("Claim commit lost write-write conflict")
			return nil, nil
		}
		err = fmt.Errorf("failed to commit claim: %w", err)
		return nil, err
	}

	return claimed, nil
}

// UpdateSourceStatus moves a source along the state machine with a
// conditional UPDATE. The transition is validated first; a zero-row update
// returns ErrStaleClaim.
func (db *DB) UpdateSourceStatus(ctx context.Context, id int64, from, to models.SourceStatus) error {
	if _, err := from.Transition(to); err != nil {
		return err
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE sources SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update source %d status: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("source %d not in state %q: %w", id, from, ErrStaleClaim)
	}
	return nil
}

// CompleteClassification writes the classifier verdict and routes the source
// to ready-for-download (violent) or discarded. The row must still be in the
// classifying claim state.
func (db *DB) CompleteClassification(ctx context.Context, id int64, cls *models.Classification) error {
	next := models.StatusDiscarded
	if cls.IsViolentDeath {
		next = models.StatusReadyForDownload
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE sources
		 SET status = ?, is_violent_death = ?, confidence = ?, reasoning = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(next), cls.IsViolentDeath, string(cls.Confidence), cls.Reasoning,
		time.Now().UTC(), id, string(models.StatusClassifying))
	if err != nil {
		return fmt.Errorf("failed to store classification for source %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("source %d not in state %q: %w", id, models.StatusClassifying, ErrStaleClaim)
	}
	return nil
}

// CompleteDownload stores the article text and routes the source to
// ready-for-extraction. resolvedURL and publishedAt update their columns
// only when non-nil: the downloader may have resolved a link or found a
// better document date than the feed's.
func (db *DB) CompleteDownload(ctx context.Context, id int64, content string, resolvedURL *string, publishedAt *time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE sources
		 SET status = ?, content = ?,
		     resolved_url = COALESCE(?, resolved_url),
		     published_at = COALESCE(?, published_at),
		     updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(models.StatusReadyForExtraction), content, resolvedURL, publishedAt,
		time.Now().UTC(), id, string(models.StatusDownloading))
	if err != nil {
		return fmt.Errorf("failed to store content for source %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("source %d not in state %q: %w", id, models.StatusDownloading, ErrStaleClaim)
	}
	return nil
}

// failureClaims maps each terminal failure state to the claim state it is
// reachable from.
var failureClaims = map[models.SourceStatus]models.SourceStatus{
	models.StatusFailedInDownload:   models.StatusDownloading,
	models.StatusFailedInExtraction: models.StatusExtracting,
}

// FailSource marks a claimed source terminally failed and stores the
// failure reason. Only the failed-in-download and failed-in-extraction
// terminals are reachable this way.
func (db *DB) FailSource(ctx context.Context, id int64, to models.SourceStatus, message string) error {
	from, ok := failureClaims[to]
	if !ok {
		return fmt.Errorf("status %q is not a failure terminal", to)
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE sources SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), message, time.Now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to mark source %d failed: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("source %d not in state %q: %w", id, from, ErrStaleClaim)
	}
	return nil
}

// ReleaseSource returns a claimed source to its input state. This is the
// retryable-error path: the row becomes claimable again on the next pass.
func (db *DB) ReleaseSource(ctx context.Context, id int64, claim models.SourceStatus) error {
	input, ok := claim.InputState()
	if !ok {
		return fmt.Errorf("status %q is not a claim state", claim)
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE sources SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(input), time.Now().UTC(), id, string(claim))
	if err != nil {
		return fmt.Errorf("failed to release source %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("source %d not in state %q: %w", id, claim, ErrStaleClaim)
	}
	return nil
}

// ReleaseStaleClaims returns every source stuck in a claim state longer
// than olderThan to its input state. Only the janitor calls this; workers
// never silently revert claims.
func (db *DB) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	cutoff := time.Now().UTC().Add(-olderThan)
	var released int64

	for _, claim := range models.AllSourceStatuses {
		if !claim.Claiming() {
			continue
		}
		input, _ := claim.InputState()

		result, err := db.conn.ExecContext(ctx,
			`UPDATE sources SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
			string(input), time.Now().UTC(), string(claim), cutoff)
		if err != nil {
			return released, fmt.Errorf("failed to release stale %s claims: %w", claim, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return released, fmt.Errorf("failed to get rows affected: %w", err)
		}
		released += rowsAffected
	}

	return released, nil
}

// GetSourceByID retrieves a single source.
func (db *DB) GetSourceByID(ctx context.Context, id int64) (*models.Source, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM sources WHERE id = ?`, sourceColumns), id)

	s, err := scanSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get source %d: %w", id, err)
	}
	return s, nil
}

// SourceFilter narrows GetSources. Zero values mean no filter.
type SourceFilter struct {
	Status string
	Limit  int
	Offset int
}

// GetSources lists sources for the read API, newest first, with the total
// row count for pagination.
func (db *DB) GetSources(ctx context.Context, f SourceFilter) ([]models.Source, int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where := ""
	args := []interface{}{}
	if f.Status != "" {
		where = " WHERE status = ?"
		args = append(args, f.Status)
	}

	var total int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sources: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM sources%s ORDER BY fetched_at DESC, id DESC LIMIT ? OFFSET ?`,
		sourceColumns, where)
	args = append(args, f.Limit, f.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query sources: %w", err)
	}
	defer closeQuietly(rows)

	var sources []models.Source
	for rows.Next() {
		s, scanErr := scanSource(rows)
		if scanErr != nil {
			return nil, 0, fmt.Errorf("failed to scan source: %w", scanErr)
		}
		sources = append(sources, *s)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating sources: %w", err)
	}

	return sources, total, nil
}

// CountSourcesByStatus returns per-state row counts for the stats endpoint.
// States with no rows are present with a zero count.
func (db *DB) CountSourcesByStatus(ctx context.Context) (map[models.SourceStatus]int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	counts := make(map[models.SourceStatus]int64, len(models.AllSourceStatuses))
	for _, s := range models.AllSourceStatuses {
		counts[s] = 0
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM sources GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sources by status: %w", err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[models.SourceStatus(status)] = count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	return counts, nil
}

// LastFetchedAt returns the timestamp of the most recent feed ingestion,
// or nil when the sources table is empty.
func (db *DB) LastFetchedAt(ctx context.Context) (*time.Time, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var last *time.Time
	err := db.conn.QueryRowContext(ctx, `SELECT MAX(fetched_at) FROM sources`).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to get last fetch time: %w", err)
	}
	return last, nil
}

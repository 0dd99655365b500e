// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vigia-news/vigia/internal/config"
	"github.com/vigia-news/vigia/internal/models"
)

// testDBSemaphore limits concurrent database creation to prevent resource
// exhaustion in CI. Too many concurrent DuckDB CGO calls can cause hangs, so
// database creation is fully serialized.
var testDBSemaphore = make(chan struct{}, 1)

// testDBMutex serializes the New() call itself.
var testDBMutex sync.Mutex

// setupTestDB creates a new in-memory test database with timeout protection.
// Uses a 120-second timeout to fail fast if DuckDB hangs during connection
// instead of eating the whole test deadline.
//
// The semaphore is held for the ENTIRE test lifecycle, not just DB creation:
// DuckDB CGO calls can hang when multiple connections operate concurrently
// under CI resource pressure. t.Cleanup releases it when the test completes.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
	}

	type result struct {
		db  *DB
		err error
	}

	resultCh := make(chan result, 1)
	go func() {
		testDBMutex.Lock()
		db, err := New(cfg)
		testDBMutex.Unlock()
		resultCh <- result{db: db, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Failed to create test database: %v", res.err)
		}
		return res.db
	case <-time.After(120 * time.Second):
		t.Fatalf("Timeout: database creation took longer than 120s (DuckDB may be under resource pressure)")
		return nil
	}
}

// --- fixture helpers ---

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func timePtr(t time.Time) *time.Time { return &t }

// newTestSource returns a minimal valid feed entry.
func newTestSource(feedID string) *models.Source {
	return &models.Source{
		FeedID:   feedID,
		FeedURL:  "https://news.example.com/rss/articles/" + feedID,
		Headline: "Homem é morto a tiros em Fortaleza",
		Query:    `"assassinado" Fortaleza`,
	}
}

// insertSourceInState inserts one source and force-sets its status, skipping
// the state machine. Returns the assigned row ID.
func insertSourceInState(t *testing.T, db *DB, feedID string, status models.SourceStatus) int64 {
	t.Helper()

	_, _, err := db.InsertSources(context.Background(), []*models.Source{newTestSource(feedID)})
	checkNoError(t, err)

	if status != models.StatusReadyForClassification {
		_, err = db.conn.Exec(`UPDATE sources SET status = ? WHERE feed_id = ?`, string(status), feedID)
		checkNoError(t, err)
	}

	var id int64
	checkNoError(t, db.conn.QueryRow(`SELECT id FROM sources WHERE feed_id = ?`, feedID).Scan(&id))
	return id
}

// newTestRawEvent returns a minimal valid extraction for the given source.
func newTestRawEvent(sourceID int64, eventDate *time.Time) *models.RawEvent {
	return &models.RawEvent{
		SourceID:          sourceID,
		EventDate:         eventDate,
		City:              strPtr("Fortaleza"),
		State:             strPtr("Ceará"),
		VictimCount:       1,
		HomicideType:      strPtr("Homicídio"),
		Title:             "Homem morto a tiros no bairro Messejana",
		Description:       "Um homem foi morto a tiros na noite de sexta-feira.",
		ExtractionModel:   "test-extractor",
		ExtractionSuccess: true,
	}
}

// insertRawEventForSource creates a source in the extracting state and
// attaches a raw event to it, the way the extraction stage does.
func insertRawEventForSource(t *testing.T, db *DB, feedID string, eventDate *time.Time) *models.RawEvent {
	t.Helper()

	sourceID := insertSourceInState(t, db, feedID, models.StatusExtracting)
	re := newTestRawEvent(sourceID, eventDate)
	checkNoError(t, db.InsertRawEvent(context.Background(), re))
	return re
}

// newTestUniqueEvent returns a minimal canonical incident.
func newTestUniqueEvent(title string, eventDate time.Time) *models.UniqueEvent {
	return &models.UniqueEvent{
		HomicideType:    strPtr("Homicídio"),
		EventDate:       timePtr(eventDate),
		City:            strPtr("Fortaleza"),
		State:           strPtr("Ceará"),
		VictimCount:     1,
		Title:           title,
		Description:     "Descrição consolidada do caso.",
		NeedsEnrichment: true,
	}
}

// --- connection-level tests ---

func TestNew_InMemory(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	checkNoError(t, db.Ping(context.Background()))
	if db.Conn() == nil {
		t.Fatal("Conn() should not be nil")
	}
}

func TestNew_CreatesSchema(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	for _, table := range []string{"sources", "raw_events", "unique_events", "city_stats"} {
		var count int
		err := db.conn.QueryRow(
			`SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?`, table).Scan(&count)
		checkNoError(t, err)
		if count != 1 {
			t.Errorf("table %s: expected 1 definition, got %d", table, count)
		}
	}
}

func TestCheckpoint(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	checkNoError(t, db.Checkpoint(context.Background()))
}

func TestPrepared_CachesStatements(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	const query = `SELECT COUNT(*) FROM sources`
	first, err := db.prepared(context.Background(), query)
	checkNoError(t, err)
	second, err := db.prepared(context.Background(), query)
	checkNoError(t, err)

	if first != second {
		t.Error("prepared() should return the cached statement on the second call")
	}
}

func TestClose(t *testing.T) {
	db := setupTestDB(t)

	checkNoError(t, db.Close())
	if err := db.Ping(context.Background()); err == nil {
		t.Error("Ping should fail after Close")
	}
}

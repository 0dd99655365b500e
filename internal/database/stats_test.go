// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package database

import (
	"context"
	"testing"
	"time"

	"github.com/vigia-news/vigia/internal/models"
)

func TestGetPipelineStats_Empty(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	stats, err := db.GetPipelineStats(context.Background())
	checkNoError(t, err)

	checkInt64Equal(t, "sources total", stats.Sources.Total, 0)
	checkIntEqual(t, "source buckets", len(stats.Sources.ByStatus), len(models.AllSourceStatuses))
	checkInt64Equal(t, "raw events total", stats.RawEvents.Total, 0)
	checkIntEqual(t, "dedup buckets", len(stats.RawEvents.ByDedupState), 3)
	checkInt64Equal(t, "unique events total", stats.UniqueEvents.Total, 0)
	checkInt64Equal(t, "tracked cities", stats.Feed.TrackedCities, 0)
	if stats.Feed.LastFetchedAt != nil {
		t.Errorf("last_fetched_at should be nil on empty table, got %v", stats.Feed.LastFetchedAt)
	}
	if stats.GeneratedAt.IsZero() {
		t.Error("generated_at should be stamped")
	}
}

func TestGetPipelineStats_Counts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	insertSourceInState(t, db, "feed-stats-ready", models.StatusReadyForClassification)
	insertSourceInState(t, db, "feed-stats-discarded", models.StatusDiscarded)

	eventDate := time.Date(2026, 3, 28, 0, 0, 0, 0, time.UTC)
	re := insertRawEventForSource(t, db, "feed-stats-extracted", &eventDate)

	ue := newTestUniqueEvent("Caso agregado", eventDate)
	checkNoError(t, db.InsertUniqueEvent(ctx, ue))
	checkNoError(t, db.LinkRawEvent(ctx, re.ID, ue.ID, models.DedupMatched))

	_, err := db.conn.Exec(
		`UPDATE unique_events SET confirmed = true, latitude = -3.73, longitude = -38.52 WHERE id = ?`, ue.ID)
	checkNoError(t, err)

	_, err = db.RecordPollResult(ctx, "Fortaleza", 100, true, 1)
	checkNoError(t, err)
	_, err = db.RecordPollResult(ctx, "Sobral", 9, false, 1)
	checkNoError(t, err)

	stats, err := db.GetPipelineStats(ctx)
	checkNoError(t, err)

	checkInt64Equal(t, "sources total", stats.Sources.Total, 3)
	checkInt64Equal(t, "ready", stats.Sources.ByStatus[string(models.StatusReadyForClassification)], 1)
	checkInt64Equal(t, "discarded", stats.Sources.ByStatus[string(models.StatusDiscarded)], 1)
	checkInt64Equal(t, "extracted", stats.Sources.ByStatus[string(models.StatusExtracted)], 1)

	checkInt64Equal(t, "raw total", stats.RawEvents.Total, 1)
	checkInt64Equal(t, "matched", stats.RawEvents.ByDedupState[string(models.DedupMatched)], 1)

	checkInt64Equal(t, "unique total", stats.UniqueEvents.Total, 1)
	checkInt64Equal(t, "confirmed", stats.UniqueEvents.Confirmed, 1)
	checkInt64Equal(t, "needs enrichment", stats.UniqueEvents.NeedsEnrichment, 1)
	checkInt64Equal(t, "geocoded", stats.UniqueEvents.Geocoded, 1)

	checkInt64Equal(t, "tracked cities", stats.Feed.TrackedCities, 2)
	checkInt64Equal(t, "sharded cities", stats.Feed.ShardedCities, 1)
	if stats.Feed.LastFetchedAt == nil {
		t.Error("last_fetched_at should be set once sources exist")
	}
}

// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vigia-news/vigia/internal/models"
)

func marchDay(d int) time.Time {
	return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
}

func TestInsertUniqueEvent_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	ue := newTestUniqueEvent("Duplo homicídio no Centro", marchDay(4))
	ue.VictimCount = 2
	ue.Neighborhood = strPtr("Centro")
	checkNoError(t, db.InsertUniqueEvent(ctx, ue))
	if ue.ID == 0 {
		t.Fatal("insert should assign an ID")
	}

	got, err := db.GetUniqueEventByID(ctx, ue.ID)
	checkNoError(t, err)
	checkStringEqual(t, "title", got.Title, "Duplo homicídio no Centro")
	checkIntEqual(t, "victim_count", got.VictimCount, 2)
	checkIntEqual(t, "source_count", got.SourceCount, 0)
	checkBoolEqual(t, "needs_enrichment", got.NeedsEnrichment, true)
	checkBoolEqual(t, "confirmed", got.Confirmed, false)
	if got.EventDate == nil || !got.EventDate.Equal(marchDay(4)) {
		t.Errorf("event_date: got %v", got.EventDate)
	}
	if got.Latitude != nil {
		t.Error("latitude should start null")
	}
}

func TestGetUniqueEventByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.GetUniqueEventByID(context.Background(), 424242)
	checkErrorIs(t, err, ErrNotFound)
}

func TestGetUniqueEvents_Filters(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	fortalezaOld := newTestUniqueEvent("Caso Fortaleza antigo", marchDay(1))
	caucaia := newTestUniqueEvent("Caso Caucaia", marchDay(5))
	caucaia.City = strPtr("Caucaia")
	fortalezaNew := newTestUniqueEvent("Caso Fortaleza recente", marchDay(10))

	for _, ue := range []*models.UniqueEvent{fortalezaOld, caucaia, fortalezaNew} {
		checkNoError(t, db.InsertUniqueEvent(ctx, ue))
	}
	_, err := db.conn.Exec(`UPDATE unique_events SET confirmed = true WHERE id = ?`, fortalezaNew.ID)
	checkNoError(t, err)

	t.Run("city filter is case-insensitive, newest first", func(t *testing.T) {
		events, total, err := db.GetUniqueEvents(ctx, UniqueEventFilter{City: "fortaleza", Limit: 10})
		checkNoError(t, err)
		checkInt64Equal(t, "total", total, 2)
		checkSliceLen(t, "events", len(events), 2)
		checkStringEqual(t, "newest", events[0].Title, "Caso Fortaleza recente")
	})

	t.Run("date range", func(t *testing.T) {
		from := marchDay(4)
		events, total, err := db.GetUniqueEvents(ctx, UniqueEventFilter{From: &from, Limit: 10})
		checkNoError(t, err)
		checkInt64Equal(t, "total from", total, 2)
		checkSliceLen(t, "events", len(events), 2)

		to := marchDay(4)
		events, total, err = db.GetUniqueEvents(ctx, UniqueEventFilter{To: &to, Limit: 10})
		checkNoError(t, err)
		checkInt64Equal(t, "total to", total, 1)
		checkStringEqual(t, "oldest", events[0].Title, "Caso Fortaleza antigo")
	})

	t.Run("confirmed filter", func(t *testing.T) {
		confirmed := true
		events, total, err := db.GetUniqueEvents(ctx, UniqueEventFilter{Confirmed: &confirmed, Limit: 10})
		checkNoError(t, err)
		checkInt64Equal(t, "total", total, 1)
		checkInt64Equal(t, "id", events[0].ID, fortalezaNew.ID)
	})

	t.Run("pagination keeps total", func(t *testing.T) {
		events, total, err := db.GetUniqueEvents(ctx, UniqueEventFilter{Limit: 2, Offset: 2})
		checkNoError(t, err)
		checkInt64Equal(t, "total", total, 3)
		checkSliceLen(t, "page", len(events), 1)
	})
}

func TestMaxUniqueEventID(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	maxID, err := db.MaxUniqueEventID(ctx)
	checkNoError(t, err)
	checkInt64Equal(t, "empty table", maxID, 0)

	ue := newTestUniqueEvent("Caso para snapshot", marchDay(2))
	checkNoError(t, db.InsertUniqueEvent(ctx, ue))

	maxID, err = db.MaxUniqueEventID(ctx)
	checkNoError(t, err)
	checkInt64Equal(t, "after insert", maxID, ue.ID)
}

func TestCandidateUniqueEvents_BlockingWindow(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	byDay := make(map[int]int64)
	for _, d := range []int{13, 14, 15, 16, 17} {
		ue := newTestUniqueEvent("Caso do dia", marchDay(d))
		checkNoError(t, db.InsertUniqueEvent(ctx, ue))
		byDay[d] = ue.ID
	}
	snapshot, err := db.MaxUniqueEventID(ctx)
	checkNoError(t, err)

	// Created after the snapshot: same day, must not be a candidate.
	late := newTestUniqueEvent("Caso criado durante a rodada", marchDay(15))
	checkNoError(t, db.InsertUniqueEvent(ctx, late))

	candidates, err := db.CandidateUniqueEvents(ctx, marchDay(15), 1, snapshot, 10)
	checkNoError(t, err)
	checkSliceLen(t, "candidates", len(candidates), 3)
	for i, wantDay := range []int{14, 15, 16} {
		checkInt64Equal(t, "candidate id", candidates[i].ID, byDay[wantDay])
	}

	t.Run("cap", func(t *testing.T) {
		candidates, err := db.CandidateUniqueEvents(ctx, marchDay(15), 1, snapshot, 2)
		checkNoError(t, err)
		checkSliceLen(t, "capped", len(candidates), 2)
		checkInt64Equal(t, "first", candidates[0].ID, byDay[14])
	})

	t.Run("zero tolerance", func(t *testing.T) {
		candidates, err := db.CandidateUniqueEvents(ctx, marchDay(15), 0, snapshot, 10)
		checkNoError(t, err)
		checkSliceLen(t, "same day only", len(candidates), 1)
		checkInt64Equal(t, "id", candidates[0].ID, byDay[15])
	})
}

func TestApplyEnrichment_OverwritesWholesale(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	ue := newTestUniqueEvent("Título provisório", marchDay(20))
	checkNoError(t, db.InsertUniqueEvent(ctx, ue))

	enr := &models.EnrichmentResult{
		Title:                 "Consolidado: dois mortos em Messejana",
		Description:           "Síntese de duas fontes independentes.",
		HomicideType:          "Homicídio",
		Method:                strPtr("arma de fogo"),
		EventDate:             strPtr("2026-03-20"),
		DatePrecision:         strPtr(models.DatePrecisionExact),
		TimeOfDay:             strPtr("noite"),
		Country:               strPtr("Brasil"),
		State:                 strPtr("Ceará"),
		City:                  strPtr("Fortaleza"),
		Neighborhood:          strPtr("Messejana"),
		VictimCount:           2,
		IdentifiedVictimCount: 1,
		VictimSummary:         strPtr("João da Silva, 34; segundo homem não identificado"),
		PerpetratorCount:      intPtr(2),
		AdditionalContext:     strPtr("Possível ligação com disputa local."),
		Reasoning:             "Campos consolidados a partir das duas extrações.",
	}
	geo := &models.GeocodeResult{
		Latitude:         -3.8277,
		Longitude:        -38.4952,
		FormattedAddress: strPtr("Messejana, Fortaleza - CE, Brasil"),
		Precision:        models.GeocodeNeighborhoodCenter,
		Source:           "google",
		Confidence:       0.85,
	}

	checkNoError(t, db.ApplyEnrichment(ctx, ue.ID, enr, geo, "test-enricher", strPtr(`{"fontes":2}`)))

	got, err := db.GetUniqueEventByID(ctx, ue.ID)
	checkNoError(t, err)
	checkStringEqual(t, "title", got.Title, "Consolidado: dois mortos em Messejana")
	checkIntEqual(t, "victim_count", got.VictimCount, 2)
	checkBoolEqual(t, "needs_enrichment", got.NeedsEnrichment, false)
	if got.EventDate == nil || !got.EventDate.Equal(marchDay(20)) {
		t.Errorf("event_date: got %v", got.EventDate)
	}
	if got.Latitude == nil || *got.Latitude != -3.8277 {
		t.Errorf("latitude: got %v", got.Latitude)
	}
	if got.GeocodePrecision == nil || *got.GeocodePrecision != models.GeocodeNeighborhoodCenter {
		t.Errorf("geocode_precision: got %v", got.GeocodePrecision)
	}
	if got.LastEnrichedAt == nil {
		t.Error("last_enriched_at should be stamped")
	}
	if got.EnrichmentModel == nil || *got.EnrichmentModel != "test-enricher" {
		t.Errorf("enrichment_model: got %v", got.EnrichmentModel)
	}
	if got.MergedData == nil || *got.MergedData != `{"fontes":2}` {
		t.Errorf("merged_data: got %v", got.MergedData)
	}

	t.Run("explicit nulls retract earlier values", func(t *testing.T) {
		retraction := &models.EnrichmentResult{
			Title:        "Versão corrigida após retratação",
			Description:  "A data informada inicialmente não se sustentou.",
			HomicideType: "Morte a esclarecer",
			VictimCount:  1,
			Reasoning:    "Fonte mais recente nega a data anterior.",
		}
		checkNoError(t, db.ApplyEnrichment(ctx, ue.ID, retraction, nil, "test-enricher", nil))

		got, err := db.GetUniqueEventByID(ctx, ue.ID)
		checkNoError(t, err)
		checkStringEqual(t, "title", got.Title, "Versão corrigida após retratação")
		if got.EventDate != nil {
			t.Errorf("event_date should be retracted to null, got %v", got.EventDate)
		}
		if got.Method != nil || got.Neighborhood != nil {
			t.Error("nulled fields should overwrite earlier values")
		}
		if got.Latitude != nil || got.GeocodeSource != nil {
			t.Error("geocode columns should be cleared when no geocode accompanies the rewrite")
		}
	})
}

func TestApplyEnrichment_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	enr := &models.EnrichmentResult{Title: "x", Description: "y", HomicideType: "Homicídio", VictimCount: 1}
	err := db.ApplyEnrichment(context.Background(), 424242, enr, nil, "test-enricher", nil)
	checkErrorIs(t, err, ErrNotFound)
}

func TestMergeUniqueEvents(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	eventDate := marchDay(22)

	keeper := newTestUniqueEvent("Caso principal", eventDate)
	checkNoError(t, db.InsertUniqueEvent(ctx, keeper))
	for _, feedID := range []string{"feed-merge-k1", "feed-merge-k2"} {
		re := insertRawEventForSource(t, db, feedID, &eventDate)
		checkNoError(t, db.LinkRawEvent(ctx, re.ID, keeper.ID, models.DedupMatched))
	}

	loser := newTestUniqueEvent("Mesmo caso, registro duplicado", eventDate)
	checkNoError(t, db.InsertUniqueEvent(ctx, loser))
	loserRaw := insertRawEventForSource(t, db, "feed-merge-l1", &eventDate)
	checkNoError(t, db.LinkRawEvent(ctx, loserRaw.ID, loser.ID, models.DedupClustered))

	checkNoError(t, db.MergeUniqueEvents(ctx, keeper.ID, loser.ID))

	gotKeeper, err := db.GetUniqueEventByID(ctx, keeper.ID)
	checkNoError(t, err)
	checkIntEqual(t, "keeper source_count", gotKeeper.SourceCount, 3)
	checkBoolEqual(t, "keeper needs_enrichment", gotKeeper.NeedsEnrichment, true)

	_, err = db.GetUniqueEventByID(ctx, loser.ID)
	checkErrorIs(t, err, ErrNotFound)

	gotRaw, err := db.GetRawEventByID(ctx, loserRaw.ID)
	checkNoError(t, err)
	if gotRaw.UniqueEventID == nil || *gotRaw.UniqueEventID != keeper.ID {
		t.Errorf("loser's raw event should re-parent to keeper, got %v", gotRaw.UniqueEventID)
	}

	t.Run("self merge rejected", func(t *testing.T) {
		checkError(t, db.MergeUniqueEvents(ctx, keeper.ID, keeper.ID))
	})

	t.Run("missing loser", func(t *testing.T) {
		err := db.MergeUniqueEvents(ctx, keeper.ID, 999999)
		checkErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing keeper rolls back re-parenting", func(t *testing.T) {
		other := newTestUniqueEvent("Caso intocado", eventDate)
		checkNoError(t, db.InsertUniqueEvent(ctx, other))
		otherRaw := insertRawEventForSource(t, db, "feed-merge-o1", &eventDate)
		checkNoError(t, db.LinkRawEvent(ctx, otherRaw.ID, other.ID, models.DedupMatched))

		err := db.MergeUniqueEvents(ctx, 999999, other.ID)
		checkErrorIs(t, err, ErrNotFound)

		gotRaw, err := db.GetRawEventByID(ctx, otherRaw.ID)
		checkNoError(t, err)
		if gotRaw.UniqueEventID == nil || *gotRaw.UniqueEventID != other.ID {
			t.Errorf("failed merge must not move raw events, got %v", gotRaw.UniqueEventID)
		}
	})
}

func TestUniqueEventsNeedingEnrichment(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		ue := newTestUniqueEvent("Caso pendente", marchDay(24))
		checkNoError(t, db.InsertUniqueEvent(ctx, ue))
		ids = append(ids, ue.ID)
	}
	_, err := db.conn.Exec(`UPDATE unique_events SET needs_enrichment = false WHERE id = ?`, ids[1])
	checkNoError(t, err)

	pending, err := db.UniqueEventsNeedingEnrichment(ctx, 10)
	checkNoError(t, err)
	checkSliceLen(t, "pending", len(pending), 2)
	for _, id := range pending {
		if id == ids[1] {
			t.Error("cleared event should not appear in the enrichment queue")
		}
	}

	capped, err := db.UniqueEventsNeedingEnrichment(ctx, 1)
	checkNoError(t, err)
	checkSliceLen(t, "capped", len(capped), 1)
}

func TestUniqueEventsInWindow(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	for _, d := range []int{1, 5, 10} {
		ue := newTestUniqueEvent("Caso na janela", marchDay(d))
		checkNoError(t, db.InsertUniqueEvent(ctx, ue))
	}

	events, err := db.UniqueEventsInWindow(ctx, marchDay(4))
	checkNoError(t, err)
	checkSliceLen(t, "window", len(events), 2)
	if !events[0].EventDate.Equal(marchDay(5)) || !events[1].EventDate.Equal(marchDay(10)) {
		t.Errorf("window order: got %v then %v", events[0].EventDate, events[1].EventDate)
	}
}

func TestForEachUniqueEvent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	var want []int64
	for i := 0; i < 3; i++ {
		ue := newTestUniqueEvent("Caso exportado", marchDay(26))
		checkNoError(t, db.InsertUniqueEvent(ctx, ue))
		want = append(want, ue.ID)
	}

	var got []int64
	err := db.ForEachUniqueEvent(ctx, func(ue *models.UniqueEvent) error {
		got = append(got, ue.ID)
		return nil
	})
	checkNoError(t, err)
	checkSliceLen(t, "streamed", len(got), 3)
	for i := range want {
		checkInt64Equal(t, "id order", got[i], want[i])
	}

	t.Run("callback error aborts", func(t *testing.T) {
		abort := errors.New("stop here")
		var seen int
		err := db.ForEachUniqueEvent(ctx, func(*models.UniqueEvent) error {
			seen++
			return abort
		})
		checkErrorIs(t, err, abort)
		checkIntEqual(t, "seen before abort", seen, 1)
	})
}

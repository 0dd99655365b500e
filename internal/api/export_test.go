// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package api

import (
	"encoding/csv"
	"net/http"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/vigia-news/vigia/internal/models"
)

func TestExportCSVStreamsCatalogue(t *testing.T) {
	lat, lon := -3.7319, -38.5267
	withComma := catalogueEvent(1, "Homem morto a tiros, suspeito foge")
	withComma.Latitude = &lat
	withComma.Longitude = &lon
	withComma.Confirmed = true

	store := &mockStore{catalogue: []models.UniqueEvent{withComma, catalogueEvent(2, "Adolescente assassinado")}}
	router := newTestRouter(store, &mockPipeline{}, nil, testAPIConfig())

	rr := doRequest(t, router, http.MethodGet, "/api/v1/export/events.csv")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename="events.csv"` {
		t.Errorf("Content-Disposition = %q", cd)
	}

	records, err := csv.NewReader(rr.Body).ReadAll()
	if err != nil {
		t.Fatalf("parsing CSV output: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want header + 2 rows", len(records))
	}

	header := records[0]
	if len(header) != len(csvHeader) {
		t.Fatalf("header has %d columns, want %d", len(header), len(csvHeader))
	}
	if header[0] != "id" || header[1] != "title" {
		t.Errorf("header starts %q %q, want id title", header[0], header[1])
	}

	row := records[1]
	if row[0] != "1" {
		t.Errorf("id column = %q, want 1", row[0])
	}
	// csv.Reader unquotes; a comma surviving in the title proves the
	// writer quoted it.
	if row[1] != "Homem morto a tiros, suspeito foge" {
		t.Errorf("title column = %q, comma was not preserved", row[1])
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	if got := row[cols["event_date"]]; got != "2026-03-14" {
		t.Errorf("event_date column = %q, want 2026-03-14", got)
	}
	if got := row[cols["latitude"]]; got != "-3.7319" {
		t.Errorf("latitude column = %q, want -3.7319", got)
	}
	if got := row[cols["confirmed"]]; got != "true" {
		t.Errorf("confirmed column = %q, want true", got)
	}
	if got := row[cols["city"]]; got != "Fortaleza" {
		t.Errorf("city column = %q, want Fortaleza", got)
	}
}

func TestExportCSVEmptyCatalogue(t *testing.T) {
	router := newTestRouter(&mockStore{}, &mockPipeline{}, nil, testAPIConfig())

	rr := doRequest(t, router, http.MethodGet, "/api/v1/export/events.csv")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	records, err := csv.NewReader(rr.Body).ReadAll()
	if err != nil {
		t.Fatalf("parsing CSV output: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("len(records) = %d, want header only", len(records))
	}
}

func TestExportJSONStreamsArray(t *testing.T) {
	store := &mockStore{catalogue: []models.UniqueEvent{
		catalogueEvent(1, "Homem morto"),
		catalogueEvent(2, "Mulher assassinada"),
		catalogueEvent(3, "Chacina"),
	}}
	router := newTestRouter(store, &mockPipeline{}, nil, testAPIConfig())

	rr := doRequest(t, router, http.MethodGet, "/api/v1/export/events.json")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rr.Code, rr.Body.String())
	}
	if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename="events.json"` {
		t.Errorf("Content-Disposition = %q", cd)
	}

	var events []models.UniqueEvent
	if err := json.Unmarshal(rr.Body.Bytes(), &events); err != nil {
		t.Fatalf("decoding JSON export: %v (body %q)", err, rr.Body.String())
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	for i, want := range []int64{1, 2, 3} {
		if events[i].ID != want {
			t.Errorf("events[%d].ID = %d, want %d", i, events[i].ID, want)
		}
	}
	if events[0].EventDate == nil || !events[0].EventDate.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("events[0].EventDate = %v, want 2026-03-14", events[0].EventDate)
	}
}

func TestExportJSONEmptyCatalogue(t *testing.T) {
	router := newTestRouter(&mockStore{}, &mockPipeline{}, nil, testAPIConfig())

	rr := doRequest(t, router, http.MethodGet, "/api/v1/export/events.json")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %q, want empty array", got)
	}
}

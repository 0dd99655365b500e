// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package api

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/models"
)

// csvHeader is the column order of the catalogue export. Appending new
// columns is safe; reordering breaks downstream consumers.
var csvHeader = []string{
	"id",
	"title",
	"description",
	"homicide_type",
	"method",
	"event_date",
	"date_precision",
	"time_of_day",
	"country",
	"state",
	"city",
	"neighborhood",
	"street",
	"establishment",
	"latitude",
	"longitude",
	"geocode_precision",
	"victim_count",
	"identified_victim_count",
	"perpetrator_count",
	"security_force_involved",
	"source_count",
	"confirmed",
	"needs_enrichment",
	"created_at",
	"updated_at",
}

// ExportEventsCSV handles GET /api/v1/export/events.csv, streaming the
// whole catalogue row by row. A failure mid-stream truncates the
// download; nothing is buffered server-side.
func (h *Handler) ExportEventsCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.csv"`)

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		logging.Error().Err(err).Msg("Failed to write CSV header")
		return
	}

	err := h.db.ForEachUniqueEvent(r.Context(), func(ev *models.UniqueEvent) error {
		return cw.Write(csvRecord(ev))
	})
	if err != nil {
		logging.Error().Err(err).Msg("CSV export aborted")
		return
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		logging.Error().Err(err).Msg("Failed to flush CSV export")
	}
}

// ExportEventsJSON handles GET /api/v1/export/events.json, streaming the
// catalogue as one JSON array without the response envelope.
func (h *Handler) ExportEventsJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.json"`)

	if _, err := w.Write([]byte("[")); err != nil {
		return
	}

	first := true
	err := h.db.ForEachUniqueEvent(r.Context(), func(ev *models.UniqueEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if !first {
			if _, err := w.Write([]byte(",")); err != nil {
				return err
			}
		}
		first = false
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		logging.Error().Err(err).Msg("JSON export aborted")
		return
	}

	if _, err := w.Write([]byte("]")); err != nil {
		logging.Error().Err(err).Msg("Failed to finish JSON export")
	}
}

// csvRecord flattens one incident into the export column order.
func csvRecord(ev *models.UniqueEvent) []string {
	return []string{
		strconv.FormatInt(ev.ID, 10),
		ev.Title,
		ev.Description,
		csvStr(ev.HomicideType),
		csvStr(ev.Method),
		csvDate(ev.EventDate),
		csvStr(ev.DatePrecision),
		csvStr(ev.TimeOfDay),
		csvStr(ev.Country),
		csvStr(ev.State),
		csvStr(ev.City),
		csvStr(ev.Neighborhood),
		csvStr(ev.Street),
		csvStr(ev.Establishment),
		csvFloat(ev.Latitude),
		csvFloat(ev.Longitude),
		csvPrecision(ev.GeocodePrecision),
		strconv.Itoa(ev.VictimCount),
		strconv.Itoa(ev.IdentifiedVictimCount),
		csvInt(ev.PerpetratorCount),
		strconv.FormatBool(ev.SecurityForceInvolved),
		strconv.Itoa(ev.SourceCount),
		strconv.FormatBool(ev.Confirmed),
		strconv.FormatBool(ev.NeedsEnrichment),
		ev.CreatedAt.UTC().Format(time.RFC3339),
		ev.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func csvStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func csvInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func csvFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func csvDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func csvPrecision(p *models.GeocodePrecision) string {
	if p == nil {
		return ""
	}
	return string(*p)
}

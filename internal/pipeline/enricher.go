// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/vigia-news/vigia/internal/eventbus"
	"github.com/vigia-news/vigia/internal/geocoder"
	"github.com/vigia-news/vigia/internal/llm"
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/models"
)

// enrichFlagged is Phase 2 of deduplication: every incident flagged
// needs-enrichment is re-synthesized from the full set of its linked raw
// events. The write-back is authoritative, field by field, explicit nulls
// included; stale values never survive on the strength of being there first.
func (m *Manager) enrichFlagged(ctx context.Context) (stageCounts, error) {
	ids, err := m.store.UniqueEventsNeedingEnrichment(ctx, m.cfg.Dedup.BatchSize)
	if err != nil {
		return stageCounts{}, fmt.Errorf("loading incidents flagged for enrichment: %w", err)
	}
	if len(ids) == 0 {
		return stageCounts{}, nil
	}

	var succeeded, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Dedup.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			ok, err := m.enrichIncident(gctx, id)
			if err != nil {
				return err
			}
			if ok {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	return stageCounts{
		processed: len(ids),
		succeeded: int(succeeded.Load()),
		failed:    int(failed.Load()),
	}, err
}

// enrichIncident synthesizes one incident from all of its evidence. A failed
// synthesis keeps the needs-enrichment flag, so the next run picks the
// incident up again; only the write-back path can clear it.
func (m *Manager) enrichIncident(ctx context.Context, id int64) (bool, error) {
	raws, err := m.store.GetRawEventsByUniqueEvent(ctx, id)
	if err != nil {
		return false, fmt.Errorf("loading raw events of incident %d: %w", id, err)
	}
	if len(raws) == 0 {
		// A flag with no evidence behind it. Leave it visible for
		// investigation instead of clearing it over nothing.
		logging.Warn().Int64("unique_event_id", id).Msg("Incident flagged for enrichment has no raw events")
		return false, nil
	}

	// The store returns gold-standard rows first; the synthesis prompt
	// weighs earlier documents heavier, so that order must be preserved.
	evidence := make([]llm.EvidenceDocument, 0, len(raws))
	for i := range raws {
		doc, err := m.evidenceFrom(ctx, &raws[i])
		if err != nil {
			return false, err
		}
		evidence = append(evidence, doc)
	}

	enriched, err := m.model.EnrichIncident(ctx, evidence)
	if err != nil {
		logging.Warn().Err(err).Int64("unique_event_id", id).Msg("Enrichment failed; flag kept for the next run")
		return false, nil
	}

	geo := m.geocodeLocation(ctx, enriched)

	if err := m.store.ApplyEnrichment(ctx, id, enriched, geo, m.cfg.LLM.EnrichmentModel, mergedEvidence(evidence)); err != nil {
		return false, fmt.Errorf("applying enrichment to incident %d: %w", id, err)
	}

	logging.Debug().
		Int64("unique_event_id", id).
		Int("evidence_docs", len(evidence)).
		Bool("geocoded", geo != nil).
		Msg("Incident enriched")
	m.notifyCatalogue(ctx, eventbus.CatalogueEnriched, id, nil)
	return true, nil
}

// evidenceFrom pairs one raw event's stored payload with its source's
// provenance for the synthesis prompt.
func (m *Manager) evidenceFrom(ctx context.Context, re *models.RawEvent) (llm.EvidenceDocument, error) {
	src, err := m.store.GetSourceByID(ctx, re.SourceID)
	if err != nil {
		return llm.EvidenceDocument{}, fmt.Errorf("loading source %d: %w", re.SourceID, err)
	}

	payload, err := json.Marshal(re.ExtractionData)
	if err != nil {
		return llm.EvidenceDocument{}, fmt.Errorf("encoding extraction payload of raw event %d: %w", re.ID, err)
	}

	return llm.EvidenceDocument{
		Headline:    src.Headline,
		URL:         articleURL(src),
		PublishedAt: src.PublishedAt,
		Payload:     string(payload),
	}, nil
}

// mergedEvidence serializes the synthesis input for storage on the incident.
// Keeping the inputs next to the outputs makes an enrichment reviewable
// without replaying the pipeline. Nil on encoding failure: the column is
// best-effort provenance, not data the pipeline reads back.
func mergedEvidence(evidence []llm.EvidenceDocument) *string {
	data, err := json.Marshal(evidence)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

// geocodeLocation forward-geocodes the post-enrichment location. Nil when
// the capability is off, the incident has no usable address, or the lookup
// fails; enrichment itself never fails over coordinates.
func (m *Manager) geocodeLocation(ctx context.Context, enriched *models.EnrichmentResult) *models.GeocodeResult {
	address := geocoder.AddressFor(
		strValue(enriched.Neighborhood),
		strValue(enriched.City),
		strValue(enriched.State),
	)
	if address == "" {
		return nil
	}

	geo, err := m.geo.Geocode(ctx, address)
	if err != nil {
		logging.Warn().Err(err).Str("address", address).Msg("Geocoding failed")
		return nil
	}
	return geo
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

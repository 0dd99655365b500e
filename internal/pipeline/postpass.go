// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/vigia-news/vigia/internal/eventbus"
	"github.com/vigia-news/vigia/internal/llm"
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/metrics"
	"github.com/vigia-news/vigia/internal/models"
)

// mergeRecent is the post-pass merge sweep. Phase 1a can only match against
// incidents that existed before the run started, so two reports of the same
// crime arriving in one batch produce two incidents; this sweep re-examines
// the recent window and fuses the survivors. Work items are same-day pairs.
func (m *Manager) mergeRecent(ctx context.Context) (stageCounts, error) {
	since := time.Now().UTC().AddDate(0, 0, -m.cfg.Dedup.PostPassWindowDays)
	incidents, err := m.store.UniqueEventsInWindow(ctx, since)
	if err != nil {
		return stageCounts{}, fmt.Errorf("loading the merge window: %w", err)
	}
	if len(incidents) < 2 {
		return stageCounts{}, nil
	}

	var counts stageCounts
	absorbed := make(map[int64]bool)

	// The window arrives ordered by event date, so each incident's same-day
	// peers sit directly after it: scan forward until the day changes.
	for i := range incidents {
		keeper := &incidents[i]
		if absorbed[keeper.ID] {
			continue
		}

		keeperGrew := false
		for j := i + 1; j < len(incidents); j++ {
			loser := &incidents[j]
			if !sameDay(keeper.EventDate, loser.EventDate) {
				break
			}
			if absorbed[loser.ID] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return counts, err
			}

			counts.processed++
			merged, ok, err := m.mergePair(ctx, keeper, loser)
			if err != nil {
				return counts, err
			}
			if ok {
				counts.succeeded++
			} else {
				counts.failed++
			}
			if merged {
				absorbed[loser.ID] = true
				keeperGrew = true
			}
		}

		if keeperGrew {
			// The keeper's evidence set changed; synthesize it again now
			// instead of leaving the seam visible for a full cycle. A
			// failed synthesis keeps the flag, so nothing is lost.
			if _, err := m.enrichIncident(ctx, keeper.ID); err != nil {
				return counts, err
			}
		}
	}

	return counts, nil
}

// mergePair asks the model whether two same-day incidents describe the same
// crime and absorbs loser into keeper on a strictly confident yes. merged
// reports the absorption; ok reports whether a verdict was obtained at all.
func (m *Manager) mergePair(ctx context.Context, keeper, loser *models.UniqueEvent) (merged, ok bool, err error) {
	verdict, err := m.model.MatchIncident(ctx, incidentCard(keeper), []llm.IncidentCard{incidentCard(loser)})
	if err != nil {
		logging.Warn().Err(err).
			Int64("keeper_id", keeper.ID).
			Int64("candidate_id", loser.ID).
			Msg("Merge verdict failed")
		return false, false, nil
	}

	// Strictly greater than the threshold: a merge deletes a row, so the
	// bar sits above the linking one, which accepts equality.
	if !verdict.Match || verdict.Confidence <= m.cfg.Dedup.PostPassThreshold {
		metrics.DedupDecisionsTotal.WithLabelValues("post_pass", "no_match").Inc()
		return false, true, nil
	}

	if err := m.store.MergeUniqueEvents(ctx, keeper.ID, loser.ID); err != nil {
		return false, false, fmt.Errorf("merging incident %d into %d: %w", loser.ID, keeper.ID, err)
	}
	metrics.DedupDecisionsTotal.WithLabelValues("post_pass", "merged").Inc()
	logging.Info().
		Int64("keeper_id", keeper.ID).
		Int64("absorbed_id", loser.ID).
		Float64("confidence", verdict.Confidence).
		Msg("Duplicate incidents merged")

	m.notifyCatalogue(ctx, eventbus.CatalogueMerged, keeper.ID, &loser.ID)
	return true, true, nil
}

// sameDay compares the date components of two optional timestamps.
func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return false
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/vigia-news/vigia/internal/database"
	"github.com/vigia-news/vigia/internal/eventbus"
	"github.com/vigia-news/vigia/internal/llm"
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/metrics"
	"github.com/vigia-news/vigia/internal/models"
)

// matchOutcome classifies one Phase 1a attempt.
type matchOutcome int

const (
	outcomeLinked    matchOutcome = iota // joined an existing incident
	outcomeUnmatched                     // verdict says new incident: queue for clustering
	outcomeFailed                        // no verdict; stays pending for the next run
)

// runDedupe links pending raw events to canonical incidents and keeps the
// catalogue consolidated: match against the existing catalogue, cluster the
// remainder into new incidents, synthesize every flagged incident, then
// sweep the recent window for same-day duplicates that slipped through.
func (m *Manager) runDedupe(ctx context.Context) (stageCounts, error) {
	counts, err := m.linkPending(ctx)
	if err != nil {
		return counts, err
	}

	enriched, err := m.enrichFlagged(ctx)
	counts = counts.plus(enriched)
	if err != nil {
		return counts, err
	}

	merged, err := m.mergeRecent(ctx)
	return counts.plus(merged), err
}

// linkPending is Phase 1 of deduplication. Phase 1a matches each pending
// raw event against a frozen snapshot of the catalogue; Phase 1b clusters
// whatever 1a could not place and creates the new incidents. The snapshot
// keeps parallel matchers from seeing incidents created mid-phase, which
// would make results depend on scheduling order.
func (m *Manager) linkPending(ctx context.Context) (stageCounts, error) {
	pending, err := m.store.PendingRawEvents(ctx, m.cfg.Dedup.BatchSize)
	if err != nil {
		return stageCounts{}, fmt.Errorf("loading pending raw events: %w", err)
	}
	if len(pending) == 0 {
		return stageCounts{}, nil
	}

	snapshot, err := m.store.MaxUniqueEventID(ctx)
	if err != nil {
		return stageCounts{}, fmt.Errorf("snapshotting the catalogue: %w", err)
	}

	var (
		linked, failed atomic.Int32
		unmatchedMu    sync.Mutex
		unmatched      []models.RawEvent
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Dedup.Concurrency)
	for i := range pending {
		re := pending[i]
		g.Go(func() error {
			outcome, err := m.matchAgainstCatalogue(gctx, &re, snapshot)
			if err != nil {
				return err
			}
			switch outcome {
			case outcomeLinked:
				linked.Add(1)
			case outcomeUnmatched:
				unmatchedMu.Lock()
				unmatched = append(unmatched, re)
				unmatchedMu.Unlock()
			case outcomeFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stageCounts{
			processed: len(pending),
			succeeded: int(linked.Load()),
			failed:    int(failed.Load()),
		}, err
	}

	clusterLinked, clusterFailed, err := m.clusterUnmatched(ctx, unmatched)

	return stageCounts{
		processed: len(pending),
		succeeded: int(linked.Load()) + clusterLinked,
		failed:    int(failed.Load()) + clusterFailed,
	}, err
}

// matchAgainstCatalogue runs Phase 1a for one raw event: shortlist
// date-blocked candidates from the snapshot, ask the model, link on a
// confident yes.
func (m *Manager) matchAgainstCatalogue(ctx context.Context, re *models.RawEvent, snapshot int64) (matchOutcome, error) {
	if snapshot == 0 {
		return outcomeUnmatched, nil // empty catalogue
	}

	candidates, err := m.store.CandidateUniqueEvents(ctx, *re.EventDate, m.cfg.Dedup.CandidateWindowDays, snapshot, m.cfg.Dedup.MaxCandidates)
	if err != nil {
		return outcomeFailed, fmt.Errorf("shortlisting candidates for raw event %d: %w", re.ID, err)
	}
	metrics.DedupCandidatesPerEvent.Observe(float64(len(candidates)))
	if len(candidates) == 0 {
		return outcomeUnmatched, nil
	}

	cards := make([]llm.IncidentCard, len(candidates))
	for i := range candidates {
		cards[i] = incidentCard(&candidates[i])
	}

	verdict, err := m.model.MatchIncident(ctx, rawEventCard(re), cards)
	if err != nil {
		// No verdict. The raw event stays pending: clustering it now could
		// split an incident the next matching pass would have joined.
		logging.Warn().Err(err).Int64("raw_event_id", re.ID).Msg("Match verdict failed; raw event stays pending")
		return outcomeFailed, nil
	}

	if !verdict.Match || verdict.Confidence < m.cfg.Dedup.MatchThreshold {
		metrics.DedupDecisionsTotal.WithLabelValues("match", "no_match").Inc()
		return outcomeUnmatched, nil
	}

	if err := m.store.LinkRawEvent(ctx, re.ID, *verdict.IncidentID, models.DedupMatched); err != nil {
		if errors.Is(err, database.ErrStaleClaim) {
			logging.Debug().Int64("raw_event_id", re.ID).Msg("Match dropped: raw event already linked by a concurrent run")
			return outcomeFailed, nil
		}
		return outcomeFailed, fmt.Errorf("linking raw event %d to incident %d: %w", re.ID, *verdict.IncidentID, err)
	}
	metrics.DedupDecisionsTotal.WithLabelValues("match", "matched").Inc()
	logging.Debug().
		Int64("raw_event_id", re.ID).
		Int64("unique_event_id", *verdict.IncidentID).
		Float64("confidence", verdict.Confidence).
		Msg("Raw event matched to existing incident")

	m.notifyCatalogue(ctx, eventbus.CatalogueLinked, *verdict.IncidentID, nil)
	return outcomeLinked, nil
}

// clusterUnmatched is Phase 1b: bucket the leftovers by day and location,
// then turn each bucket into one or more new incidents. Buckets run in
// parallel; within a bucket the work is sequential, so every incident a
// cluster creates exists before the bucket's next cluster is written.
func (m *Manager) clusterUnmatched(ctx context.Context, unmatched []models.RawEvent) (linked, failed int, err error) {
	if len(unmatched) == 0 {
		return 0, 0, nil
	}

	groups := groupByBlockingKey(unmatched)

	var linkedN, failedN atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Dedup.Concurrency)
	for _, group := range groups {
		g.Go(func() error {
			l, f, err := m.clusterGroup(gctx, group)
			linkedN.Add(int32(l))
			failedN.Add(int32(f))
			return err
		})
	}
	err = g.Wait()
	return int(linkedN.Load()), int(failedN.Load()), err
}

// clusterGroup partitions one bucket into incidents and links every member.
// Singleton buckets skip the model. A failed clustering call degrades to one
// incident per raw event: over-splitting is repaired by the merge sweep,
// silently fusing distinct crimes is not.
func (m *Manager) clusterGroup(ctx context.Context, group []models.RawEvent) (linked, failed int, err error) {
	var clusters [][]int
	if len(group) == 1 {
		clusters = [][]int{{1}}
	} else {
		cards := make([]llm.IncidentCard, len(group))
		for i := range group {
			cards[i] = rawEventCard(&group[i])
		}
		result, cErr := m.model.ClusterIncidents(ctx, cards)
		if cErr != nil {
			logging.Warn().Err(cErr).Int("group_size", len(group)).Msg("Clustering failed; falling back to one incident per raw event")
			metrics.DedupDecisionsTotal.WithLabelValues("cluster", "fallback").Inc()
			clusters = singletonClusters(len(group))
		} else {
			metrics.DedupDecisionsTotal.WithLabelValues("cluster", "matched").Inc()
			clusters = result.Clusters
		}
	}

	for _, cluster := range clusters {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return linked, failed, ctxErr
		}
		l, f, cErr := m.createIncident(ctx, group, cluster)
		linked += l
		failed += f
		if cErr != nil {
			return linked, failed, cErr
		}
	}
	return linked, failed, nil
}

// createIncident makes one canonical incident from a cluster (1-based
// indexes into group) and links every member to it.
func (m *Manager) createIncident(ctx context.Context, group []models.RawEvent, cluster []int) (linked, failed int, err error) {
	seed := &group[cluster[0]-1]

	ue := incidentSeed(seed)
	if err := m.store.InsertUniqueEvent(ctx, ue); err != nil {
		return 0, 0, fmt.Errorf("creating incident from raw event %d: %w", seed.ID, err)
	}

	for _, idx := range cluster {
		re := &group[idx-1]
		if err := m.store.LinkRawEvent(ctx, re.ID, ue.ID, models.DedupClustered); err != nil {
			if errors.Is(err, database.ErrStaleClaim) {
				logging.Debug().Int64("raw_event_id", re.ID).Msg("Cluster link dropped: raw event already linked by a concurrent run")
				failed++
				continue
			}
			return linked, failed, fmt.Errorf("linking raw event %d to incident %d: %w", re.ID, ue.ID, err)
		}
		linked++
	}

	logging.Debug().
		Int64("unique_event_id", ue.ID).
		Int("members", linked).
		Msg("Incident created from cluster")
	m.notifyCatalogue(ctx, eventbus.CatalogueCreated, ue.ID, nil)
	return linked, failed, nil
}

// singletonClusters is the fallback partition: every event its own incident.
func singletonClusters(n int) [][]int {
	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i + 1}
	}
	return clusters
}

// incidentSeed projects a raw event onto a new canonical incident. The seed
// only has to be presentable until enrichment rewrites every field from the
// full evidence set.
func incidentSeed(re *models.RawEvent) *models.UniqueEvent {
	return &models.UniqueEvent{
		HomicideType:          re.HomicideType,
		Method:                re.Method,
		EventDate:             re.EventDate,
		DatePrecision:         re.DatePrecision,
		TimeOfDay:             re.TimeOfDay,
		State:                 re.State,
		City:                  re.City,
		Neighborhood:          re.Neighborhood,
		VictimCount:           re.VictimCount,
		IdentifiedVictimCount: re.IdentifiedVictimCount,
		PerpetratorCount:      re.PerpetratorCount,
		SecurityForceInvolved: re.SecurityForceInvolved,
		Title:                 re.Title,
		Description:           re.Description,
		NeedsEnrichment:       true,
	}
}

// groupByBlockingKey buckets raw events by event day plus normalized
// location. Buckets are independent by construction, so map order does not
// matter.
func groupByBlockingKey(events []models.RawEvent) map[string][]models.RawEvent {
	groups := make(map[string][]models.RawEvent)
	for i := range events {
		key := blockingKey(&events[i])
		groups[key] = append(groups[key], events[i])
	}
	return groups
}

// blockingKey is the clustering bucket: the event day plus the most specific
// location granule available, folded so spelling variants of the same place
// collide.
func blockingKey(re *models.RawEvent) string {
	day := re.EventDate.Format("2006-01-02")

	location := ""
	switch {
	case re.Neighborhood != nil && strings.TrimSpace(*re.Neighborhood) != "":
		location = *re.Neighborhood
	case re.City != nil:
		location = *re.City
	}
	return day + "|" + foldLocation(location)
}

// foldLocation lowercases, trims, and strips combining marks, so that
// "São Cristóvão" and "sao cristovao" land in the same bucket.
func foldLocation(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// rawEventCard presents a raw event to the match and cluster prompts.
func rawEventCard(re *models.RawEvent) llm.IncidentCard {
	return llm.IncidentCard{
		ID:           re.ID,
		Title:        re.Title,
		EventDate:    re.EventDate,
		City:         re.City,
		State:        re.State,
		Neighborhood: re.Neighborhood,
		VictimCount:  re.VictimCount,
		Description:  re.Description,
	}
}

// incidentCard presents a canonical incident as a match candidate.
func incidentCard(ue *models.UniqueEvent) llm.IncidentCard {
	return llm.IncidentCard{
		ID:           ue.ID,
		Title:        ue.Title,
		EventDate:    ue.EventDate,
		City:         ue.City,
		State:        ue.State,
		Neighborhood: ue.Neighborhood,
		VictimCount:  ue.VictimCount,
		Description:  ue.Description,
	}
}

// notifyCatalogue publishes a catalogue change with a fresh read of the
// incident. Publish failures only cost live-feed consumers, never the
// pipeline work that caused them.
func (m *Manager) notifyCatalogue(ctx context.Context, kind eventbus.CatalogueKind, uniqueEventID int64, mergedFromID *int64) {
	incident, err := m.store.GetUniqueEventByID(ctx, uniqueEventID)
	if err != nil {
		logging.Warn().Err(err).Int64("unique_event_id", uniqueEventID).Msg("Catalogue notification skipped")
		return
	}
	if err := m.bus.PublishCatalogueChange(kind, incident, mergedFromID); err != nil {
		logging.Warn().Err(err).Int64("unique_event_id", uniqueEventID).Msg("Catalogue publish failed")
	}
}

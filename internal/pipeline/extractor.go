// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vigia-news/vigia/internal/database"
	"github.com/vigia-news/vigia/internal/llm"
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/models"
)

// runExtraction claims downloaded sources and runs the structured extraction
// model over each article. A payload that stays schema-invalid through the
// client's retry budget is terminal; transport trouble releases the claim.
func (m *Manager) runExtraction(ctx context.Context) (stageCounts, error) {
	sources, err := m.store.ClaimSources(ctx, models.StatusReadyForExtraction, m.cfg.Pipeline.ExtractionBatchSize)
	if err != nil {
		return stageCounts{}, fmt.Errorf("claiming sources for extraction: %w", err)
	}
	if len(sources) == 0 {
		return stageCounts{}, nil
	}

	var succeeded, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Pipeline.ExtractionConcurrency)
	for i := range sources {
		src := &sources[i]
		g.Go(func() error {
			ok, err := m.extractSource(gctx, src)
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
		processed: len(sources),
		succeeded: int(succeeded.Load()),
		failed:    int(failed.Load()),
	}, err
}

// extractSource turns one claimed source into a RawEvent. The insert also
// flips the source to extracted, in one transaction, so a success here needs
// no follow-up status write.
func (m *Manager) extractSource(ctx context.Context, src *models.Source) (bool, error) {
	if src.Content == nil || *src.Content == "" {
		// Rows only reach ready-for-extraction through a successful
		// download. An empty body here is corrupt state, not bad input.
		return false, fmt.Errorf("source %d reached extraction with no content", src.ID)
	}

	extraction, err := m.model.ExtractArticle(ctx, llm.ArticleInput{
		Headline:    src.Headline,
		URL:         articleURL(src),
		PublishedAt: src.PublishedAt,
		Text:        *src.Content,
	})
	if err != nil {
		if llm.IsSchemaViolation(err) {
			// The model cannot produce a valid payload for this article.
			// Terminal, with the violation stored for review.
			if ferr := m.store.FailSource(ctx, src.ID, models.StatusFailedInExtraction, err.Error()); ferr != nil {
				if errors.Is(ferr, database.ErrStaleClaim) {
					return false, nil
				}
				return false, fmt.Errorf("failing source %d in extraction: %w", src.ID, ferr)
			}
			logging.Warn().Err(err).Int64("source_id", src.ID).Msg("Extraction failed terminally on schema violations")
			return false, nil
		}
		logging.Warn().Err(err).Int64("source_id", src.ID).Msg("Extraction failed; claim released")
		m.releaseClaim(src.ID, models.StatusExtracting)
		return false, nil
	}

	re := rawEventFrom(src, extraction, m.cfg.LLM.ExtractionModel)
	if err := m.store.InsertRawEvent(ctx, re); err != nil {
		if errors.Is(err, database.ErrStaleClaim) {
			logging.Warn().Int64("source_id", src.ID).Msg("Extraction dropped: claim was taken over")
			return false, nil
		}
		return false, fmt.Errorf("storing raw event for source %d: %w", src.ID, err)
	}

	logging.Debug().
		Int64("source_id", src.ID).
		Int64("raw_event_id", re.ID).
		Bool("has_event_date", re.EventDate != nil).
		Int("victim_count", re.VictimCount).
		Msg("Article extracted")
	return true, nil
}

// rawEventFrom denormalizes an extraction payload into the RawEvent row for
// one source. The copied columns are the subset the dedup blocking queries
// and the read API touch; ExtractionData stays authoritative.
func rawEventFrom(src *models.Source, ex *models.Extraction, modelID string) *models.RawEvent {
	homicideType := ex.HomicideDynamic.HomicideType

	var perpetratorCount *int
	if ex.Perpetrators != nil {
		perpetratorCount = ex.Perpetrators.NumberOfPerpetrators
	}

	return &models.RawEvent{
		SourceID:              src.ID,
		DedupState:            models.DedupPending,
		EventDate:             ex.EventDate(),
		DatePrecision:         ex.DateTime.DatePrecision,
		TimeOfDay:             ex.DateTime.TimeOfDay,
		City:                  ex.LocationInfo.City,
		State:                 ex.LocationInfo.State,
		Neighborhood:          ex.LocationInfo.Neighborhood,
		VictimCount:           ex.Victims.NumberOfVictims,
		IdentifiedVictimCount: ex.Victims.NumberOfIdentifiableVictims,
		PerpetratorCount:      perpetratorCount,
		SecurityForceInvolved: ex.SecurityForceInvolved(),
		HomicideType:          &homicideType,
		Method:                ex.HomicideDynamic.Method,
		Title:                 ex.HomicideDynamic.Title,
		Description:           ex.HomicideDynamic.ChronologicalDescription,
		ExtractionData:        ex,
		ExtractionModel:       modelID,
		ExtractionSuccess:     true,
	}
}

// articleURL prefers the decoded publisher link over the aggregator one.
func articleURL(src *models.Source) string {
	if src.ResolvedURL != nil {
		return *src.ResolvedURL
	}
	return src.FeedURL
}

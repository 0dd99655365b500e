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
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/models"
)

// runClassification claims a batch of fresh sources and asks the triage
// model about each headline. The verdict routes the row to ready-for-download
// or discarded; transport failures release the claim for the next run.
func (m *Manager) runClassification(ctx context.Context) (stageCounts, error) {
	sources, err := m.store.ClaimSources(ctx, models.StatusReadyForClassification, m.cfg.Pipeline.ClassificationBatchSize)
	if err != nil {
		return stageCounts{}, fmt.Errorf("claiming sources for classification: %w", err)
	}
	if len(sources) == 0 {
		return stageCounts{}, nil
	}

	var succeeded, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Pipeline.ClassificationConcurrency)
	for i := range sources {
		src := &sources[i]
		g.Go(func() error {
			ok, err := m.classifySource(gctx, src)
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

// classifySource handles one claimed source. The bool reports whether the
// item completed; false means the claim was released or overtaken. A non-nil
// error is an internal failure and aborts the stage.
func (m *Manager) classifySource(ctx context.Context, src *models.Source) (bool, error) {
	cls, err := m.model.ClassifyHeadline(ctx, src.Headline)
	if err != nil {
		// Retry budget spent or breaker open. The headline is untouched,
		// so the row just goes back in the pool.
		logging.Warn().Err(err).Int64("source_id", src.ID).Msg("Headline classification failed; claim released")
		m.releaseClaim(src.ID, models.StatusClassifying)
		return false, nil
	}

	if err := m.store.CompleteClassification(ctx, src.ID, cls); err != nil {
		if errors.Is(err, database.ErrStaleClaim) {
			logging.Warn().Int64("source_id", src.ID).Msg("Classification dropped: claim was taken over")
			return false, nil
		}
		return false, fmt.Errorf("storing classification for source %d: %w", src.ID, err)
	}

	logging.Debug().
		Int64("source_id", src.ID).
		Bool("is_violent_death", cls.IsViolentDeath).
		Str("confidence", string(cls.Confidence)).
		Msg("Headline classified")
	return true, nil
}

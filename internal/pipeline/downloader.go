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

// runDownload claims classified sources and fetches each publisher page.
// A page that yields no article body is a permanent upstream failure and
// lands in failed-in-download; only cancellation releases the claim instead.
func (m *Manager) runDownload(ctx context.Context) (stageCounts, error) {
	sources, err := m.store.ClaimSources(ctx, models.StatusReadyForDownload, m.cfg.Pipeline.DownloadBatchSize)
	if err != nil {
		return stageCounts{}, fmt.Errorf("claiming sources for download: %w", err)
	}
	if len(sources) == 0 {
		return stageCounts{}, nil
	}

	var succeeded, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Pipeline.DownloadConcurrency)
	for i := range sources {
		src := &sources[i]
		g.Go(func() error {
			ok, err := m.downloadSource(gctx, src)
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

// downloadSource fetches the page behind one claimed source. Rows the
// ingestion pass could not decode get a second resolution attempt here
// before falling back to the aggregator link.
func (m *Manager) downloadSource(ctx context.Context, src *models.Source) (bool, error) {
	resolved := src.ResolvedURL
	if resolved == nil {
		resolved = m.resolver.Resolve(ctx, src.FeedURL)
	}

	pageURL := src.FeedURL
	if resolved != nil {
		pageURL = *resolved
	}

	article := m.articles.Extract(ctx, pageURL, src.PublishedAt)
	if article == nil {
		if ctx.Err() != nil {
			// Cancelled mid-fetch, not a verdict on the page.
			m.releaseClaim(src.ID, models.StatusDownloading)
			return false, nil
		}
		if err := m.store.FailSource(ctx, src.ID, models.StatusFailedInDownload, "no extractable article body"); err != nil {
			if errors.Is(err, database.ErrStaleClaim) {
				return false, nil
			}
			return false, fmt.Errorf("failing source %d in download: %w", src.ID, err)
		}
		logging.Debug().Int64("source_id", src.ID).Str("url", pageURL).Msg("Download failed terminally")
		return false, nil
	}

	// Only a resolution made during this run is worth writing back.
	var newResolved *string
	if src.ResolvedURL == nil && resolved != nil {
		newResolved = resolved
	}

	if err := m.store.CompleteDownload(ctx, src.ID, article.Text, newResolved, article.PublishedAt); err != nil {
		if errors.Is(err, database.ErrStaleClaim) {
			logging.Warn().Int64("source_id", src.ID).Msg("Download dropped: claim was taken over")
			return false, nil
		}
		return false, fmt.Errorf("storing download for source %d: %w", src.ID, err)
	}

	logging.Debug().
		Int64("source_id", src.ID).
		Int("content_chars", len(article.Text)).
		Msg("Article downloaded")
	return true, nil
}

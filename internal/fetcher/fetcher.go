// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

// Package fetcher polls the news aggregator's RSS search feeds and turns
// entries into Sources awaiting classification.
//
// Every configured query template is crossed with every locality; a poll
// whose result count reaches the shard threshold counts against the
// locality, and a locality that caps twice has its queries re-issued per
// publisher domain so the capped response stops hiding results. Inserts are
// idempotent on the feed-assigned entry ID, so overlapping queries and
// repeated polls are harmless.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed/rss"
	"golang.org/x/time/rate"

	"github.com/vigia-news/vigia/internal/config"
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/metrics"
	"github.com/vigia-news/vigia/internal/models"
)

// shardLatchPolls is how many capped polls a locality takes before the
// needs-sharding flag latches: the first cap can be a news spike, the
// second is a pattern.
const shardLatchPolls = 2

// maxFeedBytes bounds one RSS response read.
const maxFeedBytes = 4 << 20 // 4 MiB

// globalLocality labels polls of queries that are not bound to a city.
const globalLocality = "global"

// Store is the persistence surface the fetcher needs.
type Store interface {
	InsertSources(ctx context.Context, sources []*models.Source) (inserted, duplicates int, err error)
	RecordPollResult(ctx context.Context, city string, resultCount int, hitLimit bool, shardThreshold int) (*models.CityStats, error)
	ShardedCities(ctx context.Context) (map[string]bool, error)
}

// URLResolver resolves an aggregator redirect link to the publisher URL,
// returning nil when resolution fails.
type URLResolver interface {
	Resolve(ctx context.Context, rawURL string) *string
}

// Fetcher polls the aggregator feeds. Safe for concurrent use, though polls
// are serialized by the politeness limiters anyway.
type Fetcher struct {
	cfg      *config.FeedConfig
	store    Store
	resolver URLResolver
	client   *http.Client

	// perMinute caps the global request rate; spacing enforces the minimum
	// gap between consecutive requests. Both gates apply to every poll.
	perMinute *rate.Limiter
	spacing   *rate.Limiter
}

// New creates a fetcher from configuration.
func New(cfg *config.FeedConfig, store Store, res URLResolver) *Fetcher {
	perMinute := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		perMinute = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}

	return &Fetcher{
		cfg:      cfg,
		store:    store,
		resolver: res,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		perMinute: rate.NewLimiter(perMinute, 1),
		spacing:   rate.NewLimiter(rate.Every(cfg.RequestInterval), 1),
	}
}

// Result summarizes one ingestion cycle.
type Result struct {
	Polls      int `json:"polls"`
	Failed     int `json:"failed"`
	Items      int `json:"items"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
}

// Run executes one full ingestion cycle: every query template against every
// locality, plus the standalone queries. Individual poll failures are
// logged and counted, not returned; only setup failures and cancellation
// abort the cycle.
func (f *Fetcher) Run(ctx context.Context) (Result, error) {
	var res Result

	// Sharded localities are reported up front; the per-poll latch decision
	// rides on RecordPollResult's return instead.
	sharded, err := f.store.ShardedCities(ctx)
	if err != nil {
		return res, fmt.Errorf("loading sharded localities: %w", err)
	}
	metrics.FeedShardedLocalities.Set(float64(len(sharded)))

	cityTemplates, globalQueries := partitionTemplates(f.cfg.Queries)

	for _, city := range f.cfg.Cities {
		for _, tpl := range cityTemplates {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			f.pollLocality(ctx, expandQuery(tpl, city), city, &res)
		}
	}

	for _, query := range globalQueries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		f.pollQuery(ctx, query, globalLocality, &res)
	}

	logging.Info().
		Int("polls", res.Polls).
		Int("failed", res.Failed).
		Int("items", res.Items).
		Int("inserted", res.Inserted).
		Int("duplicates", res.Duplicates).
		Msg("Feed ingestion cycle finished")

	return res, nil
}

// pollLocality polls one query for one city, records the result against the
// city's sharding counters, and re-issues the query per publisher domain
// when the locality needs sharding.
func (f *Fetcher) pollLocality(ctx context.Context, query, city string, res *Result) {
	count, err := f.pollQuery(ctx, query, city, res)
	if err != nil {
		return
	}

	hitLimit := count >= f.cfg.ShardThreshold
	stats, err := f.store.RecordPollResult(ctx, city, count, hitLimit, shardLatchPolls)
	if err != nil {
		logging.Error().Err(err).Str("city", city).Msg("Recording poll result failed")
		return
	}

	if !stats.NeedsSharding || len(f.cfg.PublisherDomains) == 0 {
		return
	}
	for _, domain := range f.cfg.PublisherDomains {
		if ctx.Err() != nil {
			return
		}
		f.pollQuery(ctx, shardQuery(query, domain), city, res)
	}
}

// pollQuery performs one feed request and inserts whatever it yields.
func (f *Fetcher) pollQuery(ctx context.Context, query, locality string, res *Result) (int, error) {
	items, err := f.fetchFeed(ctx, query)
	res.Polls++
	metrics.RecordFeedPoll(locality, len(items), len(items) >= f.cfg.ShardThreshold, err)
	if err != nil {
		res.Failed++
		logging.Warn().Err(err).Str("query", query).Msg("Feed poll failed")
		return 0, err
	}
	res.Items += len(items)

	sources := f.buildSources(ctx, query, items)
	if len(sources) == 0 {
		return len(items), nil
	}

	inserted, duplicates, err := f.store.InsertSources(ctx, sources)
	if err != nil {
		res.Failed++
		logging.Error().Err(err).Str("query", query).Msg("Inserting sources failed")
		return len(items), err
	}
	res.Inserted += inserted
	res.Duplicates += duplicates

	logging.Debug().
		Str("query", query).
		Int("items", len(items)).
		Int("inserted", inserted).
		Msg("Feed poll completed")

	return len(items), nil
}

// fetchFeed performs the rate-limited HTTP request and parses the RSS body.
func (f *Fetcher) fetchFeed(ctx context.Context, query string) ([]*rss.Item, error) {
	if err := f.perMinute.Wait(ctx); err != nil {
		return nil, err
	}
	if err := f.spacing.Wait(ctx); err != nil {
		return nil, err
	}

	feedURL, err := searchURL(f.cfg, query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building feed request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	// The rss parser keeps per-parse state, so each poll gets a fresh one.
	parser := &rss.Parser{}
	feed, err := parser.Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	return feed.Items, nil
}

// buildSources converts feed items into Sources ready for classification.
// The redirect link is resolved inline; resolution failure leaves the
// resolved URL null for the downloader's feed-URL fallback.
func (f *Fetcher) buildSources(ctx context.Context, query string, items []*rss.Item) []*models.Source {
	now := time.Now().UTC()
	sources := make([]*models.Source, 0, len(items))

	for _, item := range items {
		if item == nil || item.Link == "" || strings.TrimSpace(item.Title) == "" {
			continue
		}

		feedID := item.Link
		if item.GUID != nil && item.GUID.Value != "" {
			feedID = item.GUID.Value
		}

		headline, publisher := splitHeadline(item.Title)
		var publisherURL *string
		if item.Source != nil {
			// The source tag is authoritative for the publisher; the title
			// suffix only has to match it to be stripped from the headline.
			if item.Source.Title != "" {
				publisher = item.Source.Title
				if trimmed := strings.TrimSuffix(item.Title, " - "+item.Source.Title); trimmed != item.Title {
					headline = strings.TrimSpace(trimmed)
				}
			}
			if item.Source.URL != "" {
				publisherURL = &item.Source.URL
			}
		}
		if headline == "" {
			continue
		}

		var publisherPtr *string
		if publisher != "" {
			publisherPtr = &publisher
		}

		var publishedAt *time.Time
		if item.PubDateParsed != nil {
			utc := item.PubDateParsed.UTC()
			publishedAt = &utc
		}

		sources = append(sources, &models.Source{
			FeedID:       feedID,
			FeedURL:      item.Link,
			ResolvedURL:  f.resolver.Resolve(ctx, item.Link),
			Headline:     headline,
			Publisher:    publisherPtr,
			PublisherURL: publisherURL,
			PublishedAt:  publishedAt,
			Query:        query,
			FetchedAt:    now,
			UpdatedAt:    now,
			Status:       models.StatusReadyForClassification,
		})
	}
	return sources
}

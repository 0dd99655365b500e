// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package pipeline

import (
	"context"
	"time"

	"github.com/vigia-news/vigia/internal/content"
	"github.com/vigia-news/vigia/internal/eventbus"
	"github.com/vigia-news/vigia/internal/fetcher"
	"github.com/vigia-news/vigia/internal/llm"
	"github.com/vigia-news/vigia/internal/models"
)

// Store is the persistence surface the pipeline stages need. Implemented by
// *database.DB; the claim methods carry the atomicity guarantees the stages
// rely on (conditional UPDATEs that fail with database.ErrStaleClaim instead
// of overwriting another worker's state).
type Store interface {
	// Source lifecycle
	ClaimSources(ctx context.Context, input models.SourceStatus, limit int) ([]models.Source, error)
	CompleteClassification(ctx context.Context, id int64, cls *models.Classification) error
	CompleteDownload(ctx context.Context, id int64, content string, resolvedURL *string, publishedAt *time.Time) error
	FailSource(ctx context.Context, id int64, to models.SourceStatus, message string) error
	ReleaseSource(ctx context.Context, id int64, claim models.SourceStatus) error
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error)
	GetSourceByID(ctx context.Context, id int64) (*models.Source, error)

	// Raw events
	InsertRawEvent(ctx context.Context, re *models.RawEvent) error
	PendingRawEvents(ctx context.Context, limit int) ([]models.RawEvent, error)
	LinkRawEvent(ctx context.Context, rawEventID, uniqueEventID int64, state models.DedupState) error
	GetRawEventsByUniqueEvent(ctx context.Context, uniqueEventID int64) ([]models.RawEvent, error)

	// Canonical incidents
	InsertUniqueEvent(ctx context.Context, ue *models.UniqueEvent) error
	GetUniqueEventByID(ctx context.Context, id int64) (*models.UniqueEvent, error)
	MaxUniqueEventID(ctx context.Context) (int64, error)
	CandidateUniqueEvents(ctx context.Context, eventDate time.Time, toleranceDays int, snapshotMaxID int64, maxCandidates int) ([]models.UniqueEvent, error)
	UniqueEventsNeedingEnrichment(ctx context.Context, limit int) ([]int64, error)
	UniqueEventsInWindow(ctx context.Context, since time.Time) ([]models.UniqueEvent, error)
	ApplyEnrichment(ctx context.Context, id int64, enr *models.EnrichmentResult, geo *models.GeocodeResult, modelID string, mergedData *string) error
	MergeUniqueEvents(ctx context.Context, keeperID, loserID int64) error
}

// LLM is the language-model surface. Every method returns a payload that
// already passed the client's schema and semantic validation; an error means
// the retry budget is spent or the breaker is open.
type LLM interface {
	ClassifyHeadline(ctx context.Context, headline string) (*models.Classification, error)
	ExtractArticle(ctx context.Context, article llm.ArticleInput) (*models.Extraction, error)
	MatchIncident(ctx context.Context, subject llm.IncidentCard, candidates []llm.IncidentCard) (*models.MatchResult, error)
	ClusterIncidents(ctx context.Context, items []llm.IncidentCard) (*models.ClusterResult, error)
	EnrichIncident(ctx context.Context, evidence []llm.EvidenceDocument) (*models.EnrichmentResult, error)
}

// ArticleFetcher pulls the main text of a publisher page. A nil Article is
// the extractor's only failure signal; the downloader decides what that
// means for the source row.
type ArticleFetcher interface {
	Extract(ctx context.Context, pageURL string, feedPublishedAt *time.Time) *content.Article
}

// URLResolver decodes an aggregator redirect link, returning nil on failure.
// The downloader retries resolution for rows the ingestion pass could not
// decode.
type URLResolver interface {
	Resolve(ctx context.Context, rawURL string) *string
}

// Geocoder forward-geocodes a textual address. geocoder.Noop satisfies this
// when the capability is off.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*models.GeocodeResult, error)
}

// Bus publishes pipeline progress for stage chaining and the live feed.
type Bus interface {
	PublishStageResult(result models.StageRunResult) error
	PublishCatalogueChange(kind eventbus.CatalogueKind, incident *models.UniqueEvent, mergedFromID *int64) error
}

// FeedIngester runs one full feed ingestion cycle.
type FeedIngester interface {
	Run(ctx context.Context) (fetcher.Result, error)
}

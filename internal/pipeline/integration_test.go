// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/vigia-news/vigia/internal/config"
	"github.com/vigia-news/vigia/internal/content"
	"github.com/vigia-news/vigia/internal/database"
	"github.com/vigia-news/vigia/internal/geocoder"
	"github.com/vigia-news/vigia/internal/llm"
	"github.com/vigia-news/vigia/internal/models"
)

// openTestStore opens an in-memory database for end-to-end runs. One
// database per test; the heavy CGO guards live in the database package
// tests, which open many.
func openTestStore(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
	})
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("db.Close() error = %v", err)
		}
	})
	return db
}

// TestPipelineEndToEnd drives every stage in order over a real store: two
// feed entries go in, the classifier discards the policy story, and the
// homicide report comes out the other side as one enriched incident. Only
// the outbound surfaces (feed, model, publisher pages, redirects) are
// scripted.
func TestPipelineEndToEnd(t *testing.T) {
	const (
		aggregatorURL = "https://news.example/rss/articles/CBMiabc123"
		publisherURL  = "https://diario.example/rio/joao-silva-morto-copacabana.html"
		crimeHeadline = "João Silva é morto a tiros em Copacabana - Diário do Rio"
		noiseHeadline = "Governo anuncia nova política de segurança - Agência Brasil"
	)
	articleBody := "João Silva, 32, foi morto a tiros no bairro de Copacabana, " +
		"zona sul do Rio de Janeiro, em 15 de dezembro de 2025. Segundo a " +
		"Polícia Civil, dois homens em uma motocicleta se aproximaram da vítima."

	db := openTestStore(t)
	ctx := context.Background()

	published := day("2025-12-16")
	inserted, duplicates, err := db.InsertSources(ctx, []*models.Source{
		{
			FeedID:      "feed-e2e-crime",
			FeedURL:     aggregatorURL,
			Headline:    crimeHeadline,
			Query:       "homicídio \"Rio de Janeiro\"",
			PublishedAt: timePtr(published),
		},
		{
			FeedID:   "feed-e2e-noise",
			FeedURL:  "https://news.example/rss/articles/CBMidef456",
			Headline: noiseHeadline,
			Query:    "homicídio \"Rio de Janeiro\"",
		},
	})
	if err != nil {
		t.Fatalf("InsertSources() error = %v", err)
	}
	if inserted != 2 || duplicates != 0 {
		t.Fatalf("InsertSources() = (%d, %d), want (2, 0)", inserted, duplicates)
	}

	model := &mockLLM{
		classify: func(headline string) (*models.Classification, error) {
			if strings.Contains(headline, "Governo") {
				return &models.Classification{
					IsViolentDeath: false,
					Confidence:     models.ConfidenceHigh,
					Reasoning:      "anúncio de política pública, sem morte relatada",
				}, nil
			}
			return &models.Classification{
				IsViolentDeath: true,
				Confidence:     models.ConfidenceHigh,
				Reasoning:      "manchete relata morte por arma de fogo",
			}, nil
		},
		extract: func(article llm.ArticleInput) (*models.Extraction, error) {
			if !strings.Contains(article.Text, "Copacabana") {
				return nil, fmt.Errorf("unexpected article reached extraction: %q", article.Text)
			}
			return &models.Extraction{
				LocationInfo: models.LocationInfo{
					Neighborhood: strPtr("Copacabana"),
					City:         strPtr("Rio de Janeiro"),
					State:        strPtr("RJ"),
					Country:      strPtr("Brasil"),
				},
				DateTime: models.DateTimeInfo{
					DateVerification: models.DateVerification{
						HasExplicitDate:         true,
						DateSource:              models.DateSourceExplicit,
						DateTextQuote:           strPtr("em 15 de dezembro de 2025"),
						YearExplicitlyMentioned: true,
						VerificationReasoning:   "data completa no corpo do texto",
					},
					Date:          strPtr("2025-12-15"),
					DatePrecision: strPtr(models.DatePrecisionExact),
				},
				Victims: models.VictimInfo{
					IdentifiableVictims: []models.Victim{
						{Name: strPtr("João Silva"), Age: intPtr(32)},
					},
					NumberOfIdentifiableVictims: 1,
					NumberOfVictims:             1,
				},
				HomicideDynamic: models.HomicideDynamic{
					Title:                    "Homem morto a tiros em Copacabana",
					HomicideType:             "Homicídio",
					Method:                   strPtr("Arma de fogo"),
					ChronologicalDescription: "Vítima abordada por dois homens em uma motocicleta e baleada.",
				},
			}, nil
		},
		enrich: func(evidence []llm.EvidenceDocument) (*models.EnrichmentResult, error) {
			if len(evidence) != 1 {
				t.Errorf("enrichment evidence = %d documents, want 1", len(evidence))
			}
			return &models.EnrichmentResult{
				Title:                 "Homem de 32 anos morto a tiros em Copacabana",
				Description:           "João Silva, 32, foi baleado por dois homens em uma motocicleta.",
				HomicideType:          "Homicídio",
				Method:                strPtr("Arma de fogo"),
				EventDate:             strPtr("2025-12-15"),
				DatePrecision:         strPtr(models.DatePrecisionExact),
				Country:               strPtr("Brasil"),
				State:                 strPtr("RJ"),
				City:                  strPtr("Rio de Janeiro"),
				Neighborhood:          strPtr("Copacabana"),
				VictimCount:           1,
				IdentifiedVictimCount: 1,
				VictimSummary:         strPtr("João Silva, 32 anos"),
				Reasoning:             "evidência única, campos copiados da extração",
			}, nil
		},
	}
	articles := &mockArticles{pages: map[string]*content.Article{
		publisherURL: {
			Text:        articleBody,
			Title:       "João Silva é morto a tiros em Copacabana",
			PublishedAt: timePtr(published),
		},
	}}
	resolver := &mockResolver{resolved: map[string]string{
		aggregatorURL: publisherURL,
	}}

	mgr, err := NewManager(db, model, articles, resolver, geocoder.Noop{}, &mockBus{}, &mockFeed{}, testConfig())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	wantCounts := map[string]stageCounts{
		StageFetch:    {processed: 0, succeeded: 0, failed: 0},
		StageClassify: {processed: 2, succeeded: 2, failed: 0},
		StageDownload: {processed: 1, succeeded: 1, failed: 0},
		StageExtract:  {processed: 1, succeeded: 1, failed: 0},
		StageDedupe:   {processed: 2, succeeded: 2, failed: 0}, // one link + one enrichment
	}
	for _, stage := range Stages {
		result, err := mgr.Trigger(ctx, stage)
		if err != nil {
			t.Fatalf("Trigger(%q) error = %v", stage, err)
		}
		want := wantCounts[stage]
		if result.Processed != want.processed || result.Succeeded != want.succeeded || result.Failed != want.failed {
			t.Fatalf("Trigger(%q) = processed %d, succeeded %d, failed %d; want %d, %d, %d",
				stage, result.Processed, result.Succeeded, result.Failed,
				want.processed, want.succeeded, want.failed)
		}
	}

	// The empty catalogue short-circuits matching, and a bucket of one
	// skips the clustering call.
	if len(model.matchCalls) != 0 {
		t.Errorf("match calls = %d, want 0", len(model.matchCalls))
	}
	if len(model.clusterCalls) != 0 {
		t.Errorf("cluster calls = %d, want 0", len(model.clusterCalls))
	}
	if len(articles.calls) != 1 {
		t.Errorf("page fetches = %d, want 1 (discarded source must never download)", len(articles.calls))
	}

	byStatus, err := db.CountSourcesByStatus(ctx)
	if err != nil {
		t.Fatalf("CountSourcesByStatus() error = %v", err)
	}
	if got := byStatus[models.StatusExtracted]; got != 1 {
		t.Errorf("extracted sources = %d, want 1", got)
	}
	if got := byStatus[models.StatusDiscarded]; got != 1 {
		t.Errorf("discarded sources = %d, want 1", got)
	}

	discarded, _, err := db.GetSources(ctx, database.SourceFilter{Status: string(models.StatusDiscarded), Limit: 10})
	if err != nil {
		t.Fatalf("GetSources(discarded) error = %v", err)
	}
	if len(discarded) != 1 {
		t.Fatalf("discarded sources = %d, want 1", len(discarded))
	}
	if discarded[0].Headline != noiseHeadline {
		t.Errorf("discarded headline = %q, want %q", discarded[0].Headline, noiseHeadline)
	}
	if discarded[0].IsViolentDeath == nil || *discarded[0].IsViolentDeath {
		t.Errorf("discarded IsViolentDeath = %v, want false", discarded[0].IsViolentDeath)
	}

	incidents, total, err := db.GetUniqueEvents(ctx, database.UniqueEventFilter{Limit: 10})
	if err != nil {
		t.Fatalf("GetUniqueEvents() error = %v", err)
	}
	if total != 1 || len(incidents) != 1 {
		t.Fatalf("catalogue = %d incidents (total %d), want 1", len(incidents), total)
	}
	ue := incidents[0]
	if ue.Title != "Homem de 32 anos morto a tiros em Copacabana" {
		t.Errorf("incident title = %q", ue.Title)
	}
	if ue.City == nil || *ue.City != "Rio de Janeiro" {
		t.Errorf("incident city = %v, want Rio de Janeiro", ue.City)
	}
	if ue.Neighborhood == nil || *ue.Neighborhood != "Copacabana" {
		t.Errorf("incident neighborhood = %v, want Copacabana", ue.Neighborhood)
	}
	if ue.HomicideType == nil || *ue.HomicideType != "Homicídio" {
		t.Errorf("incident homicide type = %v, want Homicídio", ue.HomicideType)
	}
	if ue.Method == nil || *ue.Method != "Arma de fogo" {
		t.Errorf("incident method = %v, want Arma de fogo", ue.Method)
	}
	if ue.EventDate == nil || !ue.EventDate.Equal(day("2025-12-15")) {
		t.Errorf("incident event date = %v, want 2025-12-15", ue.EventDate)
	}
	if ue.VictimCount != 1 {
		t.Errorf("incident victim count = %d, want 1", ue.VictimCount)
	}
	if ue.SourceCount != 1 {
		t.Errorf("incident source count = %d, want 1", ue.SourceCount)
	}
	if ue.NeedsEnrichment {
		t.Error("incident still flagged needs-enrichment after the run")
	}
	if ue.LastEnrichedAt == nil {
		t.Error("incident missing last-enriched timestamp")
	}
	if ue.EnrichmentModel == nil || *ue.EnrichmentModel != "enrichment-model" {
		t.Errorf("incident enrichment model = %v, want enrichment-model", ue.EnrichmentModel)
	}
	if ue.Latitude != nil || ue.Longitude != nil {
		t.Errorf("incident has coordinates (%v, %v) with geocoding off", ue.Latitude, ue.Longitude)
	}

	raws, err := db.GetRawEventsByUniqueEvent(ctx, ue.ID)
	if err != nil {
		t.Fatalf("GetRawEventsByUniqueEvent() error = %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("linked raw events = %d, want 1", len(raws))
	}
	raw := raws[0]
	if raw.DedupState != models.DedupClustered {
		t.Errorf("raw event dedup state = %q, want %q", raw.DedupState, models.DedupClustered)
	}
	if raw.UniqueEventID == nil || *raw.UniqueEventID != ue.ID {
		t.Errorf("raw event unique_event_id = %v, want %d", raw.UniqueEventID, ue.ID)
	}
	if raw.EventDate == nil || !raw.EventDate.Equal(day("2025-12-15")) {
		t.Errorf("raw event date = %v, want 2025-12-15", raw.EventDate)
	}

	byState, gold, err := db.CountRawEventsByDedupState(ctx)
	if err != nil {
		t.Fatalf("CountRawEventsByDedupState() error = %v", err)
	}
	var rawTotal int64
	for _, n := range byState {
		rawTotal += n
	}
	if rawTotal != 1 {
		t.Errorf("raw events in store = %d, want 1 (the discarded source must not produce one)", rawTotal)
	}
	if gold != 0 {
		t.Errorf("gold-standard rows = %d, want 0", gold)
	}

	src, err := db.GetSourceByID(ctx, raw.SourceID)
	if err != nil {
		t.Fatalf("GetSourceByID(%d) error = %v", raw.SourceID, err)
	}
	if src.Status != models.StatusExtracted {
		t.Errorf("crime source status = %q, want %q", src.Status, models.StatusExtracted)
	}
	if src.ResolvedURL == nil || *src.ResolvedURL != publisherURL {
		t.Errorf("crime source resolved URL = %v, want %q", src.ResolvedURL, publisherURL)
	}
	if src.Content == nil || !strings.Contains(*src.Content, "João Silva") {
		t.Error("crime source is missing the downloaded article body")
	}
	if src.IsViolentDeath == nil || !*src.IsViolentDeath {
		t.Errorf("crime source IsViolentDeath = %v, want true", src.IsViolentDeath)
	}
}

// TestPipelineEndToEndIsIdempotent re-runs every stage after a completed
// sweep: with no new feed entries the second pass must find no work and
// change nothing.
func TestPipelineEndToEndIsIdempotent(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	if _, _, err := db.InsertSources(ctx, []*models.Source{{
		FeedID:   "feed-e2e-repeat",
		FeedURL:  "https://news.example/rss/articles/CBMIghi789",
		Headline: "Adolescente é morto durante tiroteio em Salvador - Correio",
		Query:    "homicídio Salvador",
	}}); err != nil {
		t.Fatalf("InsertSources() error = %v", err)
	}

	model := &mockLLM{
		classify: func(string) (*models.Classification, error) {
			return &models.Classification{
				IsViolentDeath: true,
				Confidence:     models.ConfidenceHigh,
				Reasoning:      "tiroteio com vítima fatal",
			}, nil
		},
		extract: func(llm.ArticleInput) (*models.Extraction, error) {
			return &models.Extraction{
				LocationInfo: models.LocationInfo{City: strPtr("Salvador"), State: strPtr("BA")},
				DateTime: models.DateTimeInfo{
					DateVerification: models.DateVerification{
						HasExplicitDate:       true,
						DateSource:            models.DateSourceExplicit,
						VerificationReasoning: "data no texto",
					},
					Date: strPtr("2025-11-02"),
				},
				Victims: models.VictimInfo{NumberOfVictims: 1},
				HomicideDynamic: models.HomicideDynamic{
					Title:                    "Adolescente morto em tiroteio",
					HomicideType:             "Homicídio",
					ChronologicalDescription: "Tiroteio em via pública.",
				},
			}, nil
		},
		enrich: func([]llm.EvidenceDocument) (*models.EnrichmentResult, error) {
			return &models.EnrichmentResult{
				Title:        "Adolescente morto em tiroteio em Salvador",
				Description:  "Tiroteio em via pública deixou um morto.",
				HomicideType: "Homicídio",
				EventDate:    strPtr("2025-11-02"),
				City:         strPtr("Salvador"),
				State:        strPtr("BA"),
				VictimCount:  1,
				Reasoning:    "consolidação de fonte única",
			}, nil
		},
	}
	articles := &mockArticles{pages: map[string]*content.Article{
		"https://correio.example/salvador/tiroteio.html": {Text: "Um adolescente foi morto durante um tiroteio em Salvador."},
	}}
	resolver := &mockResolver{resolved: map[string]string{
		"https://news.example/rss/articles/CBMIghi789": "https://correio.example/salvador/tiroteio.html",
	}}

	mgr, err := NewManager(db, model, articles, resolver, geocoder.Noop{}, &mockBus{}, &mockFeed{}, testConfig())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	mgr.RunAll(ctx)

	firstClassify := len(model.classifyCalls)
	firstExtract := len(model.extractCalls)
	firstEnrich := len(model.enrichCalls)

	// Second sweep over the settled store.
	mgr.RunAll(ctx)

	if len(model.classifyCalls) != firstClassify {
		t.Errorf("second sweep classified again: %d calls, want %d", len(model.classifyCalls), firstClassify)
	}
	if len(model.extractCalls) != firstExtract {
		t.Errorf("second sweep extracted again: %d calls, want %d", len(model.extractCalls), firstExtract)
	}
	if len(model.enrichCalls) != firstEnrich {
		t.Errorf("second sweep enriched again: %d calls, want %d", len(model.enrichCalls), firstEnrich)
	}

	_, total, err := db.GetUniqueEvents(ctx, database.UniqueEventFilter{Limit: 10})
	if err != nil {
		t.Fatalf("GetUniqueEvents() error = %v", err)
	}
	if total != 1 {
		t.Errorf("catalogue after two sweeps = %d incidents, want 1", total)
	}

	// Re-ingesting the same feed entry is a silent no-op.
	inserted, duplicates, err := db.InsertSources(ctx, []*models.Source{{
		FeedID:   "feed-e2e-repeat",
		FeedURL:  "https://news.example/rss/articles/CBMIghi789",
		Headline: "Adolescente é morto durante tiroteio em Salvador - Correio",
		Query:    "homicídio Salvador",
	}})
	if err != nil {
		t.Fatalf("InsertSources(repeat) error = %v", err)
	}
	if inserted != 0 || duplicates != 1 {
		t.Errorf("InsertSources(repeat) = (%d, %d), want (0, 1)", inserted, duplicates)
	}
}

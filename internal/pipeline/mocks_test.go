// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vigia-news/vigia/internal/config"
	"github.com/vigia-news/vigia/internal/content"
	"github.com/vigia-news/vigia/internal/eventbus"
	"github.com/vigia-news/vigia/internal/fetcher"
	"github.com/vigia-news/vigia/internal/geocoder"
	"github.com/vigia-news/vigia/internal/llm"
	"github.com/vigia-news/vigia/internal/models"
)

func strPtr(s string) *string { return &s }

func int64Ptr(i int64) *int64 { return &i }

func timePtr(t time.Time) *time.Time { return &t }

func day(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

// testConfig keeps batch sizes and pools small enough that tests stay
// readable while still exercising the concurrent paths.
func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{
			ClassificationModel: "triage-model",
			ExtractionModel:     "extraction-model",
			MatchModel:          "match-model",
			EnrichmentModel:     "enrichment-model",
		},
		Dedup: config.DedupConfig{
			MatchThreshold:      0.8,
			PostPassThreshold:   0.8,
			PostPassWindowDays:  7,
			CandidateWindowDays: 1,
			MaxCandidates:       10,
			Concurrency:         4,
			BatchSize:           50,
		},
		Pipeline: config.PipelineConfig{
			Enabled:                   true,
			Schedule:                  "17 * * * *",
			ClassificationBatchSize:   50,
			DownloadBatchSize:         20,
			ExtractionBatchSize:       20,
			ClassificationConcurrency: 4,
			DownloadConcurrency:       4,
			ExtractionConcurrency:     4,
			JanitorEnabled:            false,
			StaleClaimAfter:           2 * time.Hour,
			StageTimeout:              time.Minute,
		},
	}
}

type testDeps struct {
	store    *mockStore
	model    *mockLLM
	articles *mockArticles
	resolver *mockResolver
	geo      Geocoder
	bus      *mockBus
	feed     *mockFeed
	cfg      *config.Config
}

// newTestManager builds a Manager over the given collaborators, filling in
// inert defaults for any left nil.
func newTestManager(t *testing.T, d testDeps) *Manager {
	t.Helper()
	if d.store == nil {
		d.store = newMockStore()
	}
	if d.model == nil {
		d.model = &mockLLM{}
	}
	if d.articles == nil {
		d.articles = &mockArticles{}
	}
	if d.resolver == nil {
		d.resolver = &mockResolver{}
	}
	if d.geo == nil {
		d.geo = geocoder.Noop{}
	}
	if d.bus == nil {
		d.bus = &mockBus{}
	}
	if d.feed == nil {
		d.feed = &mockFeed{}
	}
	if d.cfg == nil {
		d.cfg = testConfig()
	}

	mgr, err := NewManager(d.store, d.model, d.articles, d.resolver, d.geo, d.bus, d.feed, d.cfg)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr
}

type claimCall struct {
	input models.SourceStatus
	limit int
}

type releaseRecord struct {
	id    int64
	claim models.SourceStatus
}

type failRecord struct {
	id      int64
	to      models.SourceStatus
	message string
}

type downloadRecord struct {
	id          int64
	content     string
	resolvedURL *string
	publishedAt *time.Time
}

type linkRecord struct {
	rawEventID    int64
	uniqueEventID int64
	state         models.DedupState
}

type candidateCall struct {
	eventDate     time.Time
	toleranceDays int
	snapshotMaxID int64
	maxCandidates int
}

type enrichRecord struct {
	id      int64
	enr     *models.EnrichmentResult
	geo     *models.GeocodeResult
	modelID string
	merged  *string
}

type mergeRecord struct {
	keeperID int64
	loserID  int64
}

// mockStore answers the Store interface from in-memory fixtures and records
// every write. Error fields inject failures per method; maps keyed by ID
// scope an injected failure to one row.
type mockStore struct {
	mu sync.Mutex

	// fixtures
	claimable    []models.Source
	sources      map[int64]*models.Source
	pending      []models.RawEvent
	rawsByUnique map[int64][]models.RawEvent
	maxUniqueID  int64
	candidates   []models.UniqueEvent
	candidatesFn func(eventDate time.Time) []models.UniqueEvent
	uniques      map[int64]*models.UniqueEvent
	flagged      []int64
	window       []models.UniqueEvent

	// injected errors
	claimErr      error
	classifyErr   map[int64]error
	downloadErr   map[int64]error
	failErr       map[int64]error
	releaseErr    map[int64]error
	insertRawErr  map[int64]error // keyed by source ID
	linkErr       map[int64]error // keyed by raw event ID
	insertUEErr   error
	maxIDErr      error
	candidatesErr error
	flaggedErr    error
	rawsErr       error
	applyErr      map[int64]error
	mergeErr      error
	staleErr      error
	pendingErr    error

	// recordings
	claims        []claimCall
	classified    map[int64]*models.Classification
	downloads     []downloadRecord
	failures      []failRecord
	releases      []releaseRecord
	staleReleased int64
	staleCalls    int
	insertedRaw   []*models.RawEvent
	links         []linkRecord
	insertedUE    []*models.UniqueEvent
	candCalls     []candidateCall
	rawsCalls     []int64
	applied       []enrichRecord
	merges        []mergeRecord
}

func newMockStore() *mockStore {
	return &mockStore{
		sources:      make(map[int64]*models.Source),
		rawsByUnique: make(map[int64][]models.RawEvent),
		uniques:      make(map[int64]*models.UniqueEvent),
		classified:   make(map[int64]*models.Classification),
	}
}

func (m *mockStore) ClaimSources(_ context.Context, input models.SourceStatus, limit int) ([]models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims = append(m.claims, claimCall{input, limit})
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	out := m.claimable
	m.claimable = nil
	return out, nil
}

func (m *mockStore) CompleteClassification(_ context.Context, id int64, cls *models.Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.classifyErr[id]; err != nil {
		return err
	}
	m.classified[id] = cls
	return nil
}

func (m *mockStore) CompleteDownload(_ context.Context, id int64, body string, resolvedURL *string, publishedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.downloadErr[id]; err != nil {
		return err
	}
	m.downloads = append(m.downloads, downloadRecord{id, body, resolvedURL, publishedAt})
	return nil
}

func (m *mockStore) FailSource(_ context.Context, id int64, to models.SourceStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failErr[id]; err != nil {
		return err
	}
	m.failures = append(m.failures, failRecord{id, to, message})
	return nil
}

func (m *mockStore) ReleaseSource(_ context.Context, id int64, claim models.SourceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.releaseErr[id]; err != nil {
		return err
	}
	m.releases = append(m.releases, releaseRecord{id, claim})
	return nil
}

func (m *mockStore) ReleaseStaleClaims(context.Context, time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleCalls++
	if m.staleErr != nil {
		return 0, m.staleErr
	}
	return m.staleReleased, nil
}

func (m *mockStore) GetSourceByID(_ context.Context, id int64) (*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %d: not found", id)
	}
	return src, nil
}

func (m *mockStore) InsertRawEvent(_ context.Context, re *models.RawEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.insertRawErr[re.SourceID]; err != nil {
		return err
	}
	re.ID = int64(len(m.insertedRaw) + 1)
	m.insertedRaw = append(m.insertedRaw, re)
	return nil
}

func (m *mockStore) PendingRawEvents(context.Context, int) ([]models.RawEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingErr != nil {
		return nil, m.pendingErr
	}
	return m.pending, nil
}

func (m *mockStore) LinkRawEvent(_ context.Context, rawEventID, uniqueEventID int64, state models.DedupState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.linkErr[rawEventID]; err != nil {
		return err
	}
	m.links = append(m.links, linkRecord{rawEventID, uniqueEventID, state})
	return nil
}

func (m *mockStore) GetRawEventsByUniqueEvent(_ context.Context, uniqueEventID int64) ([]models.RawEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawsCalls = append(m.rawsCalls, uniqueEventID)
	if m.rawsErr != nil {
		return nil, m.rawsErr
	}
	return m.rawsByUnique[uniqueEventID], nil
}

func (m *mockStore) InsertUniqueEvent(_ context.Context, ue *models.UniqueEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertUEErr != nil {
		return m.insertUEErr
	}
	ue.ID = m.maxUniqueID + int64(len(m.insertedUE)) + 1
	m.insertedUE = append(m.insertedUE, ue)
	m.uniques[ue.ID] = ue
	return nil
}

func (m *mockStore) GetUniqueEventByID(_ context.Context, id int64) (*models.UniqueEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ue, ok := m.uniques[id]
	if !ok {
		return nil, fmt.Errorf("unique event %d: not found", id)
	}
	return ue, nil
}

func (m *mockStore) MaxUniqueEventID(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxIDErr != nil {
		return 0, m.maxIDErr
	}
	return m.maxUniqueID, nil
}

func (m *mockStore) CandidateUniqueEvents(_ context.Context, eventDate time.Time, toleranceDays int, snapshotMaxID int64, maxCandidates int) ([]models.UniqueEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candCalls = append(m.candCalls, candidateCall{eventDate, toleranceDays, snapshotMaxID, maxCandidates})
	if m.candidatesErr != nil {
		return nil, m.candidatesErr
	}
	if m.candidatesFn != nil {
		return m.candidatesFn(eventDate), nil
	}
	return m.candidates, nil
}

func (m *mockStore) UniqueEventsNeedingEnrichment(context.Context, int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flaggedErr != nil {
		return nil, m.flaggedErr
	}
	out := m.flagged
	m.flagged = nil
	return out, nil
}

func (m *mockStore) UniqueEventsInWindow(context.Context, time.Time) ([]models.UniqueEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.window, nil
}

func (m *mockStore) ApplyEnrichment(_ context.Context, id int64, enr *models.EnrichmentResult, geo *models.GeocodeResult, modelID string, mergedData *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.applyErr[id]; err != nil {
		return err
	}
	m.applied = append(m.applied, enrichRecord{id, enr, geo, modelID, mergedData})
	return nil
}

func (m *mockStore) MergeUniqueEvents(_ context.Context, keeperID, loserID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mergeErr != nil {
		return m.mergeErr
	}
	m.merges = append(m.merges, mergeRecord{keeperID, loserID})
	return nil
}

type matchCall struct {
	subject    llm.IncidentCard
	candidates []llm.IncidentCard
}

// mockLLM scripts each model role through a function field and records the
// calls. An unscripted role answers with an error, which stages treat as a
// spent retry budget.
type mockLLM struct {
	mu sync.Mutex

	classify func(headline string) (*models.Classification, error)
	extract  func(article llm.ArticleInput) (*models.Extraction, error)
	match    func(subject llm.IncidentCard, candidates []llm.IncidentCard) (*models.MatchResult, error)
	cluster  func(items []llm.IncidentCard) (*models.ClusterResult, error)
	enrich   func(evidence []llm.EvidenceDocument) (*models.EnrichmentResult, error)

	classifyCalls []string
	extractCalls  []llm.ArticleInput
	matchCalls    []matchCall
	clusterCalls  [][]llm.IncidentCard
	enrichCalls   [][]llm.EvidenceDocument
}

func (m *mockLLM) ClassifyHeadline(_ context.Context, headline string) (*models.Classification, error) {
	m.mu.Lock()
	m.classifyCalls = append(m.classifyCalls, headline)
	fn := m.classify
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("classification not scripted")
	}
	return fn(headline)
}

func (m *mockLLM) ExtractArticle(_ context.Context, article llm.ArticleInput) (*models.Extraction, error) {
	m.mu.Lock()
	m.extractCalls = append(m.extractCalls, article)
	fn := m.extract
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("extraction not scripted")
	}
	return fn(article)
}

func (m *mockLLM) MatchIncident(_ context.Context, subject llm.IncidentCard, candidates []llm.IncidentCard) (*models.MatchResult, error) {
	m.mu.Lock()
	m.matchCalls = append(m.matchCalls, matchCall{subject, candidates})
	fn := m.match
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("matching not scripted")
	}
	return fn(subject, candidates)
}

func (m *mockLLM) ClusterIncidents(_ context.Context, items []llm.IncidentCard) (*models.ClusterResult, error) {
	m.mu.Lock()
	m.clusterCalls = append(m.clusterCalls, items)
	fn := m.cluster
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("clustering not scripted")
	}
	return fn(items)
}

func (m *mockLLM) EnrichIncident(_ context.Context, evidence []llm.EvidenceDocument) (*models.EnrichmentResult, error) {
	m.mu.Lock()
	m.enrichCalls = append(m.enrichCalls, evidence)
	fn := m.enrich
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("enrichment not scripted")
	}
	return fn(evidence)
}

// mockArticles serves article bodies by page URL; absent URLs fail the way
// the real extractor does, with a nil article.
type mockArticles struct {
	mu    sync.Mutex
	pages map[string]*content.Article
	calls []string
}

func (a *mockArticles) Extract(_ context.Context, pageURL string, _ *time.Time) *content.Article {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, pageURL)
	return a.pages[pageURL]
}

type mockResolver struct {
	mu       sync.Mutex
	resolved map[string]string
	calls    []string
}

func (r *mockResolver) Resolve(_ context.Context, rawURL string) *string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, rawURL)
	if target, ok := r.resolved[rawURL]; ok {
		return &target
	}
	return nil
}

type mockGeocoder struct {
	mu     sync.Mutex
	result *models.GeocodeResult
	err    error
	calls  []string
}

func (g *mockGeocoder) Geocode(_ context.Context, address string) (*models.GeocodeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, address)
	return g.result, g.err
}

type catalogueChange struct {
	kind       eventbus.CatalogueKind
	incidentID int64
	mergedFrom *int64
}

type mockBus struct {
	mu      sync.Mutex
	stages  []models.StageRunResult
	changes []catalogueChange
}

func (b *mockBus) PublishStageResult(result models.StageRunResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stages = append(b.stages, result)
	return nil
}

func (b *mockBus) PublishCatalogueChange(kind eventbus.CatalogueKind, incident *models.UniqueEvent, mergedFromID *int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = append(b.changes, catalogueChange{kind, incident.ID, mergedFromID})
	return nil
}

func (b *mockBus) changesOfKind(kind eventbus.CatalogueKind) []catalogueChange {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []catalogueChange
	for _, c := range b.changes {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type mockFeed struct {
	mu   sync.Mutex
	res  fetcher.Result
	err  error
	runs int
}

func (f *mockFeed) Run(context.Context) (fetcher.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return f.res, f.err
}

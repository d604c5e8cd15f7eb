package indexer

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/reporadar/internal/embeddings"
	"github.com/fyrsmithlabs/reporadar/internal/github"
	"github.com/fyrsmithlabs/reporadar/internal/logging"
	"github.com/fyrsmithlabs/reporadar/internal/repository"
	"github.com/fyrsmithlabs/reporadar/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const testDim = 8

var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type fakeRepo struct {
	meta      repository.Metadata
	readme    string
	languages map[string]float64
	manifests []repository.ManifestEntry
}

// fakeFetcher serves canned repositories keyed by "owner/name".
type fakeFetcher struct {
	mu       sync.Mutex
	repos    map[string]fakeRepo
	errs     map[string]error // keyed by resource: metadata, readme, languages, manifests
	panicOn  string
	panicFor string // "owner/name" that panics on every resource
	metaHits int
}

func newFakeFetcher(repos ...fakeRepo) *fakeFetcher {
	f := &fakeFetcher{repos: make(map[string]fakeRepo), errs: make(map[string]error)}
	for _, r := range repos {
		f.repos[r.meta.FullName] = r
	}
	return f
}

func (f *fakeFetcher) lookup(resource, owner, name string) (fakeRepo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn == resource {
		panic("boom in " + resource)
	}
	if f.panicFor != "" && f.panicFor == owner+"/"+name {
		panic("boom in " + f.panicFor)
	}
	if resource == "metadata" {
		f.metaHits++
	}
	if err := f.errs[resource]; err != nil {
		return fakeRepo{}, err
	}
	r, ok := f.repos[owner+"/"+name]
	if !ok {
		return fakeRepo{}, &github.FetchError{StatusCode: http.StatusNotFound, Resource: "repository " + owner + "/" + name, Err: errors.New("404 Not Found")}
	}
	return r, nil
}

func (f *fakeFetcher) FetchMetadata(_ context.Context, owner, name string) (repository.Metadata, error) {
	r, err := f.lookup("metadata", owner, name)
	return r.meta, err
}

func (f *fakeFetcher) FetchReadme(_ context.Context, owner, name string) (string, bool, error) {
	r, err := f.lookup("readme", owner, name)
	return r.readme, r.readme != "", err
}

func (f *fakeFetcher) FetchLanguages(_ context.Context, owner, name string) (map[string]float64, error) {
	r, err := f.lookup("languages", owner, name)
	return r.languages, err
}

func (f *fakeFetcher) FetchManifests(_ context.Context, owner, name string) ([]repository.ManifestEntry, error) {
	r, err := f.lookup("manifests", owner, name)
	return r.manifests, err
}

type storedRecord struct {
	purpose, stack []float32
	payload        repository.Payload
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu        sync.Mutex
	records   map[uint64]storedRecord
	lookupErr error
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[uint64]storedRecord)}
}

func (s *fakeStore) GetIndexedAt(_ context.Context, id uint64) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	t, ok := r.payload.IndexedTime()
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *fakeStore) Upsert(_ context.Context, id uint64, purpose, stack []float32, p repository.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.records[id] = storedRecord{purpose: purpose, stack: stack, payload: p}
	return nil
}

func (s *fakeStore) seed(id uint64, indexedAt time.Time) {
	s.records[id] = storedRecord{payload: repository.Payload{IndexedAt: indexedAt.Format(time.RFC3339)}}
}

func testRepo() fakeRepo {
	updated := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return fakeRepo{
		meta: repository.Metadata{
			ID:          12345,
			FullName:    "testowner/testrepo",
			URL:         "https://github.com/testowner/testrepo",
			Description: "A test repository",
			Topics:      []string{"python", "testing"},
			Language:    "Python",
			Stars:       100,
			Forks:       10,
			UpdatedAt:   &updated,
		},
		readme:    "# Test Repo\n\nThis is a **test** repository.\n",
		languages: map[string]float64{"Python": 100},
		manifests: []repository.ManifestEntry{{Filename: "requirements.txt", Content: "flask>=2.0\nrequests\n"}},
	}
}

func newPipeline(t *testing.T, fetcher Fetcher, store Store, opts ...Option) (*Pipeline, *embeddings.HashEmbedder) {
	t.Helper()
	emb := embeddings.NewHashEmbedder(testDim)
	opts = append([]Option{WithClock(clock)}, opts...)
	return New(fetcher, emb, store, nil, opts...), emb
}

func TestIndexSingleRepo_EndToEnd(t *testing.T) {
	backend, err := vectorstore.NewChromemBackend(vectorstore.ChromemOptions{Collection: "pipeline_test"}, nil)
	require.NoError(t, err)
	store := vectorstore.NewStore(backend, testDim)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx))
	t.Cleanup(func() { _ = store.Close() })

	p, emb := newPipeline(t, newFakeFetcher(testRepo()), store)

	result := p.IndexSingleRepo(ctx, "testowner", "testrepo", false)
	require.Equal(t, repository.StatusIndexed, result.Status, result.Message)
	assert.Equal(t, int64(12345), result.RepoID)
	assert.Equal(t, "testowner/testrepo", result.FullName)
	assert.Equal(t, "A test repository", result.Description)

	purpose, stack, ok, err := store.GetVectors(ctx, 12345)
	require.NoError(t, err)
	require.True(t, ok)

	wantStack, err := emb.Embed(ctx, "Primary language: Python. Languages: Python 100%. Dependencies: flask, requests.")
	require.NoError(t, err)
	assert.InDeltaSlice(t, wantStack, stack, 1e-5)
	assert.Len(t, purpose, testDim)

	indexedAt, err := store.GetIndexedAt(ctx, 12345)
	require.NoError(t, err)
	require.NotNil(t, indexedAt)
	assert.True(t, indexedAt.Equal(fixedNow))

	results, err := store.SearchSimilar(ctx, vectorstore.SearchQuery{
		Purpose: purpose, Stack: stack, WeightPurpose: 0.7, WeightStack: 0.3, Limit: 5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	got := results[0].Payload
	assert.Equal(t, "testowner/testrepo", got.FullName)
	assert.Equal(t, []string{"python", "testing"}, got.Topics)
	assert.Equal(t, "Python", got.LanguagePrimary)
	assert.Equal(t, 100, got.Stars)
	assert.Equal(t, "2024-05-01T00:00:00Z", got.LastUpdated)
	assert.Equal(t, "2024-06-15T12:00:00Z", got.IndexedAt)
}

func TestIndexSingleRepo_Staleness(t *testing.T) {
	tests := []struct {
		name       string
		indexedAgo time.Duration
		force      bool
		want       repository.IndexStatus
	}{
		{name: "fresh record is skipped", indexedAgo: 24 * time.Hour, want: repository.StatusSkipped},
		{name: "force overrides freshness", indexedAgo: 24 * time.Hour, force: true, want: repository.StatusIndexed},
		{name: "stale record is re-indexed", indexedAgo: 8 * 24 * time.Hour, want: repository.StatusIndexed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.seed(12345, fixedNow.Add(-tt.indexedAgo))
			p, emb := newPipeline(t, newFakeFetcher(testRepo()), store)

			result := p.IndexSingleRepo(context.Background(), "testowner", "testrepo", tt.force)
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, int64(12345), result.RepoID)

			if tt.want == repository.StatusSkipped {
				assert.Equal(t, repository.SkippedMessage, result.Message)
				assert.Equal(t, "A test repository", result.Description)
				assert.Zero(t, emb.Calls())
			} else {
				assert.Equal(t, 2, emb.Calls())
			}
		})
	}
}

func TestIndexSingleRepo_StalenessCheckErrorsAreIgnored(t *testing.T) {
	store := newFakeStore()
	store.lookupErr = errors.New("store offline")
	tl := logging.NewTestLogger()
	emb := embeddings.NewHashEmbedder(testDim)
	p := New(newFakeFetcher(testRepo()), emb, store, tl.Logger, WithClock(clock))

	// Lookups fail but writes still work, so the run completes.
	result := p.IndexSingleRepo(context.Background(), "testowner", "testrepo", false)
	assert.Equal(t, repository.StatusIndexed, result.Status)
	tl.AssertLogged(t, zapcore.DebugLevel, "staleness check")
}

func TestIndexSingleRepo_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeFetcher, *fakeStore, *embeddings.HashEmbedder)
		owner   string
		opts    []Option
		wantMsg string
	}{
		{
			name:    "repository not found",
			owner:   "ghost",
			wantMsg: "Repository not found. Check the URL and make sure the repo is public.",
		},
		{
			name: "rate limited while fetching languages",
			setup: func(f *fakeFetcher, _ *fakeStore, _ *embeddings.HashEmbedder) {
				f.errs["languages"] = &github.FetchError{StatusCode: http.StatusForbidden, Resource: "languages", Err: errors.New("forbidden")}
			},
			wantMsg: "GitHub API rate limit exceeded or access denied.",
		},
		{
			name: "transport error",
			setup: func(f *fakeFetcher, _ *fakeStore, _ *embeddings.HashEmbedder) {
				f.errs["readme"] = errors.New("connection reset")
			},
			wantMsg: "connection reset",
		},
		{
			name: "malformed manifest",
			setup: func(f *fakeFetcher, _ *fakeStore, _ *embeddings.HashEmbedder) {
				r := f.repos["testowner/testrepo"]
				r.manifests = append(r.manifests, repository.ManifestEntry{Filename: "package.json", Content: "{not json"})
				f.repos["testowner/testrepo"] = r
			},
			wantMsg: "package.json",
		},
		{
			name: "embedding failure",
			setup: func(_ *fakeFetcher, _ *fakeStore, e *embeddings.HashEmbedder) {
				e.FailWith(errors.New("model unavailable"))
			},
			wantMsg: "model unavailable",
		},
		{
			name: "store failure",
			setup: func(_ *fakeFetcher, s *fakeStore, _ *embeddings.HashEmbedder) {
				s.upsertErr = errors.New("disk full")
			},
			wantMsg: "disk full",
		},
		{
			name: "panic is recovered",
			setup: func(f *fakeFetcher, _ *fakeStore, _ *embeddings.HashEmbedder) {
				f.panicOn = "manifests"
			},
			wantMsg: "boom in manifests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher, store := newFakeFetcher(testRepo()), newFakeStore()
			emb := embeddings.NewHashEmbedder(testDim)
			if tt.setup != nil {
				tt.setup(fetcher, store, emb)
			}
			owner := tt.owner
			if owner == "" {
				owner = "testowner"
			}
			p := New(fetcher, emb, store, nil, append([]Option{WithClock(clock)}, tt.opts...)...)

			result := p.IndexSingleRepo(context.Background(), owner, "testrepo", true)
			assert.Equal(t, repository.StatusFailed, result.Status)
			assert.Zero(t, result.RepoID)
			assert.Equal(t, owner+"/testrepo", result.FullName)
			assert.Contains(t, result.Message, tt.wantMsg)
			assert.Empty(t, store.records)
		})
	}
}

// blockingFetcher holds FetchReadme open until its context is cancelled.
type blockingFetcher struct {
	*fakeFetcher
	readmeErr chan error
}

func (b *blockingFetcher) FetchReadme(ctx context.Context, _, _ string) (string, bool, error) {
	<-ctx.Done()
	b.readmeErr <- ctx.Err()
	return "", false, ctx.Err()
}

func TestIndexSingleRepo_FirstFetchErrorCancelsTheRest(t *testing.T) {
	inner := newFakeFetcher(testRepo())
	inner.errs["metadata"] = &github.FetchError{StatusCode: http.StatusForbidden, Resource: "repository", Err: errors.New("forbidden")}
	fetcher := &blockingFetcher{fakeFetcher: inner, readmeErr: make(chan error, 1)}
	store := newFakeStore()
	p, emb := newPipeline(t, fetcher, store)

	done := make(chan repository.IndexResult, 1)
	go func() {
		done <- p.IndexSingleRepo(context.Background(), "testowner", "testrepo", true)
	}()

	var result repository.IndexResult
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("IndexSingleRepo did not return after the metadata fetch failed")
	}
	assert.Equal(t, repository.StatusFailed, result.Status)
	assert.Equal(t, "GitHub API rate limit exceeded or access denied.", result.Message)
	assert.Zero(t, emb.Calls())
	assert.Empty(t, store.records)

	select {
	case err := <-fetcher.readmeErr:
		assert.ErrorIs(t, err, context.Canceled)
	default:
		t.Fatal("blocked readme fetch never observed cancellation")
	}
}

func TestIndexSingleRepo_LenientManifests(t *testing.T) {
	repo := testRepo()
	repo.manifests = append(repo.manifests, repository.ManifestEntry{Filename: "package.json", Content: "{not json"})
	store := newFakeStore()
	p, _ := newPipeline(t, newFakeFetcher(repo), store, WithLenientManifests(true))

	result := p.IndexSingleRepo(context.Background(), "testowner", "testrepo", true)
	assert.Equal(t, repository.StatusIndexed, result.Status)
	assert.Contains(t, store.records, uint64(12345))
}

func TestIsStale(t *testing.T) {
	ago := func(d time.Duration) *time.Time {
		t := fixedNow.Add(-d)
		return &t
	}
	day := 24 * time.Hour

	tests := []struct {
		name      string
		indexedAt *time.Time
		staleDays int
		want      bool
	}{
		{name: "never indexed", indexedAt: nil, staleDays: 7, want: true},
		{name: "inside window", indexedAt: ago(6 * day), staleDays: 7, want: false},
		{name: "exactly at window edge", indexedAt: ago(7 * day), staleDays: 7, want: false},
		{name: "past window", indexedAt: ago(7*day + time.Second), staleDays: 7, want: true},
		{name: "zero window", indexedAt: ago(time.Second), staleDays: 0, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStale(tt.indexedAt, fixedNow, tt.staleDays))
		})
	}
}

func TestIndexBatch(t *testing.T) {
	store := newFakeStore()
	store.seed(12345, fixedNow.Add(-time.Hour))
	second := testRepo()
	second.meta.ID, second.meta.FullName = 777, "other/lib"
	fetcher := newFakeFetcher(testRepo(), second)
	fetcher.panicFor = "panic/repo"
	p, _ := newPipeline(t, fetcher, store)

	ids := []repository.Identity{
		repository.MustParseIdentity("testowner/testrepo"),
		repository.MustParseIdentity("ghost/missing"),
		repository.MustParseIdentity("panic/repo"),
		repository.MustParseIdentity("other/lib"),
	}
	result := p.IndexBatch(context.Background(), ids, false)

	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, result.Total, result.Indexed+result.Skipped+result.Failed)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "ghost/missing: ")
	assert.Contains(t, result.Errors[1], "panic/repo: ")
	assert.Contains(t, result.Errors[1], "boom in panic/repo")
	assert.Contains(t, store.records, uint64(777), "items after the panic are still indexed")
}

func TestIndexBatch_Empty(t *testing.T) {
	p, _ := newPipeline(t, newFakeFetcher(), newFakeStore())

	result := p.IndexBatch(context.Background(), nil, false)
	assert.Zero(t, result.Total)
	assert.NotNil(t, result.Errors)
}

func TestIndexBatch_CancelledContext(t *testing.T) {
	fetcher := newFakeFetcher(testRepo())
	p, emb := newPipeline(t, fetcher, newFakeStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ids := []repository.Identity{
		repository.MustParseIdentity("testowner/testrepo"),
		repository.MustParseIdentity("testowner/other"),
	}
	result := p.IndexBatch(ctx, ids, true)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Failed)
	assert.Zero(t, emb.Calls())
	assert.Zero(t, fetcher.metaHits)
	for _, e := range result.Errors {
		assert.Contains(t, e, context.Canceled.Error())
	}
}

func TestIndexBatch_RunIDLogged(t *testing.T) {
	tl := logging.NewTestLogger()
	p := New(newFakeFetcher(testRepo()), embeddings.NewHashEmbedder(testDim), newFakeStore(), tl.Logger, WithClock(clock))

	p.IndexBatch(context.Background(), []repository.Identity{repository.MustParseIdentity("testowner/testrepo")}, true)

	entries := tl.FilterMessage("batch index complete").All()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ContextMap()["run.id"])
	tl.AssertField(t, "indexed repository", "repo", "testowner/testrepo")
}

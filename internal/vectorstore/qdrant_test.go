package vectorstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/reporadar/internal/qdrant"
	"github.com/fyrsmithlabs/reporadar/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant is an in-memory QdrantClient.
type fakeQdrant struct {
	spec       qdrant.CollectionSpec
	collection string
	points     map[uint64]*qdrant.Point
	mu         sync.Mutex
	queries    []string
	queryErr   error
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{points: make(map[uint64]*qdrant.Point)}
}

func (f *fakeQdrant) EnsureCollection(_ context.Context, name string, spec qdrant.CollectionSpec) error {
	f.collection, f.spec = name, spec
	return nil
}

func (f *fakeQdrant) Upsert(_ context.Context, _ string, points []*qdrant.Point) error {
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}

func (f *fakeQdrant) Query(_ context.Context, _ string, vectorName string, _ []float32, limit uint64) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	f.queries = append(f.queries, vectorName)
	f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []*qdrant.ScoredPoint
	for _, p := range f.points {
		if uint64(len(out)) == limit {
			break
		}
		score := float32(0.5)
		if vectorName == "stack" {
			score = 0.25
		}
		out = append(out, &qdrant.ScoredPoint{Point: qdrant.Point{ID: p.ID, Payload: p.Payload}, Score: score})
	}
	return out, nil
}

func (f *fakeQdrant) Get(_ context.Context, _ string, ids []uint64, withVectors bool) ([]*qdrant.Point, error) {
	var out []*qdrant.Point
	for _, id := range ids {
		p, ok := f.points[id]
		if !ok {
			continue
		}
		cp := &qdrant.Point{ID: p.ID, Payload: p.Payload}
		if withVectors {
			cp.Vectors = p.Vectors
		}
		out = append(out, cp)
	}
	return out, nil
}

func (f *fakeQdrant) Delete(_ context.Context, _ string, ids []uint64) error {
	for _, id := range ids {
		delete(f.points, id)
	}
	return nil
}

func (f *fakeQdrant) Count(context.Context, string) (uint64, error) {
	return uint64(len(f.points)), nil
}

func (f *fakeQdrant) Scroll(_ context.Context, _ string, offset *uint64, limit uint32, _ bool) ([]*qdrant.Point, *uint64, error) {
	var out []*qdrant.Point
	for id := uint64(0); id < 1000; id++ {
		if offset != nil && id < *offset {
			continue
		}
		if p, ok := f.points[id]; ok {
			if uint32(len(out)) == limit {
				next := id
				return out, &next, nil
			}
			out = append(out, p)
		}
	}
	return out, nil, nil
}

func (f *fakeQdrant) Health(context.Context) error { return nil }
func (f *fakeQdrant) Close() error                  { return nil }

func TestQdrantBackend_EnsureCollection(t *testing.T) {
	fake := newFakeQdrant()
	b := NewQdrantBackend(fake, "repos", true, nil)

	require.NoError(t, b.EnsureCollection(context.Background(), 384))
	assert.Equal(t, "repos", fake.collection)
	assert.Equal(t, map[string]uint64{"purpose": 384, "stack": 384}, fake.spec.Vectors)
	assert.True(t, fake.spec.Quantize)

	assert.ErrorIs(t, b.EnsureCollection(context.Background(), 0), ErrDimensionMismatch)
}

func TestQdrantBackend_RoundTrip(t *testing.T) {
	fake := newFakeQdrant()
	s := NewStore(NewQdrantBackend(fake, "repos", false, nil), testDim)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx))

	p := repository.Payload{
		FullName:  "octocat/hello",
		Topics:    []string{"go", "cli"},
		Stars:     42,
		IndexedAt: "2024-06-01T00:00:00Z",
	}
	require.NoError(t, s.Upsert(ctx, 9, vec(1, 0, 0, 0), vec(0, 1, 0, 0), p))

	stored := fake.points[9]
	require.NotNil(t, stored)
	assert.Equal(t, []float32{1, 0, 0, 0}, stored.Vectors["purpose"])
	assert.Equal(t, "octocat/hello", stored.Payload[repository.KeyFullName])

	purpose, stack, ok, err := s.GetVectors(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0, 0, 0}, purpose)
	assert.Equal(t, []float32{0, 1, 0, 0}, stack)

	indexedAt, err := s.GetIndexedAt(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, indexedAt)

	results, err := s.SearchSimilar(ctx, SearchQuery{
		Purpose: vec(1, 0, 0, 0), Stack: vec(0, 1, 0, 0),
		WeightPurpose: 0.5, WeightStack: 0.5, Limit: 4,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.375, results[0].Score, 1e-6)
	assert.Equal(t, []string{"go", "cli"}, results[0].Payload.Topics)
	assert.ElementsMatch(t, []string{"purpose", "stack"}, fake.queries)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)

	require.NoError(t, s.Delete(ctx, 9))
	exists, err := s.Exists(ctx, 9)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestQdrantBackend_QueryError(t *testing.T) {
	fake := newFakeQdrant()
	fake.queryErr = errors.New("unavailable")
	s := NewStore(NewQdrantBackend(fake, "repos", false, nil), testDim)

	_, err := s.SearchSimilar(context.Background(), SearchQuery{
		Purpose: vec(1, 0, 0, 0), Stack: vec(0, 1, 0, 0), WeightPurpose: 1, Limit: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
}

func TestQdrantBackend_Scroll(t *testing.T) {
	fake := newFakeQdrant()
	s := NewStore(NewQdrantBackend(fake, "repos", false, nil), testDim)
	ctx := context.Background()
	for i := uint64(1); i <= 150; i++ {
		require.NoError(t, s.Upsert(ctx, i, vec(1, 0, 0, 0), vec(0, 1, 0, 0), payload("o/r"+docID(i), "")))
	}

	n := 0
	require.NoError(t, s.Scroll(ctx, func(Point) error { n++; return nil }))
	assert.Equal(t, 150, n)

	stop := errors.New("stop")
	err := s.Scroll(ctx, func(Point) error { return stop })
	assert.ErrorIs(t, err, stop)
}

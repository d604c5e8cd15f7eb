package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestNewProvider_UnknownProvider(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "openai"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider_TEIWithCache(t *testing.T) {
	e, err := NewProvider(ProviderConfig{
		Provider:  "tei",
		Model:     "BAAI/bge-small-en-v1.5",
		BaseURL:   "http://localhost:8080",
		CacheSize: 16,
	}, nil)
	require.NoError(t, err)
	defer e.Close()

	assert.IsType(t, &Cached{}, e)
	assert.Equal(t, 384, e.Dimension())
}

func TestNewProvider_TEIWithoutBaseURL(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "tei"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestModelDimension(t *testing.T) {
	dim, ok := ModelDimension("BAAI/bge-base-en-v1.5")
	assert.True(t, ok)
	assert.Equal(t, 768, dim)

	_, ok = ModelDimension("nope")
	assert.False(t, ok)

	assert.Equal(t, 1024, guessDimension("intfloat/e5-large-v2"))
	assert.Equal(t, 768, guessDimension("nomic-embed-text-base"))
	assert.Equal(t, 384, guessDimension("something"))
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func newTEIServer(t *testing.T, dim int, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Truncate)

		out := make([][]float32, len(req.Inputs))
		for i := range req.Inputs {
			v := make([]float32, dim)
			v[i%dim] = 2 // not unit length on purpose
			out[i] = v
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTEI_EmbedBatch(t *testing.T) {
	server := newTEIServer(t, 4, nil)
	tei, err := NewTEI(TEIConfig{BaseURL: server.URL + "/", Dimension: 4})
	require.NoError(t, err)

	vecs, err := tei.EmbedBatch(context.Background(), []string{"a", "", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 4)
		assert.InDelta(t, 1.0, norm(v), 1e-6)
	}
	assert.Equal(t, float32(1), vecs[1][1])
}

func TestTEI_Embed(t *testing.T) {
	server := newTEIServer(t, 4, nil)
	tei, err := NewTEI(TEIConfig{BaseURL: server.URL, Dimension: 4})
	require.NoError(t, err)

	v, err := tei.Embed(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, v, 4)
}

func TestTEI_DimensionMismatch(t *testing.T) {
	server := newTEIServer(t, 3, nil)
	tei, err := NewTEI(TEIConfig{BaseURL: server.URL, Dimension: 4})
	require.NoError(t, err)

	_, err = tei.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestTEI_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tei, err := NewTEI(TEIConfig{BaseURL: server.URL, Model: "BAAI/bge-small-en-v1.5"})
	require.NoError(t, err)

	_, err = tei.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")
}

func TestTEI_EmptyBatch(t *testing.T) {
	tei, err := NewTEI(TEIConfig{BaseURL: "http://unused"})
	require.NoError(t, err)
	vecs, err := tei.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestHashEmbedder(t *testing.T) {
	h := NewHashEmbedder(8)
	ctx := context.Background()

	a1, err := h.Embed(ctx, "alpha")
	require.NoError(t, err)
	a2, err := h.Embed(ctx, "alpha")
	require.NoError(t, err)
	b, err := h.Embed(ctx, "beta")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.InDelta(t, 1.0, norm(a1), 1e-5)

	empty, err := h.Embed(ctx, "")
	require.NoError(t, err)
	assert.Len(t, empty, 8)

	h.Set("pinned", []float32{0, 2, 0, 0, 0, 0, 0, 0})
	p, err := h.Embed(ctx, "pinned")
	require.NoError(t, err)
	assert.Equal(t, float32(1), p[1])

	boom := errors.New("boom")
	h.FailWith(boom)
	_, err = h.Embed(ctx, "alpha")
	assert.ErrorIs(t, err, boom)
}

func TestCached(t *testing.T) {
	h := NewHashEmbedder(4)
	c, err := NewCached(h, 2)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := c.Embed(ctx, "x")
	require.NoError(t, err)
	again, err := c.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, h.Calls())

	// cached vectors are copies
	again[0] = 42
	third, err := c.Embed(ctx, "x")
	require.NoError(t, err)
	assert.NotEqual(t, float32(42), third[0])
}

func TestCached_EmbedBatchForwardsMisses(t *testing.T) {
	h := NewHashEmbedder(4)
	c, err := NewCached(h, 8)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Embed(ctx, "b")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, 3, h.Calls(), "only a and c should reach the provider")

	want, _ := h.Embed(ctx, "c")
	assert.Equal(t, want, vecs[2])
	assert.Equal(t, 3, c.Len())
}

func TestCached_Evicts(t *testing.T) {
	h := NewHashEmbedder(4)
	c, err := NewCached(h, 1)
	require.NoError(t, err)
	ctx := context.Background()

	_, _ = c.Embed(ctx, "a")
	_, _ = c.Embed(ctx, "b")
	_, _ = c.Embed(ctx, "a")
	assert.Equal(t, 3, h.Calls())
	assert.Equal(t, 1, c.Len())
}

func TestCached_InvalidSize(t *testing.T) {
	_, err := NewCached(NewHashEmbedder(4), 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// blockingEmbedder tracks how many calls run at once.
type blockingEmbedder struct {
	*HashEmbedder
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func (b *blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	n := b.active.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-b.release
	b.active.Add(-1)
	return b.HashEmbedder.Embed(ctx, text)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	inner := &blockingEmbedder{HashEmbedder: NewHashEmbedder(4), release: make(chan struct{})}
	pool := NewPool(inner, 2)
	assert.Equal(t, 2, pool.Workers())

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Embed(context.Background(), "x")
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return inner.active.Load() == 2 }, time.Second, time.Millisecond)
	close(inner.release)
	wg.Wait()

	assert.LessOrEqual(t, inner.peak.Load(), int32(2))
	assert.Equal(t, 6, inner.Calls())
}

func TestPool_ContextCancelledWhileQueued(t *testing.T) {
	inner := &blockingEmbedder{HashEmbedder: NewHashEmbedder(4), release: make(chan struct{})}
	pool := NewPool(inner, 1)

	go func() { _, _ = pool.Embed(context.Background(), "holds the worker") }()
	require.Eventually(t, func() bool { return inner.active.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pool.Embed(ctx, "queued")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(inner.release)
}

func TestPool_DefaultWorkers(t *testing.T) {
	assert.Positive(t, NewPool(NewHashEmbedder(4), 0).Workers())
}

func TestInstrumented_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics := NewMetricsWithMeter(mp.Meter(instrumentationName), nil)

	h := NewHashEmbedder(4)
	e := Instrument(h, "test-model", metrics)
	ctx := context.Background()

	_, err := e.Embed(ctx, "a")
	require.NoError(t, err)
	_, err = e.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)

	h.FailWith(errors.New("boom"))
	_, err = e.Embed(ctx, "a")
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			if m.Name == "reporadar.embedding.errors_total" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(1), sum.DataPoints[0].Value)
			}
		}
	}
	assert.True(t, found["reporadar.embedding.generation_duration_seconds"])
	assert.True(t, found["reporadar.embedding.batch_size"])
	assert.True(t, found["reporadar.embedding.errors_total"])
	assert.Equal(t, 4, e.Dimension())
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordGeneration(context.Background(), "m", "embed", time.Millisecond, 1, nil)
}

package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder produces normalised vectors of a fixed dimension. Empty text is
// valid input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Close() error
}

// ProviderConfig selects and configures an embedding provider.
type ProviderConfig struct {
	// Provider is "fastembed" (default) or "tei".
	Provider string
	Model    string
	// BaseURL is the TEI server (tei only).
	BaseURL string
	// CacheDir holds downloaded model files (fastembed only).
	CacheDir string
	// CacheSize is the LRU capacity in texts. 0 disables caching.
	CacheSize int
}

// NewProvider builds the configured provider, wrapped with metrics and, when
// CacheSize > 0, an LRU cache.
func NewProvider(cfg ProviderConfig, metrics *Metrics) (Embedder, error) {
	var (
		base Embedder
		err  error
	)
	switch strings.ToLower(cfg.Provider) {
	case "fastembed", "":
		base, err = NewFastEmbed(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	case "tei":
		base, err = NewTEI(TEIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	e := Instrument(base, cfg.Model, metrics)
	if cfg.CacheSize > 0 {
		cached, err := NewCached(e, cfg.CacheSize)
		if err != nil {
			_ = base.Close()
			return nil, err
		}
		e = cached
	}
	return e, nil
}

// knownDimensions lists the output size of the supported models.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"fast-bge-small-en-v1.5":                 384,
	"fast-bge-small-en":                      384,
	"fast-bge-base-en-v1.5":                  768,
	"fast-bge-base-en":                       768,
	"fast-bge-small-zh-v1.5":                 512,
	"fast-all-MiniLM-L6-v2":                  384,
}

// ModelDimension returns the vector size of a known model.
func ModelDimension(model string) (int, bool) {
	dim, ok := knownDimensions[model]
	return dim, ok
}

// guessDimension falls back to naming conventions for models we do not list.
func guessDimension(model string) int {
	if dim, ok := ModelDimension(model); ok {
		return dim
	}
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "large"):
		return 1024
	case strings.Contains(m, "base"):
		return 768
	default:
		return 384
	}
}

// normalize scales v to unit length in place. A zero vector is left as is.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

func checkDimension(v []float32, want int) error {
	if len(v) != want {
		return fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbeddingFailed, len(v), want)
	}
	return nil
}

// Package vectorstore stores two embeddings per repository, one for what it
// does ("purpose") and one for what it is built with ("stack"), and answers
// similarity queries by fusing the two independently ranked result sets.
//
// Storage engines sit behind Backend. QdrantBackend talks to a Qdrant server
// over gRPC; ChromemBackend embeds chromem-go for single-node and test use.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/reporadar/internal/config"
	"github.com/fyrsmithlabs/reporadar/internal/logging"
	"github.com/fyrsmithlabs/reporadar/internal/qdrant"
	"github.com/fyrsmithlabs/reporadar/internal/repository"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the collection's configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrUnknownProvider is returned by NewBackend for an unsupported provider.
	ErrUnknownProvider = errors.New("unknown vector store provider")

	// ErrInvalidCollectionName is returned for names outside ^[a-z0-9_]{1,64}$.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrCollectionNotReady is returned when a backend is used before EnsureCollection.
	ErrCollectionNotReady = errors.New("collection not initialized")
)

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Space names one of the two vector spaces.
type Space string

const (
	SpacePurpose Space = "purpose"
	SpaceStack   Space = "stack"
)

// Point is one stored repository record.
type Point struct {
	ID      uint64
	Purpose []float32
	Stack   []float32
	Payload repository.Payload
}

// Hit is one nearest-neighbour result from a single space.
type Hit struct {
	ID      uint64
	Score   float64
	Payload repository.Payload
}

// Backend is a vector engine holding one record per id with a vector in
// each Space.
type Backend interface {
	// EnsureCollection creates the collection if needed. It is idempotent.
	EnsureCollection(ctx context.Context, dim int) error
	// Upsert inserts or fully replaces a point.
	Upsert(ctx context.Context, p Point) error
	// Get returns nil, nil when id is absent.
	Get(ctx context.Context, id uint64, withVectors bool) (*Point, error)
	Delete(ctx context.Context, id uint64) error
	// Query returns up to limit hits ordered by similarity, best first.
	Query(ctx context.Context, space Space, vec []float32, limit int) ([]Hit, error)
	Count(ctx context.Context) (int, error)
	// Scroll pages through points in ascending id order starting at offset
	// (nil for the first page). next is nil after the last page.
	Scroll(ctx context.Context, offset *uint64, limit int) (points []Point, next *uint64, err error)
	Health(ctx context.Context) error
	Close() error
}

// NewBackend builds the backend selected by cfg.Provider.
func NewBackend(cfg config.VectorStoreConfig, logger *logging.Logger) (Backend, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "qdrant":
		qcfg := qdrant.DefaultClientConfig()
		qcfg.Host = cfg.Qdrant.Host
		qcfg.Port = cfg.Qdrant.Port
		qcfg.UseTLS = cfg.Qdrant.UseTLS
		qcfg.APIKey = cfg.Qdrant.APIKey.Value()
		if d := cfg.Qdrant.RequestTimeout.Duration(); d > 0 {
			qcfg.RequestTimeout = d
		}
		if cfg.Qdrant.URL != "" {
			if err := qcfg.ApplyURL(cfg.Qdrant.URL); err != nil {
				return nil, err
			}
		}
		client, err := qdrant.NewGRPCClient(qcfg, logger.Named("qdrant"))
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		return NewQdrantBackend(client, cfg.Collection, cfg.Qdrant.Quantization, logger), nil

	case "chromem":
		return NewChromemBackend(ChromemOptions{
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
			Collection: cfg.Collection,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reporadar/internal/logging"
	"github.com/fyrsmithlabs/reporadar/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ScrollPageSize is the page size Scroll requests from the backend.
const ScrollPageSize = 100

// Stats summarises the store.
type Stats struct {
	Count int `json:"count"`
}

// StaleRecord identifies a record due for re-indexing.
type StaleRecord struct {
	ID        uint64
	FullName  string
	IndexedAt string
}

// Store is the dual-vector store. Upsert is its only write path.
type Store struct {
	backend Backend
	dim     int
	logger  *logging.Logger
	metrics *Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics records Prometheus metrics for each operation.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore wraps backend. dim is the vector dimension of both spaces.
func NewStore(backend Backend, dim int, opts ...Option) *Store {
	s := &Store{backend: backend, dim: dim, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dimension returns the configured vector dimension.
func (s *Store) Dimension() int { return s.dim }

// EnsureCollection creates the backing collection if it does not exist.
func (s *Store) EnsureCollection(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("ensure_collection", start, err) }()

	if err := s.backend.EnsureCollection(ctx, s.dim); err != nil {
		return fmt.Errorf("ensuring collection: %w", err)
	}
	s.logger.Debug(ctx, "vector collection ready", zap.Int("dimension", s.dim))
	return nil
}

// Upsert stores both vectors and the payload under id, replacing any
// previous record.
func (s *Store) Upsert(ctx context.Context, id uint64, purpose, stack []float32, payload repository.Payload) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("upsert", start, err) }()

	if len(purpose) != s.dim {
		return fmt.Errorf("%w: purpose vector has %d dimensions, want %d", ErrDimensionMismatch, len(purpose), s.dim)
	}
	if len(stack) != s.dim {
		return fmt.Errorf("%w: stack vector has %d dimensions, want %d", ErrDimensionMismatch, len(stack), s.dim)
	}

	if err := s.backend.Upsert(ctx, Point{ID: id, Purpose: purpose, Stack: stack, Payload: payload}); err != nil {
		return err
	}
	s.logger.Debug(ctx, "upserted repository vectors",
		zap.Uint64("repo_id", id),
		zap.String("full_name", payload.FullName),
	)
	return nil
}

// Exists reports whether a record is stored under id.
func (s *Store) Exists(ctx context.Context, id uint64) (bool, error) {
	p, err := s.backend.Get(ctx, id, false)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

// GetIndexedAt returns when id was last indexed, or nil when the record is
// absent or its timestamp unparsable.
func (s *Store) GetIndexedAt(ctx context.Context, id uint64) (*time.Time, error) {
	p, err := s.backend.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	t, ok := p.Payload.IndexedTime()
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// Delete removes the record for id. A missing record is not an error.
func (s *Store) Delete(ctx context.Context, id uint64) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("delete", start, err) }()
	return s.backend.Delete(ctx, id)
}

// GetVectors returns both stored vectors for id. ok is false when the record
// or either vector is missing.
func (s *Store) GetVectors(ctx context.Context, id uint64) (purpose, stack []float32, ok bool, err error) {
	p, err := s.backend.Get(ctx, id, true)
	if err != nil {
		return nil, nil, false, err
	}
	if p == nil || len(p.Purpose) == 0 || len(p.Stack) == 0 {
		return nil, nil, false, nil
	}
	return p.Purpose, p.Stack, true, nil
}

// Stats returns the number of stored records.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	n, err := s.backend.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting records: %w", err)
	}
	s.metrics.setPoints(n)
	return Stats{Count: n}, nil
}

// Health reports whether the backend is reachable.
func (s *Store) Health(ctx context.Context) error {
	return s.backend.Health(ctx)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// SearchSimilar queries both spaces for Limit×OverfetchFactor neighbours
// each and returns the fused ranking (see Fuse).
func (s *Store) SearchSimilar(ctx context.Context, q SearchQuery) (_ []repository.SearchResult, err error) {
	ctx, span := startSpan(ctx, "vectorstore.SearchSimilar",
		attribute.Int("limit", q.Limit),
		attribute.Float64("weight_purpose", q.WeightPurpose),
		attribute.Float64("weight_stack", q.WeightStack),
	)
	start := time.Now()
	defer func() {
		s.metrics.observe("search", start, err)
		endSpan(span, err)
	}()

	if q.Limit <= 0 {
		return []repository.SearchResult{}, nil
	}
	if len(q.Purpose) != s.dim || len(q.Stack) != s.dim {
		return nil, fmt.Errorf("%w: query vectors have %d/%d dimensions, want %d",
			ErrDimensionMismatch, len(q.Purpose), len(q.Stack), s.dim)
	}

	fetch := q.Limit * OverfetchFactor
	var purposeHits, stackHits []Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := s.backend.Query(gctx, SpacePurpose, q.Purpose, fetch)
		purposeHits = hits
		return err
	})
	g.Go(func() error {
		hits, err := s.backend.Query(gctx, SpaceStack, q.Stack, fetch)
		stackHits = hits
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := Fuse(purposeHits, stackHits, q)
	span.SetAttributes(
		attribute.Int("purpose_candidates", len(purposeHits)),
		attribute.Int("stack_candidates", len(stackHits)),
		attribute.Int("results", len(results)),
	)
	return results, nil
}

// Scroll calls fn for every stored record in ascending id order, stopping at
// the first error.
func (s *Store) Scroll(ctx context.Context, fn func(Point) error) error {
	var offset *uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, next, err := s.backend.Scroll(ctx, offset, ScrollPageSize)
		if err != nil {
			return err
		}
		for _, p := range page {
			if err := fn(p); err != nil {
				return err
			}
		}
		if next == nil {
			return nil
		}
		offset = next
	}
}

// StaleIDs returns the records indexed before cutoff or with an unparsable
// indexed_at.
func (s *Store) StaleIDs(ctx context.Context, cutoff time.Time) ([]StaleRecord, error) {
	var stale []StaleRecord
	err := s.Scroll(ctx, func(p Point) error {
		t, ok := p.Payload.IndexedTime()
		if ok && !t.Before(cutoff) {
			return nil
		}
		stale = append(stale, StaleRecord{ID: p.ID, FullName: p.Payload.FullName, IndexedAt: p.Payload.IndexedAt})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning for stale records: %w", err)
	}
	s.logger.Debug(ctx, "scanned for stale records",
		zap.Time("cutoff", cutoff),
		zap.Int("stale", len(stale)),
	)
	return stale, nil
}

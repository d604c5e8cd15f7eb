package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/reporadar/internal/logging"
	"github.com/fyrsmithlabs/reporadar/internal/qdrant"
	"github.com/fyrsmithlabs/reporadar/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// QdrantClient is the part of *qdrant.GRPCClient used by QdrantBackend.
type QdrantClient interface {
	EnsureCollection(ctx context.Context, name string, spec qdrant.CollectionSpec) error
	Upsert(ctx context.Context, collection string, points []*qdrant.Point) error
	Query(ctx context.Context, collection, vectorName string, vector []float32, limit uint64) ([]*qdrant.ScoredPoint, error)
	Get(ctx context.Context, collection string, ids []uint64, withVectors bool) ([]*qdrant.Point, error)
	Delete(ctx context.Context, collection string, ids []uint64) error
	Count(ctx context.Context, collection string) (uint64, error)
	Scroll(ctx context.Context, collection string, offset *uint64, limit uint32, withVectors bool) ([]*qdrant.Point, *uint64, error)
	Health(ctx context.Context) error
	Close() error
}

var _ QdrantClient = (*qdrant.GRPCClient)(nil)

// QdrantBackend keeps both spaces in one Qdrant collection as two named
// cosine vectors.
type QdrantBackend struct {
	client     QdrantClient
	collection string
	quantize   bool
	logger     *logging.Logger
}

// NewQdrantBackend wraps client. quantize enables INT8 scalar quantization
// when the collection is created.
func NewQdrantBackend(client QdrantClient, collection string, quantize bool, logger *logging.Logger) *QdrantBackend {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &QdrantBackend{client: client, collection: collection, quantize: quantize, logger: logger}
}

func (b *QdrantBackend) attrs(op string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", op),
		attribute.String("collection", b.collection),
	}
}

func (b *QdrantBackend) EnsureCollection(ctx context.Context, dim int) (err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.EnsureCollection", b.attrs("ensure_collection")...)
	defer func() { endSpan(span, err) }()

	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dim)
	}
	return b.client.EnsureCollection(ctx, b.collection, qdrant.CollectionSpec{
		Vectors: map[string]uint64{
			string(SpacePurpose): uint64(dim),
			string(SpaceStack):   uint64(dim),
		},
		Quantize: b.quantize,
	})
}

func (b *QdrantBackend) Upsert(ctx context.Context, p Point) (err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.Upsert", append(b.attrs("upsert"), attribute.Int64("repo_id", int64(p.ID)))...)
	defer func() { endSpan(span, err) }()

	err = b.client.Upsert(ctx, b.collection, []*qdrant.Point{{
		ID: p.ID,
		Vectors: map[string][]float32{
			string(SpacePurpose): p.Purpose,
			string(SpaceStack):   p.Stack,
		},
		Payload: p.Payload.Map(),
	}})
	if err != nil {
		return fmt.Errorf("upserting point %d: %w", p.ID, err)
	}
	return nil
}

func (b *QdrantBackend) Get(ctx context.Context, id uint64, withVectors bool) (_ *Point, err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.Get", append(b.attrs("get"), attribute.Int64("repo_id", int64(id)))...)
	defer func() { endSpan(span, err) }()

	points, err := b.client.Get(ctx, b.collection, []uint64{id}, withVectors)
	if err != nil {
		return nil, fmt.Errorf("getting point %d: %w", id, err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	p := fromQdrantPoint(points[0])
	return &p, nil
}

func (b *QdrantBackend) Delete(ctx context.Context, id uint64) (err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.Delete", append(b.attrs("delete"), attribute.Int64("repo_id", int64(id)))...)
	defer func() { endSpan(span, err) }()

	if err := b.client.Delete(ctx, b.collection, []uint64{id}); err != nil {
		return fmt.Errorf("deleting point %d: %w", id, err)
	}
	return nil
}

func (b *QdrantBackend) Query(ctx context.Context, space Space, vec []float32, limit int) (_ []Hit, err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.Query",
		append(b.attrs("query"), attribute.String("space", string(space)), attribute.Int("limit", limit))...)
	defer func() { endSpan(span, err) }()

	if limit <= 0 {
		return []Hit{}, nil
	}
	scored, err := b.client.Query(ctx, b.collection, string(space), vec, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("querying %s space: %w", space, err)
	}
	hits := make([]Hit, len(scored))
	for i, s := range scored {
		hits[i] = Hit{
			ID:      s.ID,
			Score:   float64(s.Score),
			Payload: repository.PayloadFromMap(s.Payload),
		}
	}
	span.SetAttributes(attribute.Int("results", len(hits)))
	return hits, nil
}

func (b *QdrantBackend) Count(ctx context.Context) (_ int, err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.Count", b.attrs("count")...)
	defer func() { endSpan(span, err) }()

	n, err := b.client.Count(ctx, b.collection)
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return int(n), nil
}

func (b *QdrantBackend) Scroll(ctx context.Context, offset *uint64, limit int) (_ []Point, _ *uint64, err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.Scroll", append(b.attrs("scroll"), attribute.Int("limit", limit))...)
	defer func() { endSpan(span, err) }()

	if limit <= 0 {
		return nil, nil, fmt.Errorf("scroll limit must be positive, got %d", limit)
	}
	page, next, err := b.client.Scroll(ctx, b.collection, offset, uint32(limit), false)
	if err != nil {
		return nil, nil, fmt.Errorf("scrolling points: %w", err)
	}
	points := make([]Point, len(page))
	for i, p := range page {
		points[i] = fromQdrantPoint(p)
	}
	return points, next, nil
}

func (b *QdrantBackend) Health(ctx context.Context) error {
	return b.client.Health(ctx)
}

func (b *QdrantBackend) Close() error {
	b.logger.Debug(context.Background(), "closing qdrant backend", zap.String("collection", b.collection))
	return b.client.Close()
}

func fromQdrantPoint(p *qdrant.Point) Point {
	return Point{
		ID:      p.ID,
		Purpose: p.Vectors[string(SpacePurpose)],
		Stack:   p.Vectors[string(SpaceStack)],
		Payload: repository.PayloadFromMap(p.Payload),
	}
}

package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/reporadar/internal/logging"
	"github.com/fyrsmithlabs/reporadar/internal/repository"
	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// errPrecomputedOnly is returned if chromem ever asks us to embed text.
var errPrecomputedOnly = errors.New("chromem backend stores precomputed embeddings only")

// ChromemOptions configures ChromemBackend.
type ChromemOptions struct {
	// Path enables persistence to gob files. Empty keeps everything in memory.
	Path       string
	Compress   bool
	Collection string
}

// ChromemBackend keeps each space in its own chromem collection,
// <name>_purpose and <name>_stack, with the payload JSON as document content.
type ChromemBackend struct {
	db     *chromem.DB
	name   string
	logger *logging.Logger

	mu      sync.RWMutex
	dim     int
	purpose *chromem.Collection
	stack   *chromem.Collection
}

// NewChromemBackend opens (or creates) the database.
func NewChromemBackend(opts ChromemOptions, logger *logging.Logger) (*ChromemBackend, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := ValidateCollectionName(opts.Collection); err != nil {
		return nil, err
	}

	var db *chromem.DB
	if opts.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	logger.Info(context.Background(), "chromem backend initialized",
		zap.String("path", opts.Path),
		zap.Bool("persistent", opts.Path != ""),
		zap.String("collection", opts.Collection),
	)
	return &ChromemBackend{db: db, name: opts.Collection, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errPrecomputedOnly
}

func (b *ChromemBackend) attrs(op string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("db.system", "chromem"),
		attribute.String("db.operation", op),
		attribute.String("collection", b.name),
	}
}

func (b *ChromemBackend) EnsureCollection(ctx context.Context, dim int) (err error) {
	_, span := startSpan(ctx, "ChromemBackend.EnsureCollection", b.attrs("ensure_collection")...)
	defer func() { endSpan(span, err) }()

	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dim)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	meta := map[string]string{"dimension": strconv.Itoa(dim)}
	purpose, err := b.db.GetOrCreateCollection(b.name+"_"+string(SpacePurpose), meta, noEmbedding)
	if err != nil {
		return fmt.Errorf("getting/creating purpose collection: %w", err)
	}
	stack, err := b.db.GetOrCreateCollection(b.name+"_"+string(SpaceStack), meta, noEmbedding)
	if err != nil {
		return fmt.Errorf("getting/creating stack collection: %w", err)
	}
	b.purpose, b.stack, b.dim = purpose, stack, dim
	return nil
}

func (b *ChromemBackend) collections() (purpose, stack *chromem.Collection, dim int, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.purpose == nil || b.stack == nil {
		return nil, nil, 0, ErrCollectionNotReady
	}
	return b.purpose, b.stack, b.dim, nil
}

func (b *ChromemBackend) collection(space Space) (*chromem.Collection, error) {
	purpose, stack, _, err := b.collections()
	if err != nil {
		return nil, err
	}
	switch space {
	case SpacePurpose:
		return purpose, nil
	case SpaceStack:
		return stack, nil
	default:
		return nil, fmt.Errorf("unknown space %q", space)
	}
}

// Upsert writes both spaces under the write lock. A failed stack write puts
// the purpose collection back the way it was, so readers never see a record
// in only one space.
func (b *ChromemBackend) Upsert(ctx context.Context, p Point) (err error) {
	ctx, span := startSpan(ctx, "ChromemBackend.Upsert", append(b.attrs("upsert"), attribute.Int64("repo_id", int64(p.ID)))...)
	defer func() { endSpan(span, err) }()

	content, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.purpose == nil || b.stack == nil {
		return ErrCollectionNotReady
	}
	id := docID(p.ID)
	meta := map[string]string{repository.KeyFullName: p.Payload.FullName}

	prev, prevErr := b.purpose.GetByID(ctx, id)
	if err := b.purpose.AddDocument(ctx, chromem.Document{ID: id, Content: string(content), Metadata: meta, Embedding: p.Purpose}); err != nil {
		return fmt.Errorf("adding purpose document %s: %w", id, err)
	}
	if err := b.stack.AddDocument(ctx, chromem.Document{ID: id, Content: string(content), Metadata: meta, Embedding: p.Stack}); err != nil {
		if rerr := b.restorePurpose(ctx, id, prev, prevErr == nil); rerr != nil {
			b.logger.Error(ctx, "failed to roll back purpose document",
				zap.String("id", id),
				zap.Error(rerr),
			)
		}
		return fmt.Errorf("adding stack document %s: %w", id, err)
	}
	return nil
}

// restorePurpose undoes a purpose write. Callers hold b.mu.
func (b *ChromemBackend) restorePurpose(ctx context.Context, id string, prev chromem.Document, existed bool) error {
	// The write itself may have been cancelled; the rollback must still run.
	ctx = context.WithoutCancel(ctx)
	if existed {
		return b.purpose.AddDocument(ctx, prev)
	}
	return b.purpose.Delete(ctx, nil, nil, id)
}

func (b *ChromemBackend) Get(ctx context.Context, id uint64, withVectors bool) (_ *Point, err error) {
	ctx, span := startSpan(ctx, "ChromemBackend.Get", append(b.attrs("get"), attribute.Int64("repo_id", int64(id)))...)
	defer func() { endSpan(span, err) }()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.purpose == nil || b.stack == nil {
		return nil, ErrCollectionNotReady
	}
	// GetByID only fails for unknown ids once the id is non-empty.
	doc, err := b.purpose.GetByID(ctx, docID(id))
	if err != nil {
		return nil, nil
	}
	payload, err := decodePayload(doc.Content)
	if err != nil {
		return nil, err
	}
	p := &Point{ID: id, Payload: payload}
	if withVectors {
		p.Purpose = doc.Embedding
		if sdoc, err := b.stack.GetByID(ctx, docID(id)); err == nil {
			p.Stack = sdoc.Embedding
		}
	}
	return p, nil
}

func (b *ChromemBackend) Delete(ctx context.Context, id uint64) (err error) {
	ctx, span := startSpan(ctx, "ChromemBackend.Delete", append(b.attrs("delete"), attribute.Int64("repo_id", int64(id)))...)
	defer func() { endSpan(span, err) }()

	purpose, stack, _, err := b.collections()
	if err != nil {
		return err
	}
	for _, c := range []*chromem.Collection{purpose, stack} {
		if _, err := c.GetByID(ctx, docID(id)); err != nil {
			continue
		}
		if err := c.Delete(ctx, nil, nil, docID(id)); err != nil {
			return fmt.Errorf("deleting document %d from %s: %w", id, c.Name, err)
		}
	}
	return nil
}

func (b *ChromemBackend) Query(ctx context.Context, space Space, vec []float32, limit int) (_ []Hit, err error) {
	ctx, span := startSpan(ctx, "ChromemBackend.Query",
		append(b.attrs("query"), attribute.String("space", string(space)), attribute.Int("limit", limit))...)
	defer func() { endSpan(span, err) }()

	c, err := b.collection(space)
	if err != nil {
		return nil, err
	}
	// chromem requires 0 < nResults <= document count.
	n := min(limit, c.Count())
	if n <= 0 {
		return []Hit{}, nil
	}
	results, err := c.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s space: %w", space, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseUint(r.ID, 10, 64)
		if err != nil {
			b.logger.Warn(ctx, "skipping chromem document with non-numeric id", zap.String("id", r.ID))
			continue
		}
		payload, err := decodePayload(r.Content)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{ID: id, Score: float64(r.Similarity), Payload: payload})
	}
	span.SetAttributes(attribute.Int("results", len(hits)))
	return hits, nil
}

func (b *ChromemBackend) Count(ctx context.Context) (int, error) {
	purpose, _, _, err := b.collections()
	if err != nil {
		return 0, err
	}
	return purpose.Count(), nil
}

// Scroll lists documents by querying the purpose collection for all of them
// with a fixed probe vector, then cuts the id-sorted list into pages. It is
// O(n) per page and meant for maintenance runs over small databases.
func (b *ChromemBackend) Scroll(ctx context.Context, offset *uint64, limit int) (_ []Point, _ *uint64, err error) {
	ctx, span := startSpan(ctx, "ChromemBackend.Scroll", append(b.attrs("scroll"), attribute.Int("limit", limit))...)
	defer func() { endSpan(span, err) }()

	if limit <= 0 {
		return nil, nil, fmt.Errorf("scroll limit must be positive, got %d", limit)
	}
	purpose, _, dim, err := b.collections()
	if err != nil {
		return nil, nil, err
	}
	total := purpose.Count()
	if total == 0 {
		return []Point{}, nil, nil
	}

	probe := make([]float32, dim)
	probe[0] = 1
	results, err := purpose.QueryEmbedding(ctx, probe, total, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("listing documents: %w", err)
	}

	all := make([]Point, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseUint(r.ID, 10, 64)
		if err != nil {
			continue
		}
		if offset != nil && id < *offset {
			continue
		}
		payload, err := decodePayload(r.Content)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, Point{ID: id, Payload: payload})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if len(all) > limit {
		next := all[limit].ID
		return all[:limit], &next, nil
	}
	return all, nil, nil
}

func (b *ChromemBackend) Health(context.Context) error {
	if b.db == nil {
		return errors.New("chromem database is closed")
	}
	return nil
}

// Close is a no-op: persistent chromem writes each document as it is added.
func (b *ChromemBackend) Close() error {
	return nil
}

func docID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func decodePayload(content string) (repository.Payload, error) {
	var p repository.Payload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return repository.Payload{}, fmt.Errorf("decoding payload: %w", err)
	}
	if p.Topics == nil {
		p.Topics = []string{}
	}
	return p, nil
}

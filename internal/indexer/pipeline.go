// Package indexer turns a GitHub repository into a stored pair of purpose
// and stack vectors: fetch, preprocess, embed, persist. It also holds the
// maintenance jobs built on top of that pipeline, topic seeding and stale
// refresh.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reporadar/internal/embeddings"
	"github.com/fyrsmithlabs/reporadar/internal/github"
	"github.com/fyrsmithlabs/reporadar/internal/logging"
	"github.com/fyrsmithlabs/reporadar/internal/manifest"
	"github.com/fyrsmithlabs/reporadar/internal/preprocess"
	"github.com/fyrsmithlabs/reporadar/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/fyrsmithlabs/reporadar/internal/indexer"

// DefaultStaleDays is the staleness window used when none is configured.
const DefaultStaleDays = 7

// Fetcher reads repository data from GitHub. *github.Client implements it.
type Fetcher interface {
	FetchMetadata(ctx context.Context, owner, name string) (repository.Metadata, error)
	FetchReadme(ctx context.Context, owner, name string) (content string, found bool, err error)
	FetchLanguages(ctx context.Context, owner, name string) (map[string]float64, error)
	FetchManifests(ctx context.Context, owner, name string) ([]repository.ManifestEntry, error)
}

// Store persists indexed repositories. *vectorstore.Store implements it.
type Store interface {
	GetIndexedAt(ctx context.Context, id uint64) (*time.Time, error)
	Upsert(ctx context.Context, id uint64, purpose, stack []float32, payload repository.Payload) error
}

var _ Fetcher = (*github.Client)(nil)

// Pipeline indexes repositories one at a time.
type Pipeline struct {
	fetcher  Fetcher
	embedder embeddings.Embedder
	store    Store
	logger   *logging.Logger

	staleDays int
	lenient   bool
	now       func() time.Time

	tracer  trace.Tracer
	results metric.Int64Counter
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStaleDays sets how many days a stored record stays fresh.
func WithStaleDays(days int) Option {
	return func(p *Pipeline) { p.staleDays = days }
}

// WithLenientManifests skips unparsable manifests instead of failing the run.
func WithLenientManifests(lenient bool) Option {
	return func(p *Pipeline) { p.lenient = lenient }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a Pipeline. An embedder that is not already an
// *embeddings.Pool is wrapped in one sized to runtime.NumCPU().
func New(fetcher Fetcher, embedder embeddings.Embedder, store Store, logger *logging.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	if _, ok := embedder.(*embeddings.Pool); !ok {
		embedder = embeddings.NewPool(embedder, 0)
	}
	p := &Pipeline{
		fetcher:   fetcher,
		embedder:  embedder,
		store:     store,
		logger:    logger,
		staleDays: DefaultStaleDays,
		now:       time.Now,
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(p)
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"reporadar.indexer.results_total",
		metric.WithDescription("Indexing attempts by terminal status"),
		metric.WithUnit("{repository}"),
	)
	if err != nil {
		logger.Warn(context.Background(), "failed to create indexer results counter", zap.Error(err))
	}
	p.results = counter
	return p
}

// IsStale reports whether a record indexed at indexedAt is due for a
// refresh. A nil time is always stale.
func IsStale(indexedAt *time.Time, now time.Time, staleDays int) bool {
	if indexedAt == nil {
		return true
	}
	return indexedAt.Before(now.Add(-time.Duration(staleDays) * 24 * time.Hour))
}

// IndexSingleRepo runs the full pipeline for owner/name. Unless force is
// set, a record fresher than the staleness window is skipped. It always
// returns exactly one terminal result; errors and panics become failed.
func (p *Pipeline) IndexSingleRepo(ctx context.Context, owner, name string, force bool) (result repository.IndexResult) {
	fullName := owner + "/" + name
	ctx = logging.WithRepo(ctx, fullName)
	ctx, span := p.tracer.Start(ctx, "indexer.IndexSingleRepo", trace.WithAttributes(
		attribute.String("repo", fullName),
		attribute.Bool("force", force),
	))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(ctx, "panic while indexing repository",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			result = repository.Failed(fullName, fmt.Sprint(r))
		}
		span.SetAttributes(attribute.String("status", string(result.Status)))
		if result.Status == repository.StatusFailed {
			span.SetStatus(codes.Error, result.Message)
		}
		span.End()
		if p.results != nil {
			p.results.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(result.Status))))
		}
		p.logger.Debug(ctx, "index attempt finished",
			zap.String("status", string(result.Status)),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	if !force {
		if skipped, ok := p.checkFresh(ctx, owner, name, fullName); ok {
			return skipped
		}
	}

	var (
		meta      repository.Metadata
		readme    string
		languages map[string]float64
		manifests []repository.ManifestEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(guard(func() (err error) {
		meta, err = p.fetcher.FetchMetadata(gctx, owner, name)
		return err
	}))
	g.Go(guard(func() (err error) {
		readme, _, err = p.fetcher.FetchReadme(gctx, owner, name)
		return err
	}))
	g.Go(guard(func() (err error) {
		languages, err = p.fetcher.FetchLanguages(gctx, owner, name)
		return err
	}))
	g.Go(guard(func() (err error) {
		manifests, err = p.fetcher.FetchManifests(gctx, owner, name)
		return err
	}))
	if err := g.Wait(); err != nil {
		p.logger.Error(ctx, "failed to fetch repository data", zap.Error(err))
		return repository.Failed(fullName, github.FriendlyMessage(err))
	}

	deps, err := manifest.ExtractAll(manifests, p.lenient)
	if err != nil {
		p.logger.Error(ctx, "failed to parse manifests", zap.Error(err))
		return repository.Failed(fullName, err.Error())
	}
	purposeText := preprocess.ComposePurposeText(meta.Description, meta.Topics, preprocess.CleanReadme(readme))
	stackText := preprocess.ComposeStackText(meta.Language, languages, deps)

	var purposeVec, stackVec []float32
	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(guard(func() (err error) {
		purposeVec, err = p.embedder.Embed(ectx, purposeText)
		return err
	}))
	eg.Go(guard(func() (err error) {
		stackVec, err = p.embedder.Embed(ectx, stackText)
		return err
	}))
	if err := eg.Wait(); err != nil {
		p.logger.Error(ctx, "failed to embed repository texts", zap.Error(err))
		return repository.Failed(fullName, err.Error())
	}

	payload := repository.NewPayload(meta, p.now())
	if err := p.store.Upsert(ctx, uint64(meta.ID), purposeVec, stackVec, payload); err != nil {
		p.logger.Error(ctx, "failed to store repository vectors", zap.Error(err))
		return repository.Failed(fullName, err.Error())
	}

	p.logger.Info(ctx, "indexed repository",
		zap.Int64("repo_id", meta.ID),
		zap.Int("dependencies", len(deps)),
		zap.Int("stars", meta.Stars),
	)
	return repository.IndexResult{
		Status:      repository.StatusIndexed,
		RepoID:      meta.ID,
		FullName:    fullName,
		Description: meta.Description,
	}
}

// guard turns a panic inside an errgroup goroutine into an error so it
// reaches the caller instead of crashing the process.
func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}
}

// checkFresh returns a skipped result when the stored record is inside the
// staleness window. Errors here only mean "do the full run".
func (p *Pipeline) checkFresh(ctx context.Context, owner, name, fullName string) (repository.IndexResult, bool) {
	meta, err := p.fetcher.FetchMetadata(ctx, owner, name)
	if err != nil {
		p.logger.Debug(ctx, "staleness check: metadata fetch failed", zap.Error(err))
		return repository.IndexResult{}, false
	}
	indexedAt, err := p.store.GetIndexedAt(ctx, uint64(meta.ID))
	if err != nil {
		p.logger.Debug(ctx, "staleness check: store lookup failed", zap.Error(err))
		return repository.IndexResult{}, false
	}
	if IsStale(indexedAt, p.now(), p.staleDays) {
		return repository.IndexResult{}, false
	}

	p.logger.Info(ctx, "skipping recently indexed repository", zap.Time("indexed_at", *indexedAt))
	return repository.IndexResult{
		Status:      repository.StatusSkipped,
		RepoID:      meta.ID,
		FullName:    fullName,
		Description: meta.Description,
		Message:     repository.SkippedMessage,
	}, true
}

// IndexBatch indexes ids sequentially in order. One failure never stops the
// batch; once ctx is done the remaining ids are recorded as failed, so Total
// always equals len(ids).
func (p *Pipeline) IndexBatch(ctx context.Context, ids []repository.Identity, force bool) repository.BatchIndexResult {
	if logging.RunIDFromContext(ctx) == "" {
		ctx = logging.WithRunID(ctx, uuid.NewString())
	}
	result := repository.BatchIndexResult{Errors: []string{}}

	p.logger.Info(ctx, "starting batch index", zap.Int("repositories", len(ids)), zap.Bool("force", force))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Record(id, repository.Failed(id.FullName(), err.Error()))
			continue
		}
		result.Record(id, p.IndexSingleRepo(ctx, id.Owner, id.Name, force))
	}

	p.logger.Info(ctx, "batch index complete",
		zap.Int("total", result.Total),
		zap.Int("indexed", result.Indexed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result
}

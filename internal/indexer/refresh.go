package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reporadar/internal/logging"
	"github.com/fyrsmithlabs/reporadar/internal/repository"
	"github.com/fyrsmithlabs/reporadar/internal/vectorstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StaleSource lists records due for re-indexing. *vectorstore.Store
// implements it.
type StaleSource interface {
	StaleIDs(ctx context.Context, cutoff time.Time) ([]vectorstore.StaleRecord, error)
}

var _ StaleSource = (*vectorstore.Store)(nil)

// Refresher re-indexes records older than the staleness window.
type Refresher struct {
	source  StaleSource
	indexer BatchIndexer
	logger  *logging.Logger
	now     func() time.Time
}

// NewRefresher builds a Refresher. A nil now uses time.Now.
func NewRefresher(source StaleSource, indexer BatchIndexer, logger *logging.Logger, now func() time.Time) *Refresher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Refresher{source: source, indexer: indexer, logger: logger, now: now}
}

// RefreshOptions controls one refresh run.
type RefreshOptions struct {
	StaleDays int
	// Limit caps how many stale records are considered; zero means no cap.
	Limit  int
	DryRun bool
}

// RefreshReport describes a refresh run. Result is nil on a dry run.
type RefreshReport struct {
	Stale   []vectorstore.StaleRecord
	Invalid []string
	Result  *repository.BatchIndexResult
}

// Refresh finds records indexed more than StaleDays ago and force
// re-indexes them. Records whose stored full name does not parse are
// skipped with a warning.
func (r *Refresher) Refresh(ctx context.Context, opts RefreshOptions) (RefreshReport, error) {
	ctx = logging.WithRunID(ctx, uuid.NewString())
	cutoff := r.now().UTC().Add(-time.Duration(opts.StaleDays) * 24 * time.Hour)

	stale, err := r.source.StaleIDs(ctx, cutoff)
	if err != nil {
		return RefreshReport{}, fmt.Errorf("listing stale records: %w", err)
	}
	if opts.Limit > 0 && len(stale) > opts.Limit {
		stale = stale[:opts.Limit]
	}
	report := RefreshReport{Stale: stale}
	r.logger.Info(ctx, "found stale records",
		zap.Int("stale", len(stale)),
		zap.Int("stale_days", opts.StaleDays),
	)

	ids := make([]repository.Identity, 0, len(stale))
	for _, rec := range stale {
		id, err := repository.ParseIdentity(rec.FullName)
		if err != nil {
			r.logger.Warn(ctx, "skipping record with invalid full name",
				zap.Uint64("repo_id", rec.ID),
				zap.String("full_name", rec.FullName),
			)
			report.Invalid = append(report.Invalid, rec.FullName)
			continue
		}
		ids = append(ids, id)
	}

	if opts.DryRun {
		for _, rec := range stale {
			r.logger.Info(ctx, "would re-index",
				zap.String("repo", rec.FullName),
				zap.String("indexed_at", rec.IndexedAt),
			)
		}
		return report, nil
	}

	result := r.indexer.IndexBatch(ctx, ids, true)
	report.Result = &result
	return report, nil
}

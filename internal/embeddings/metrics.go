package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/reporadar/internal/embeddings"

// Metrics holds all embedding-related metrics.
type Metrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics creates Metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return NewMetricsWithMeter(otel.Meter(instrumentationName), logger)
}

// NewMetricsWithMeter creates Metrics on meter.
func NewMetricsWithMeter(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"reporadar.embedding.generation_duration_seconds",
		metric.WithDescription("Duration of embedding generation in seconds, by model and operation (embed, embed_batch)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"reporadar.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding request"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"reporadar.embedding.errors_total",
		metric.WithDescription("Total embedding generation errors by model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordGeneration records one embedding call.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, duration time.Duration, batchSize int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// Instrumented records metrics and a span for every call to next.
type Instrumented struct {
	next    Embedder
	model   string
	metrics *Metrics
	tracer  trace.Tracer
}

// Instrument wraps next. A nil metrics records spans only.
func Instrument(next Embedder, model string, metrics *Metrics) *Instrumented {
	return &Instrumented{
		next:    next,
		model:   model,
		metrics: metrics,
		tracer:  otel.Tracer(instrumentationName),
	}
}

func (e *Instrumented) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := e.tracer.Start(ctx, "embeddings.Embed")
	defer span.End()

	start := time.Now()
	v, err := e.next.Embed(ctx, text)
	e.finish(ctx, span, "embed", start, 1, err)
	return v, err
}

func (e *Instrumented) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := e.tracer.Start(ctx, "embeddings.EmbedBatch",
		trace.WithAttributes(attribute.Int("batch_size", len(texts))))
	defer span.End()

	start := time.Now()
	v, err := e.next.EmbedBatch(ctx, texts)
	e.finish(ctx, span, "embed_batch", start, len(texts), err)
	return v, err
}

func (e *Instrumented) finish(ctx context.Context, span trace.Span, op string, start time.Time, n int, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.RecordGeneration(ctx, e.model, op, time.Since(start), n, err)
}

func (e *Instrumented) Dimension() int { return e.next.Dimension() }

func (e *Instrumented) Close() error { return e.next.Close() }

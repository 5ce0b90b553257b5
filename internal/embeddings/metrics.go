package embeddings

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/learnd/internal/embeddings"

// providerMetrics records one call per Embed or EmbedBatch. Every data point
// carries the provider, model and op attributes.
type providerMetrics struct {
	base     []attribute.KeyValue
	duration metric.Float64Histogram
	texts    metric.Int64Counter
	failures metric.Int64Counter
}

func newProviderMetrics(provider, model string, logger *zap.Logger) *providerMetrics {
	meter := otel.Meter(instrumentationName)
	m := &providerMetrics{
		base: []attribute.KeyValue{
			attribute.String("provider", provider),
			attribute.String("model", model),
		},
	}

	var err, e error
	m.duration, e = meter.Float64Histogram(
		"learnd.embedding.duration_seconds",
		metric.WithDescription("Latency of embedding provider calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	err = errors.Join(err, e)
	m.texts, e = meter.Int64Counter(
		"learnd.embedding.texts_total",
		metric.WithDescription("Texts sent to the embedding provider"),
		metric.WithUnit("{text}"),
	)
	err = errors.Join(err, e)
	m.failures, e = meter.Int64Counter(
		"learnd.embedding.errors_total",
		metric.WithDescription("Failed embedding provider calls by reason"),
		metric.WithUnit("{error}"),
	)
	err = errors.Join(err, e)
	if err != nil {
		logger.Warn("embedding metrics partially unavailable", zap.Error(err))
	}
	return m
}

func (m *providerMetrics) record(ctx context.Context, op string, start time.Time, texts int, err error) {
	attrs := append(m.base[:len(m.base):len(m.base)], attribute.String("op", op))
	if m.duration != nil {
		m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
	}
	if m.texts != nil && texts > 0 {
		m.texts.Add(ctx, int64(texts), metric.WithAttributes(attrs...))
	}
	if m.failures != nil && err != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("reason", failureReason(err)))...))
	}
}

// failureReason buckets provider errors for the errors_total counter.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "failed"
	}
}

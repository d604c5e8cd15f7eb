package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors for Store operations.
type Metrics struct {
	// OperationDuration tracks Store call latency.
	// Labels: operation, result (success, error)
	OperationDuration *prometheus.HistogramVec

	// Points is the record count seen by the last Stats call.
	Points prometheus.Gauge
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "reporadar",
				Subsystem: "vectorstore",
				Name:      "operation_duration_seconds",
				Help:      "Duration of vector store operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "result"},
		),
		Points: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "reporadar",
				Subsystem: "vectorstore",
				Name:      "points",
				Help:      "Number of indexed repositories",
			},
		),
	}
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.OperationDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}

func (m *Metrics) setPoints(n int) {
	if m == nil {
		return
	}
	m.Points.Set(float64(n))
}

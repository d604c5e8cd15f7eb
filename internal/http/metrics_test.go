package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fyrsmithlabs/reporadar/internal/logging"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: logging.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "hello")
	})
	e.POST("/api/index", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream")
	})

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/test", nil),
		httptest.NewRequest(http.MethodGet, "/test", nil),
		httptest.NewRequest(http.MethodPost, "/api/index", nil),
	} {
		e.ServeHTTP(httptest.NewRecorder(), r)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var requests metricdata.Sum[int64]
	var durations metricdata.Histogram[float64]
	foundRequests, foundDuration := false, false
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "reporadar.http.requests_total":
				requests, foundRequests = md.Data.(metricdata.Sum[int64])
			case "reporadar.http.request_duration_seconds":
				durations, foundDuration = md.Data.(metricdata.Histogram[float64])
			}
		}
	}
	require.True(t, foundRequests, "requests counter not found")
	require.True(t, foundDuration, "duration histogram not found")

	byStatus := map[int64]int64{}
	for _, dp := range requests.DataPoints {
		status, ok := dp.Attributes.Value(attribute.Key("status"))
		require.True(t, ok)
		byStatus[status.AsInt64()] += dp.Value
	}
	assert.Equal(t, map[int64]int64{200: 2, 502: 1}, byStatus)

	var count uint64
	for _, dp := range durations.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}

func TestPromMetrics_Middleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPromMetrics(reg)

	e := echo.New()
	e.Use(pm.Middleware())
	e.GET("/api/health", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("unexpected")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.Requests.WithLabelValues("GET", "/api/health", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.Requests.WithLabelValues("GET", "/boom", "500")))
	assert.Equal(t, 3, testutil.CollectAndCount(pm.Duration))
}

func TestResponseStatus(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.Response().Status = http.StatusCreated

	assert.Equal(t, http.StatusCreated, responseStatus(c, nil))
	assert.Equal(t, http.StatusTooManyRequests, responseStatus(c, echo.NewHTTPError(http.StatusTooManyRequests)))
	assert.Equal(t, http.StatusInternalServerError, responseStatus(c, errors.New("boom")))
}

package qdrant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/reporadar/internal/logging"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeAPI records requests and replays canned responses.
type fakeAPI struct {
	exists     bool
	existsErrs []error
	created    *qdrant.CreateCollection
	createErr  error
	upserted   *qdrant.UpsertPoints
	queried    *qdrant.QueryPoints
	queryResp  []*qdrant.ScoredPoint
	got        *qdrant.GetPoints
	getResp    []*qdrant.RetrievedPoint
	deleted    *qdrant.DeletePoints
	counted    *qdrant.CountPoints
	count      uint64
	scrolled   []*qdrant.ScrollPoints
	scrollResp []*qdrant.RetrievedPoint
	healthErr  error
	closed     bool
}

func (f *fakeAPI) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &qdrant.HealthCheckReply{Title: "qdrant"}, nil
}

func (f *fakeAPI) CollectionExists(context.Context, string) (bool, error) {
	if len(f.existsErrs) > 0 {
		err := f.existsErrs[0]
		f.existsErrs = f.existsErrs[1:]
		return false, err
	}
	return f.exists, nil
}

func (f *fakeAPI) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.created = req
	return f.createErr
}

func (f *fakeAPI) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserted = req
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeAPI) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.queried = req
	return f.queryResp, nil
}

func (f *fakeAPI) Get(_ context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
	f.got = req
	return f.getResp, nil
}

func (f *fakeAPI) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.deleted = req
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeAPI) Count(_ context.Context, req *qdrant.CountPoints) (uint64, error) {
	f.counted = req
	return f.count, nil
}

func (f *fakeAPI) Scroll(_ context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
	f.scrolled = append(f.scrolled, req)
	return f.scrollResp, nil
}

func (f *fakeAPI) Close() error {
	f.closed = true
	return nil
}

func newTestClient(api API) (*GRPCClient, *logging.TestLogger) {
	logger := logging.NewTestLogger()
	return newClient(api, &ClientConfig{RetryBackoff: time.Millisecond}, logger.Logger), logger
}

func retrieved(id uint64, vectors map[string][]float32, payload map[string]*qdrant.Value) *qdrant.RetrievedPoint {
	p := &qdrant.RetrievedPoint{Id: qdrant.NewIDNum(id), Payload: payload}
	if vectors != nil {
		named := make(map[string]*qdrant.VectorOutput, len(vectors))
		for name, v := range vectors {
			named[name] = &qdrant.VectorOutput{Vector: &qdrant.VectorOutput_Dense{Dense: &qdrant.DenseVector{Data: v}}}
		}
		p.Vectors = &qdrant.VectorsOutput{
			VectorsOptions: &qdrant.VectorsOutput_Vectors{Vectors: &qdrant.NamedVectorsOutput{Vectors: named}},
		}
	}
	return p
}

func TestClientConfig_ApplyDefaults(t *testing.T) {
	tests := []struct {
		name   string
		config *ClientConfig
		check  func(t *testing.T, cfg *ClientConfig)
	}{
		{
			name:   "empty config gets all defaults",
			config: &ClientConfig{},
			check: func(t *testing.T, cfg *ClientConfig) {
				assert.Equal(t, "localhost", cfg.Host)
				assert.Equal(t, 6334, cfg.Port)
				assert.False(t, cfg.UseTLS)
				assert.Equal(t, 50*1024*1024, cfg.MaxMessageSize)
				assert.Equal(t, 5*time.Second, cfg.DialTimeout)
				assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
				assert.Equal(t, 3, cfg.RetryAttempts)
				assert.Equal(t, time.Second, cfg.RetryBackoff)
			},
		},
		{
			name:   "partial config preserves set values",
			config: &ClientConfig{Host: "qdrant.internal", Port: 6335},
			check: func(t *testing.T, cfg *ClientConfig) {
				assert.Equal(t, "qdrant.internal", cfg.Host)
				assert.Equal(t, 6335, cfg.Port)
				assert.Equal(t, 5*time.Second, cfg.DialTimeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.ApplyDefaults()
			tt.check(t, tt.config)
		})
	}
}

func TestClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		config *ClientConfig
		errMsg string
	}{
		{name: "valid", config: &ClientConfig{Host: "localhost", Port: 6334, MaxMessageSize: 1024}},
		{name: "missing host", config: &ClientConfig{Port: 6334, MaxMessageSize: 1024}, errMsg: "host is required"},
		{name: "port zero", config: &ClientConfig{Host: "localhost", MaxMessageSize: 1024}, errMsg: "invalid port"},
		{name: "port too large", config: &ClientConfig{Host: "localhost", Port: 65536, MaxMessageSize: 1024}, errMsg: "invalid port"},
		{name: "message size", config: &ClientConfig{Host: "localhost", Port: 6334}, errMsg: "invalid max message size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestClientConfig_ApplyURL(t *testing.T) {
	tests := []struct {
		url     string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{url: "http://localhost:6334", host: "localhost", port: 6334},
		{url: "https://xyz.cloud.qdrant.io:6334", host: "xyz.cloud.qdrant.io", port: 6334, tls: true},
		{url: "https://xyz.cloud.qdrant.io", host: "xyz.cloud.qdrant.io", port: 6334, tls: true},
		{url: "grpc://qdrant:7000", host: "qdrant", port: 7000},
		{url: "ftp://qdrant:7000", wantErr: true},
		{url: "http://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			cfg := DefaultClientConfig()
			err := cfg.ApplyURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, cfg.Host)
			assert.Equal(t, tt.port, cfg.Port)
			assert.Equal(t, tt.tls, cfg.UseTLS)
		})
	}
}

func TestNewGRPCClient_RequiresLogger(t *testing.T) {
	_, err := NewGRPCClient(DefaultClientConfig(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")
}

func TestEnsureCollection_CreatesNamedVectors(t *testing.T) {
	api := &fakeAPI{}
	c, logger := newTestClient(api)

	err := c.EnsureCollection(context.Background(), "repos", CollectionSpec{
		Vectors:  map[string]uint64{"purpose": 384, "stack": 384},
		Quantize: true,
	})
	require.NoError(t, err)
	require.NotNil(t, api.created)

	assert.Equal(t, "repos", api.created.CollectionName)
	params := api.created.GetVectorsConfig().GetParamsMap().GetMap()
	require.Len(t, params, 2)
	for _, name := range []string{"purpose", "stack"} {
		assert.Equal(t, uint64(384), params[name].GetSize())
		assert.Equal(t, qdrant.Distance_Cosine, params[name].GetDistance())
	}
	scalar := api.created.GetQuantizationConfig().GetScalar()
	require.NotNil(t, scalar)
	assert.Equal(t, qdrant.QuantizationType_Int8, scalar.GetType())
	assert.True(t, scalar.GetAlwaysRam())
	logger.AssertLogged(t, zapcore.InfoLevel, "created qdrant collection")
}

func TestEnsureCollection_Existing(t *testing.T) {
	api := &fakeAPI{exists: true}
	c, _ := newTestClient(api)

	require.NoError(t, c.EnsureCollection(context.Background(), "repos", CollectionSpec{Vectors: map[string]uint64{"purpose": 4}}))
	assert.Nil(t, api.created)
}

func TestEnsureCollection_AlreadyExistsRace(t *testing.T) {
	api := &fakeAPI{createErr: status.Error(codes.AlreadyExists, "exists")}
	c, _ := newTestClient(api)

	assert.NoError(t, c.EnsureCollection(context.Background(), "repos", CollectionSpec{Vectors: map[string]uint64{"purpose": 4}}))
}

func TestCreateCollection_NoVectors(t *testing.T) {
	c, _ := newTestClient(&fakeAPI{})
	assert.Error(t, c.CreateCollection(context.Background(), "repos", CollectionSpec{}))
}

func TestUpsert_ConvertsPoint(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(api)

	err := c.Upsert(context.Background(), "repos", []*Point{{
		ID:      42,
		Vectors: map[string][]float32{"purpose": {1, 0}, "stack": {0, 1}},
		Payload: map[string]any{"full_name": "a/b", "stars": 7, "topics": []string{"x", "y"}},
	}})
	require.NoError(t, err)
	require.Len(t, api.upserted.GetPoints(), 1)

	p := api.upserted.GetPoints()[0]
	assert.Equal(t, uint64(42), p.GetId().GetNum())
	assert.True(t, api.upserted.GetWait())

	named := p.GetVectors().GetVectors().GetVectors()
	require.Len(t, named, 2)
	assert.Equal(t, "a/b", p.GetPayload()["full_name"].GetStringValue())
	assert.Equal(t, int64(7), p.GetPayload()["stars"].GetIntegerValue())
	topics := p.GetPayload()["topics"].GetListValue().GetValues()
	require.Len(t, topics, 2)
	assert.Equal(t, "y", topics[1].GetStringValue())
}

func TestQuery_UsesNamedVector(t *testing.T) {
	api := &fakeAPI{queryResp: []*qdrant.ScoredPoint{
		{Id: qdrant.NewIDNum(3), Score: 0.9, Payload: map[string]*qdrant.Value{
			"full_name": {Kind: &qdrant.Value_StringValue{StringValue: "c/d"}},
		}},
	}}
	c, _ := newTestClient(api)

	hits, err := c.Query(context.Background(), "repos", "stack", []float32{1, 0}, 15)
	require.NoError(t, err)

	assert.Equal(t, "stack", api.queried.GetUsing())
	assert.Equal(t, uint64(15), api.queried.GetLimit())
	require.Len(t, hits, 1)
	assert.Equal(t, uint64(3), hits[0].ID)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-6)
	assert.Equal(t, "c/d", hits[0].Payload["full_name"])
}

func TestGet_WithVectors(t *testing.T) {
	api := &fakeAPI{getResp: []*qdrant.RetrievedPoint{
		retrieved(9, map[string][]float32{"purpose": {0.6, 0.8}, "stack": {1, 0}}, nil),
	}}
	c, _ := newTestClient(api)

	points, err := c.Get(context.Background(), "repos", []uint64{9}, true)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, []float32{0.6, 0.8}, points[0].Vectors["purpose"])
	assert.Equal(t, []float32{1, 0}, points[0].Vectors["stack"])
	assert.Equal(t, uint64(9), api.got.GetIds()[0].GetNum())
	assert.True(t, api.got.GetWithVectors().GetEnable())
}

func TestDeleteAndCount(t *testing.T) {
	api := &fakeAPI{count: 12}
	c, _ := newTestClient(api)
	ctx := context.Background()

	require.NoError(t, c.Delete(ctx, "repos", []uint64{1, 2}))
	ids := api.deleted.GetPoints().GetPoints().GetIds()
	require.Len(t, ids, 2)
	assert.Equal(t, uint64(2), ids[1].GetNum())

	n, err := c.Count(ctx, "repos")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), n)
	assert.True(t, api.counted.GetExact())
}

func TestScroll_Pages(t *testing.T) {
	api := &fakeAPI{scrollResp: []*qdrant.RetrievedPoint{
		retrieved(1, nil, nil), retrieved(2, nil, nil), retrieved(3, nil, nil),
	}}
	c, _ := newTestClient(api)
	ctx := context.Background()

	points, next, err := c.Scroll(ctx, "repos", nil, 2, false)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.NotNil(t, next)
	assert.Equal(t, uint64(3), *next)
	assert.Equal(t, uint32(3), api.scrolled[0].GetLimit())
	assert.Nil(t, api.scrolled[0].GetOffset())

	api.scrollResp = []*qdrant.RetrievedPoint{retrieved(3, nil, nil)}
	points, next, err = c.Scroll(ctx, "repos", next, 2, false)
	require.NoError(t, err)
	assert.Len(t, points, 1)
	assert.Nil(t, next)
	assert.Equal(t, uint64(3), api.scrolled[1].GetOffset().GetNum())
}

func TestHealthAndClose(t *testing.T) {
	api := &fakeAPI{healthErr: status.Error(codes.Unavailable, "down")}
	c, _ := newTestClient(api)

	err := c.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")

	require.NoError(t, c.Close())
	assert.True(t, api.closed)
}

func TestCollectionExists_RetriesTransient(t *testing.T) {
	api := &fakeAPI{exists: true, existsErrs: []error{status.Error(codes.Unavailable, "blip")}}
	c, logger := newTestClient(api)

	ok, err := c.CollectionExists(context.Background(), "repos")
	require.NoError(t, err)
	assert.True(t, ok)
	logger.AssertLogged(t, zapcore.InfoLevel, "operation recovered after retries")
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"unavailable", status.Error(codes.Unavailable, ""), true},
		{"deadline", status.Error(codes.DeadlineExceeded, ""), true},
		{"aborted", status.Error(codes.Aborted, ""), true},
		{"exhausted", status.Error(codes.ResourceExhausted, ""), true},
		{"invalid argument", status.Error(codes.InvalidArgument, ""), false},
		{"not found", status.Error(codes.NotFound, ""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransientError(tt.err))
		})
	}
}

func TestRetryOperation_Logging(t *testing.T) {
	type logLine struct {
		level   zapcore.Level
		message string
	}
	tests := []struct {
		name          string
		operation     func() error
		retryAttempts int
		wantErr       bool
		expectedLogs  []logLine
	}{
		{
			name:          "success without retries",
			operation:     func() error { return nil },
			retryAttempts: 3,
		},
		{
			name: "transient error then success",
			operation: func() func() error {
				attempt := 0
				return func() error {
					attempt++
					if attempt == 1 {
						return status.Error(codes.Unavailable, "service unavailable")
					}
					return nil
				}
			}(),
			retryAttempts: 3,
			expectedLogs: []logLine{
				{zapcore.DebugLevel, "retrying operation after transient error"},
				{zapcore.InfoLevel, "operation recovered after retries"},
			},
		},
		{
			name:          "all retries exhausted",
			operation:     func() error { return status.Error(codes.Unavailable, "service unavailable") },
			retryAttempts: 2,
			wantErr:       true,
			expectedLogs: []logLine{
				{zapcore.DebugLevel, "retrying operation after transient error"},
				{zapcore.WarnLevel, "operation failed after all retries exhausted"},
			},
		},
		{
			name:          "non-transient error",
			operation:     func() error { return status.Error(codes.InvalidArgument, "bad request") },
			retryAttempts: 3,
			wantErr:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testLogger := logging.NewTestLogger()
			client := &GRPCClient{
				config: &ClientConfig{RetryAttempts: tt.retryAttempts, RetryBackoff: time.Millisecond},
				logger: testLogger.Logger,
			}

			err := client.retryOperation(context.Background(), tt.operation)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			for _, l := range tt.expectedLogs {
				testLogger.AssertLogged(t, l.level, l.message)
			}
			if len(tt.expectedLogs) == 0 {
				assert.Empty(t, testLogger.All())
			}
		})
	}
}

func TestRetryOperation_ContextCancelled(t *testing.T) {
	client := &GRPCClient{
		config: &ClientConfig{RetryAttempts: 3, RetryBackoff: time.Hour},
		logger: logging.NewNop(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := client.retryOperation(ctx, func() error { return status.Error(codes.Unavailable, "down") })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConvertToQdrantValue(t *testing.T) {
	assert.Equal(t, "x", convertToQdrantValue("x").GetStringValue())
	assert.Equal(t, int64(3), convertToQdrantValue(3).GetIntegerValue())
	assert.Equal(t, int64(4), convertToQdrantValue(int64(4)).GetIntegerValue())
	assert.InDelta(t, 1.5, convertToQdrantValue(1.5).GetDoubleValue(), 1e-9)
	assert.True(t, convertToQdrantValue(true).GetBoolValue())
	assert.Len(t, convertToQdrantValue([]any{"a", 1}).GetListValue().GetValues(), 2)
	assert.Equal(t, "{1}", convertToQdrantValue(struct{ A int }{1}).GetStringValue())
}

func TestExtractPayload(t *testing.T) {
	assert.Nil(t, extractPayload(nil))

	got := extractPayload(map[string]*qdrant.Value{
		"s": {Kind: &qdrant.Value_StringValue{StringValue: "v"}},
		"i": {Kind: &qdrant.Value_IntegerValue{IntegerValue: 5}},
		"l": convertToQdrantValue([]string{"a", "b"}),
	})
	assert.Equal(t, "v", got["s"])
	assert.Equal(t, int64(5), got["i"])
	assert.Equal(t, []any{"a", "b"}, got["l"])
}

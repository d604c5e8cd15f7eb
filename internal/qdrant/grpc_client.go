package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/reporadar/internal/logging"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// GRPCClient talks to Qdrant over gRPC with per-request timeouts and
// retries on transient failures.
type GRPCClient struct {
	api    API
	config *ClientConfig
	logger *logging.Logger
}

// ClientConfig configures the Qdrant gRPC client.
type ClientConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT HTTP REST port).
	// Default: 6334 (gRPC), not 6333 (HTTP)
	Port int

	// UseTLS enables TLS encryption for gRPC connection.
	UseTLS bool

	// APIKey is the optional API key for authentication.
	APIKey string

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// DialTimeout bounds the health check performed at construction.
	// Default: 5 seconds
	DialTimeout time.Duration

	// RequestTimeout is the default timeout for individual requests.
	// Default: 30 seconds
	RequestTimeout time.Duration

	// RetryAttempts is the number of retry attempts for transient failures.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the first wait between attempts; it doubles each time.
	// Default: 1 second
	RetryBackoff time.Duration
}

// DefaultClientConfig returns sensible defaults for local development.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Host:           "localhost",
		Port:           6334,
		MaxMessageSize: 50 * 1024 * 1024,
		DialTimeout:    5 * time.Second,
		RequestTimeout: 30 * time.Second,
		RetryAttempts:  3,
		RetryBackoff:   time.Second,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *ClientConfig) ApplyDefaults() {
	defaults := DefaultClientConfig()

	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.Port == 0 {
		c.Port = defaults.Port
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaults.DialTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = defaults.RetryAttempts
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
}

// Validate validates the client configuration.
func (c *ClientConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("invalid max message size: %d (must be > 0)", c.MaxMessageSize)
	}
	return nil
}

// ApplyURL overrides Host, Port and UseTLS from a URL such as
// "https://xyz.cloud.qdrant.io:6334". A URL without a port keeps Port.
func (c *ClientConfig) ApplyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing qdrant url: %w", err)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("qdrant url %q has no host", raw)
	}
	switch u.Scheme {
	case "https", "grpcs":
		c.UseTLS = true
	case "http", "grpc", "":
		c.UseTLS = false
	default:
		return fmt.Errorf("unsupported qdrant url scheme %q", u.Scheme)
	}
	c.Host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid qdrant port %q: %w", p, err)
		}
		c.Port = port
	}
	return nil
}

// NewGRPCClient dials Qdrant and verifies the connection with a health check.
func NewGRPCClient(config *ClientConfig, logger *logging.Logger) (*GRPCClient, error) {
	if config == nil {
		config = DefaultClientConfig()
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	qdrantConfig := &qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	}
	if !config.UseTLS {
		qdrantConfig.GrpcOptions = append(qdrantConfig.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qdrantConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	c := newClient(client, config, logger)

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	logger.Info(ctx, "connecting to qdrant",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Bool("tls", config.UseTLS),
	)
	if err := c.Health(ctx); err != nil {
		_ = client.Close()
		logger.Error(ctx, "qdrant health check failed",
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
			zap.Error(err),
		)
		return nil, err
	}
	logger.Info(ctx, "qdrant connection established",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
	)
	return c, nil
}

// newClient wraps an existing API without dialing or health checking.
func newClient(api API, config *ClientConfig, logger *logging.Logger) *GRPCClient {
	config.ApplyDefaults()
	return &GRPCClient{api: api, config: config, logger: logger}
}

// Health performs a health check on the Qdrant connection.
func (c *GRPCClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	if _, err := c.api.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// CollectionExists checks if a collection exists.
func (c *GRPCClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var exists bool
	err := c.retryOperation(ctx, func() error {
		ok, err := c.api.CollectionExists(ctx, name)
		if err != nil {
			return err
		}
		exists = ok
		return nil
	})
	return exists, err
}

// CreateCollection creates a collection with one cosine vector per name in spec.
func (c *GRPCClient) CreateCollection(ctx context.Context, name string, spec CollectionSpec) error {
	if len(spec.Vectors) == 0 {
		return errors.New("collection needs at least one named vector")
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	params := make(map[string]*qdrant.VectorParams, len(spec.Vectors))
	for vectorName, size := range spec.Vectors {
		params[vectorName] = &qdrant.VectorParams{
			Size:     size,
			Distance: qdrant.Distance_Cosine,
		}
	}
	req := &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig:  qdrant.NewVectorsConfigMap(params),
	}
	if spec.Quantize {
		req.QuantizationConfig = qdrant.NewQuantizationScalar(&qdrant.ScalarQuantization{
			Type:      qdrant.QuantizationType_Int8,
			AlwaysRam: qdrant.PtrOf(true),
		})
	}

	return c.retryOperation(ctx, func() error {
		return c.api.CreateCollection(ctx, req)
	})
}

// EnsureCollection creates the collection unless it already exists.
func (c *GRPCClient) EnsureCollection(ctx context.Context, name string, spec CollectionSpec) error {
	exists, err := c.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	if err := c.CreateCollection(ctx, name, spec); err != nil {
		// Lost a race with another creator.
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	c.logger.Info(ctx, "created qdrant collection",
		zap.String("collection", name),
		zap.Int("vectors", len(spec.Vectors)),
		zap.Bool("quantized", spec.Quantize),
	)
	return nil
}

// Upsert inserts or fully replaces points.
func (c *GRPCClient) Upsert(ctx context.Context, collection string, points []*Point) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, point := range points {
		qdrantPoints[i] = convertToQdrantPoint(point)
	}

	return c.retryOperation(ctx, func() error {
		_, err := c.api.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrantPoints,
		})
		return err
	})
}

// Query returns the nearest points to vector in the named vector space.
func (c *GRPCClient) Query(ctx context.Context, collection, vectorName string, vector []float32, limit uint64) ([]*ScoredPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var results []*qdrant.ScoredPoint
	err := c.retryOperation(ctx, func() error {
		res, err := c.api.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Using:          qdrant.PtrOf(vectorName),
			Limit:          qdrant.PtrOf(limit),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	scored := make([]*ScoredPoint, len(results))
	for i, r := range results {
		scored[i] = &ScoredPoint{
			Point: Point{
				ID:      r.GetId().GetNum(),
				Payload: extractPayload(r.GetPayload()),
			},
			Score: r.GetScore(),
		}
	}
	return scored, nil
}

// Get retrieves points by id. Missing ids are absent from the result.
func (c *GRPCClient) Get(ctx context.Context, collection string, ids []uint64, withVectors bool) ([]*Point, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var points []*qdrant.RetrievedPoint
	err := c.retryOperation(ctx, func() error {
		res, err := c.api.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            pointIDs(ids),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(withVectors),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*Point, len(points))
	for i, p := range points {
		out[i] = convertFromRetrievedPoint(p)
	}
	return out, nil
}

// Delete removes points by id.
func (c *GRPCClient) Delete(ctx context.Context, collection string, ids []uint64) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	return c.retryOperation(ctx, func() error {
		_, err := c.api.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs(ids)},
				},
			},
		})
		return err
	})
}

// Count returns the exact number of points in collection.
func (c *GRPCClient) Count(ctx context.Context, collection string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var n uint64
	err := c.retryOperation(ctx, func() error {
		count, err := c.api.Count(ctx, &qdrant.CountPoints{
			CollectionName: collection,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		n = count
		return nil
	})
	return n, err
}

// Scroll returns up to limit points with id >= offset (nil starts at the
// beginning), in id order, and the offset of the next page. next is nil on
// the last page.
func (c *GRPCClient) Scroll(ctx context.Context, collection string, offset *uint64, limit uint32, withVectors bool) (points []*Point, next *uint64, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		// One extra point tells us where the next page starts.
		Limit:       qdrant.PtrOf(limit + 1),
		WithPayload: qdrant.NewWithPayload(true),
		WithVectors: qdrant.NewWithVectors(withVectors),
	}
	if offset != nil {
		req.Offset = qdrant.NewIDNum(*offset)
	}

	var page []*qdrant.RetrievedPoint
	err = c.retryOperation(ctx, func() error {
		res, err := c.api.Scroll(ctx, req)
		if err != nil {
			return err
		}
		page = res
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if uint32(len(page)) > limit {
		id := page[limit].GetId().GetNum()
		next = &id
		page = page[:limit]
	}
	points = make([]*Point, len(page))
	for i, p := range page {
		points[i] = convertFromRetrievedPoint(p)
	}
	return points, next, nil
}

// Close closes the client connection.
func (c *GRPCClient) Close() error {
	if c.api != nil {
		return c.api.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff.
func (c *GRPCClient) retryOperation(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := c.config.RetryBackoff
	startTime := time.Now()

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				c.logger.Info(ctx, "operation recovered after retries",
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(startTime)),
				)
			}
			return nil
		}

		lastErr = err
		if !isTransientError(err) {
			return err
		}
		if attempt == c.config.RetryAttempts {
			break
		}

		c.logger.Debug(ctx, "retrying operation after transient error",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.config.RetryAttempts),
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-timer.C:
			backoff *= 2
		}
	}

	c.logger.Warn(ctx, "operation failed after all retries exhausted",
		zap.Int("total_attempts", c.config.RetryAttempts+1),
		zap.Duration("total_time", time.Since(startTime)),
		zap.Error(lastErr),
	)
	return fmt.Errorf("operation failed after %d retries: %w", c.config.RetryAttempts, lastErr)
}

// isTransientError checks if an error is transient and should be retried.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func pointIDs(ids []uint64) []*qdrant.PointId {
	out := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		out[i] = qdrant.NewIDNum(id)
	}
	return out
}

func convertToQdrantPoint(p *Point) *qdrant.PointStruct {
	payload := make(map[string]*qdrant.Value, len(p.Payload))
	for k, v := range p.Payload {
		payload[k] = convertToQdrantValue(v)
	}

	vectors := make(map[string]*qdrant.Vector, len(p.Vectors))
	for name, v := range p.Vectors {
		vectors[name] = qdrant.NewVector(v...)
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDNum(p.ID),
		Vectors: qdrant.NewVectorsMap(vectors),
		Payload: payload,
	}
}

func convertToQdrantValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case nil:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{}}
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	case []string:
		values := make([]*qdrant.Value, len(val))
		for i, s := range val {
			values[i] = convertToQdrantValue(s)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
	case []any:
		values := make([]*qdrant.Value, len(val))
		for i, item := range val {
			values[i] = convertToQdrantValue(item)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

func convertFromRetrievedPoint(p *qdrant.RetrievedPoint) *Point {
	return &Point{
		ID:      p.GetId().GetNum(),
		Vectors: extractNamedVectors(p.GetVectors()),
		Payload: extractPayload(p.GetPayload()),
	}
}

func extractNamedVectors(vectors *qdrant.VectorsOutput) map[string][]float32 {
	named := vectors.GetVectors().GetVectors()
	if len(named) == 0 {
		return nil
	}
	out := make(map[string][]float32, len(named))
	for name, v := range named {
		if dense := v.GetDense(); dense != nil {
			out[name] = dense.GetData()
			continue
		}
		//nolint:staticcheck // older servers only fill the flat data field
		out[name] = v.GetData()
	}
	return out
}

func extractPayload(payload map[string]*qdrant.Value) map[string]any {
	if payload == nil {
		return nil
	}
	result := make(map[string]any, len(payload))
	for k, v := range payload {
		result[k] = extractValue(v)
	}
	return result
}

func extractValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_ListValue:
		items := val.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = extractValue(item)
		}
		return out
	default:
		return nil
	}
}

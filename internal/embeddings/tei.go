package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TEIConfig holds configuration for a text-embeddings-inference server.
type TEIConfig struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string

	// Model names the served model. It only determines Dimension.
	Model string

	// Dimension overrides the size derived from Model.
	Dimension int

	// Timeout bounds each request. Default 30s.
	Timeout time.Duration

	// HTTPClient replaces the default client.
	HTTPClient *http.Client
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Dimension < 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// TEI embeds text through a TEI server's /embed endpoint.
type TEI struct {
	baseURL   string
	dimension int
	client    *http.Client
}

// NewTEI creates a TEI client.
func NewTEI(cfg TEIConfig) (*TEI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	dim := cfg.Dimension
	if dim == 0 {
		dim = guessDimension(cfg.Model)
	}
	return &TEI{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		dimension: dim,
		client:    client,
	}, nil
}

type teiRequest struct {
	Inputs    []string `json:"inputs"`
	Truncate  bool     `json:"truncate"`
	Normalize bool     `json:"normalize"`
}

// Embed embeds one text.
func (t *TEI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := t.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request.
func (t *TEI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	body, err := json.Marshal(teiRequest{Inputs: texts, Truncate: true, Normalize: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vecs [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vecs); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), len(texts))
	}
	for _, v := range vecs {
		if err := checkDimension(v, t.dimension); err != nil {
			return nil, err
		}
		normalize(v)
	}
	return vecs, nil
}

// Dimension returns the configured vector size.
func (t *TEI) Dimension() int { return t.dimension }

// Close is a no-op for TEI since it uses HTTP.
func (t *TEI) Close() error { return nil }

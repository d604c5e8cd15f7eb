package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// HashEmbedder is a deterministic Embedder for tests. Each text maps to a
// pseudo-random unit vector seeded by its SHA-256, and texts registered
// with Set return a fixed vector instead.
type HashEmbedder struct {
	dim   int
	calls atomic.Int64

	mu    sync.RWMutex
	fixed map[string][]float32
	err   error
}

// NewHashEmbedder returns a HashEmbedder producing dim-sized vectors.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim, fixed: make(map[string][]float32)}
}

// Set pins text to v (normalised on the way out).
func (h *HashEmbedder) Set(text string, v []float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fixed[text] = append([]float32(nil), v...)
}

// FailWith makes every later call return err. nil restores normal operation.
func (h *HashEmbedder) FailWith(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

// Calls counts texts embedded so far.
func (h *HashEmbedder) Calls() int { return int(h.calls.Load()) }

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.err != nil {
		return nil, h.err
	}
	h.calls.Add(1)

	if v, ok := h.fixed[text]; ok {
		return normalize(append([]float32(nil), v...)), nil
	}

	v := make([]float32, h.dim)
	seed := sha256.Sum256([]byte(text))
	state := binary.LittleEndian.Uint64(seed[:8]) | 1
	for i := range v {
		// xorshift64
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v[i] = float32(int64(state>>11)%2001-1000) / 1000
	}
	return normalize(v), nil
}

func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Close() error { return nil }

// Package cpufallback implements an in-process deterministic embedder used
// when no network embedding provider is reachable. It is always available
// and is lazily "loaded" on first use, matching the original chain's
// cpu-fallback provider contract.
package cpufallback

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"

	"github.com/oak-dev/cid/internal/embedding"
)

// Provider hashes each token of the input text into a fixed-size float32
// vector and L2-normalizes it. This is not a learned embedding model: it
// exists solely to keep indexing and search functional when no real
// provider is reachable, at the cost of semantic quality.
type Provider struct {
	MaxChars int

	dims   int
	loaded atomic.Bool
	mu     sync.Mutex
}

// New builds a CPU fallback provider with the given output dimension.
func New(dimensions, maxChars int) *Provider {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &Provider{dims: dimensions, MaxChars: maxChars}
}

func (p *Provider) Name() string    { return "cpu-fallback" }
func (p *Provider) Dimensions() int { return p.dims }

// IsAvailable is always true: this provider has no external dependency.
// Calling it also lazily marks the provider "loaded", mirroring the
// original's lazy-load-on-first-use semantics.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	p.ensureLoaded()
	return true
}

func (p *Provider) ensureLoaded() {
	if p.loaded.Load() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded.Store(true)
}

// Embed hashes each text into a deterministic vector. Empty strings embed
// as nil, consistent with the network providers' skip-empty behavior.
func (p *Provider) Embed(ctx context.Context, texts []string) (embedding.Result, error) {
	p.ensureLoaded()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if text == "" {
			continue
		}
		truncated := text
		if p.MaxChars > 0 && len(truncated) > p.MaxChars {
			truncated = truncated[:p.MaxChars]
		}
		out[i] = hashEmbed(truncated, p.dims)
	}

	return embedding.Result{
		Embeddings: out,
		Model:      "cpu-fallback-hash",
		Provider:   p.Name(),
		Dimensions: p.dims,
	}, nil
}

// hashEmbed deterministically folds text into a dims-length unit vector by
// hashing each whitespace-separated token into a bucket and accumulating a
// signed weight, then L2-normalizing.
func hashEmbed(text string, dims int) []float32 {
	vec := make([]float64, dims)
	token := make([]byte, 0, 32)
	flush := func() {
		if len(token) == 0 {
			return
		}
		h := fnv.New64a()
		h.Write(token)
		sum := h.Sum64()
		bucket := int(sum % uint64(dims))
		sign := 1.0
		if sum&1 == 1 {
			sign = -1.0
		}
		vec[bucket] += sign
		token = token[:0]
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == ' ' || c == '\n' || c == '\t' {
			flush()
			continue
		}
		token = append(token, c)
	}
	flush()

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}

	out := make([]float32, dims)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

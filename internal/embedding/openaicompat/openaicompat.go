// Package openaicompat implements an embedding provider against any
// OpenAI-compatible /v1/embeddings endpoint, batching all texts in one
// request and auto-detecting dimensions from the first response.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oak-dev/cid/internal/embedding"
)

// Provider talks to an OpenAI-compatible embeddings endpoint.
type Provider struct {
	Model    string
	BaseURL  string
	APIKey   string
	MaxChars int

	configuredDims int
	client         *http.Client

	mu           sync.Mutex
	detectedDims int
}

// New builds an OpenAI-compatible provider. dimensions seeds the reported
// Dimensions() until the first successful response auto-detects the real
// value.
func New(model, baseURL, apiKey string, dimensions, maxChars int) *Provider {
	return &Provider{
		Model:          model,
		BaseURL:        strings.TrimRight(baseURL, "/"),
		APIKey:         apiKey,
		MaxChars:       maxChars,
		configuredDims: dimensions,
		client:         &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *Provider) Name() string { return "openai-compat" }

func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detectedDims > 0 {
		return p.detectedDims
	}
	return p.configuredDims
}

func (p *Provider) IsAvailable(ctx context.Context) bool {
	if p.BaseURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed batches all texts into a single request. Empty strings are sent
// as a single space to keep response ordering aligned with the input slice
// (the API rejects truly empty inputs); their result slots are left nil.
func (p *Provider) Embed(ctx context.Context, texts []string) (embedding.Result, error) {
	inputs := make([]string, len(texts))
	for i, t := range texts {
		if t == "" {
			inputs[i] = " "
			continue
		}
		if p.MaxChars > 0 && len(t) > p.MaxChars {
			t = t[:p.MaxChars]
		}
		inputs[i] = t
	}

	body, err := json.Marshal(embedRequest{Model: p.Model, Input: inputs})
	if err != nil {
		return embedding.Result{}, fmt.Errorf("openai-compat: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return embedding.Result{}, fmt.Errorf("openai-compat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return embedding.Result{}, fmt.Errorf("openai-compat: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return embedding.Result{}, fmt.Errorf("openai-compat: status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return embedding.Result{}, fmt.Errorf("openai-compat: decode response: %w", err)
	}

	embeddings := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if i < len(texts) && texts[i] == "" {
			continue
		}
		embeddings[i] = d.Embedding
	}
	if len(embeddings) > 0 && len(embeddings[0]) > 0 {
		p.mu.Lock()
		p.detectedDims = len(embeddings[0])
		p.mu.Unlock()
	}

	return embedding.Result{
		Embeddings: embeddings,
		Model:      p.Model,
		Provider:   p.Name(),
		Dimensions: p.Dimensions(),
	}, nil
}

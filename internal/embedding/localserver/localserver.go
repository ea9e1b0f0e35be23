// Package localserver implements an Ollama-style local embedding provider:
// one text embedded per request against a local HTTP server.
package localserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oak-dev/cid/internal/embedding"
)

// Provider talks to a local Ollama-compatible server.
type Provider struct {
	Model    string
	BaseURL  string
	MaxChars int

	dims   int
	client *http.Client
}

// New builds a local-server provider.
func New(model, baseURL string, dimensions, maxChars int) *Provider {
	return &Provider{
		Model:    model,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		dims:     dimensions,
		MaxChars: maxChars,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *Provider) Name() string    { return "local-server" }
func (p *Provider) Dimensions() int { return p.dims }

// CheckAvailability performs GET /api/tags to confirm the model is present.
func (p *Provider) CheckAvailability(ctx context.Context) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/api/tags", nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("unreachable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, fmt.Sprintf("decode /api/tags: %v", err)
	}
	baseModel := resolveModelName(p.Model)
	for _, m := range tags.Models {
		if resolveModelName(m.Name) == baseModel {
			return true, ""
		}
	}

	// The server is up but the model is absent: ask it to pull once.
	if err := p.pullModel(ctx); err != nil {
		return false, fmt.Sprintf("model %q not pulled: %v", p.Model, err)
	}
	return true, ""
}

// pullModel requests a blocking model pull from the server, so a freshly
// installed daemon can self-provision its embedding model.
func (p *Provider) pullModel(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{"name": p.Model, "stream": false})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) IsAvailable(ctx context.Context) bool {
	ok, _ := p.CheckAvailability(ctx)
	return ok
}

// resolveModelName strips a ":tag" suffix so "nomic-embed-text:latest" and
// "nomic-embed-text" are treated as the same model.
func resolveModelName(name string) string {
	if i := strings.Index(name, ":"); i >= 0 {
		return name[:i]
	}
	return name
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed embeds each text with its own request, matching Ollama's
// single-text /api/embeddings endpoint. Empty strings are skipped.
func (p *Provider) Embed(ctx context.Context, texts []string) (embedding.Result, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if text == "" {
			out = append(out, nil)
			continue
		}
		truncated := text
		if p.MaxChars > 0 && len(truncated) > p.MaxChars {
			truncated = truncated[:p.MaxChars]
		}

		body, err := json.Marshal(embedRequest{Model: p.Model, Prompt: truncated})
		if err != nil {
			return embedding.Result{}, fmt.Errorf("local-server: marshal request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return embedding.Result{}, fmt.Errorf("local-server: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return embedding.Result{}, fmt.Errorf("local-server: request failed: %w", err)
		}
		var parsed embedResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return embedding.Result{}, fmt.Errorf("local-server: status %d", resp.StatusCode)
		}
		if decodeErr != nil {
			return embedding.Result{}, fmt.Errorf("local-server: decode response: %w", decodeErr)
		}
		out = append(out, parsed.Embedding)
	}

	return embedding.Result{
		Embeddings: out,
		Model:      p.Model,
		Provider:   p.Name(),
		Dimensions: p.dims,
	}, nil
}

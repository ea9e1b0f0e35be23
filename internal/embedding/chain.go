package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Chain is an ordered list of providers, p0 the configured primary. Embed
// tries each in order, skipping fallbacks whose dimensions differ from the
// primary's to avoid mixing incompatible vectors in one collection.
type Chain struct {
	providers []Provider
	logger    *slog.Logger

	mu             sync.Mutex
	activeProvider Provider
	stats          map[string]*usageStats
}

type usageStats struct {
	Success int
	Failure int
}

// NewChain builds a provider chain. providers[0] is the primary; its
// Dimensions() value is what the chain reports regardless of availability.
func NewChain(providers []Provider, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		logger:    logger,
		stats:     make(map[string]*usageStats),
	}
}

// Name returns the currently active provider's name, or "chain:none".
func (c *Chain) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeProvider != nil {
		return c.activeProvider.Name()
	}
	return "chain:none"
}

// Dimensions always returns the primary's configured dimensions regardless
// of availability: configuration is the source of truth, so a slow-starting
// primary never causes a collection to be created at the wrong size.
func (c *Chain) Dimensions() int {
	if len(c.providers) > 0 {
		return c.providers[0].Dimensions()
	}
	return 768
}

// IsAvailable reports whether any provider in the chain is currently
// reachable.
func (c *Chain) IsAvailable(ctx context.Context) bool {
	for _, p := range c.providers {
		if p.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// Embed tries providers in order, tracking per-provider success/failure
// counts. Fallbacks with mismatched dimensions are skipped.
func (c *Chain) Embed(ctx context.Context, texts []string) (Result, error) {
	var lastErr error
	if len(c.providers) == 0 {
		return Result{}, fmt.Errorf("embedding: no providers configured")
	}
	// The baseline is always the configured primary's dimensions, even
	// when the primary is down: an unavailable primary must not let a
	// mismatched fallback write wrong-size vectors into its collections.
	primaryDimensions := c.providers[0].Dimensions()

	for i, p := range c.providers {
		if !p.IsAvailable(ctx) {
			continue
		}
		if i > 0 && p.Dimensions() != primaryDimensions {
			c.logger.Warn("skipping fallback provider: dimension mismatch",
				"provider", p.Name(), "dimensions", p.Dimensions(), "primary_dimensions", primaryDimensions)
			continue
		}

		result, err := p.Embed(ctx, texts)
		if err != nil {
			c.trackUsage(p.Name(), false)
			c.logger.Warn("embedding provider failed, trying next", "provider", p.Name(), "error", err)
			lastErr = err
			continue
		}
		c.trackUsage(p.Name(), true)
		c.mu.Lock()
		c.activeProvider = p
		c.mu.Unlock()
		return result, nil
	}

	if lastErr != nil {
		return Result{}, fmt.Errorf("embedding: all providers failed: %w", lastErr)
	}
	return Result{}, fmt.Errorf("embedding: no providers available")
}

func (c *Chain) trackUsage(name string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.stats[name]
	if !ok {
		st = &usageStats{}
		c.stats[name] = st
	}
	if success {
		st.Success++
	} else {
		st.Failure++
	}
}

// Reset clears the active-provider pin, so Name reports "chain:none" until
// the next successful Embed. Embed itself always tries providers in order.
func (c *Chain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeProvider = nil
}

// ProviderStatus is one entry of Chain.Status's per-provider report.
type ProviderStatus struct {
	Name       string `json:"name"`
	Available  bool   `json:"available"`
	Dimensions int    `json:"dimensions"`
	Success    int    `json:"success"`
	Failure    int    `json:"failure"`
}

// Status is the full report returned by GetStatus.
type Status struct {
	ActiveProvider  string           `json:"active_provider"`
	PrimaryProvider string           `json:"primary_provider"`
	Providers       []ProviderStatus `json:"providers"`
	TotalEmbeds     int              `json:"total_embeds"`
}

// GetStatus reports active/primary provider names, per-provider
// availability and dimensions, and usage counters.
func (c *Chain) GetStatus(ctx context.Context) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	var activeName string
	if c.activeProvider != nil {
		activeName = c.activeProvider.Name()
	}

	primary := ""
	if len(c.providers) > 0 {
		primary = c.providers[0].Name()
	}

	total := 0
	providerStatuses := make([]ProviderStatus, 0, len(c.providers))
	for _, p := range c.providers {
		st := c.stats[p.Name()]
		success, failure := 0, 0
		if st != nil {
			success, failure = st.Success, st.Failure
			total += success + failure
		}
		providerStatuses = append(providerStatuses, ProviderStatus{
			Name:       p.Name(),
			Available:  p.IsAvailable(ctx),
			Dimensions: p.Dimensions(),
			Success:    success,
			Failure:    failure,
		})
	}

	return Status{
		ActiveProvider:  activeName,
		PrimaryProvider: primary,
		Providers:       providerStatuses,
		TotalEmbeds:     total,
	}
}

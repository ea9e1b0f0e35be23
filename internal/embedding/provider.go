// Package embedding provides the pluggable embedding-provider interface and
// the ordered fallback chain used by the indexer and vector store.
package embedding

import "context"

// Result is what a Provider returns for one Embed call.
type Result struct {
	Embeddings [][]float32
	Model      string
	Provider   string
	Dimensions int
}

// Provider is the pluggable interface for an embedding backend, mirroring
// the dispatch package's pluggable-Backend shape: one small surface per
// concern, swappable at construction.
type Provider interface {
	// Name returns the provider name for logging/config ("local-server",
	// "openai-compat", "cpu-fallback").
	Name() string

	// Dimensions returns this provider's configured embedding dimension.
	Dimensions() int

	// IsAvailable reports whether the provider can currently serve embed
	// requests (e.g. reachable over HTTP).
	IsAvailable(ctx context.Context) bool

	// Embed embeds a batch of texts. Implementations truncate texts above
	// their provider-specific character cap and skip empty strings.
	Embed(ctx context.Context, texts []string) (Result, error)
}

// AvailabilityChecker is implemented by providers (the local-server type)
// that can report a human-readable reason for unavailability.
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context) (bool, string)
}

// truncate bounds how much of a text a provider will embed; texts longer
// than maxChars are cut to maxChars before being sent to the provider.
func truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

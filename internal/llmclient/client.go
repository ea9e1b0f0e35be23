// Package llmclient provides the pluggable completion interface the
// activity processor uses for classification, observation extraction,
// session summaries, and titles.
package llmclient

import "context"

// Client is the small surface the processor depends on, mirroring the
// embedding package's pluggable-provider shape so a fake is trivial to
// substitute in tests.
type Client interface {
	// Complete sends prompt to the configured model and returns the raw
	// response text. Implementations apply their own timeout from ctx.
	Complete(ctx context.Context, prompt string) (string, error)

	// Name identifies the backend for logging ("openai-compat:gpt-4o-mini").
	Name() string
}

// Result mirrors the original implementation's call_llm return shape: a
// success flag plus either the raw response text or an error reason, so
// callers can log a structured failure without a type switch on error.
type Result struct {
	Success     bool
	RawResponse string
	Error       string
}

// Call wraps Complete into a Result, matching the processor's original
// call_llm(prompt) -> {success, raw_response, error} contract.
func Call(ctx context.Context, client Client, prompt string) Result {
	if client == nil {
		return Result{Success: false, Error: "llmclient: no client configured"}
	}
	text, err := client.Complete(ctx, prompt)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, RawResponse: text}
}

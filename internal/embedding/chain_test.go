package embedding_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oak-dev/cid/internal/embedding"
)

type fakeProvider struct {
	name       string
	dims       int
	available  bool
	failNTimes int
	calls      int
}

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) Dimensions() int { return f.dims }
func (f *fakeProvider) IsAvailable(ctx context.Context) bool {
	return f.available
}
func (f *fakeProvider) Embed(ctx context.Context, texts []string) (embedding.Result, error) {
	f.calls++
	if f.calls <= f.failNTimes {
		return embedding.Result{}, fmt.Errorf("fake failure")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return embedding.Result{Embeddings: out, Model: "fake", Provider: f.name, Dimensions: f.dims}, nil
}

func TestChainDimensionsAlwaysPrimaryRegardlessOfAvailability(t *testing.T) {
	primary := &fakeProvider{name: "primary", dims: 768, available: false}
	fallback := &fakeProvider{name: "fallback", dims: 384, available: true}
	chain := embedding.NewChain([]embedding.Provider{primary, fallback}, nil)

	require.Equal(t, 768, chain.Dimensions(), "dimensions must come from the primary even when it's unavailable")
}

func TestChainSkipsFallbackWithMismatchedDimensions(t *testing.T) {
	primary := &fakeProvider{name: "primary", dims: 768, available: true}
	mismatched := &fakeProvider{name: "mismatched", dims: 384, available: true, failNTimes: 1}
	chain := embedding.NewChain([]embedding.Provider{primary, mismatched}, nil)

	// primary fails once, so the chain would normally fall through to the
	// second provider -- but its dimensions differ from the primary's, so
	// it must be skipped rather than used, and the call fails outright.
	primary.failNTimes = 1
	_, err := chain.Embed(context.Background(), []string{"hello"})
	require.Error(t, err, "mismatched-dimension fallback must be skipped, not used")
}

func TestChainFallsBackOnFailure(t *testing.T) {
	primary := &fakeProvider{name: "primary", dims: 768, available: true, failNTimes: 1}
	fallback := &fakeProvider{name: "fallback", dims: 768, available: true}
	chain := embedding.NewChain([]embedding.Provider{primary, fallback}, nil)

	result, err := chain.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Equal(t, "fallback", result.Provider)
	require.Equal(t, "fallback", chain.Name())
}

func TestChainStatusTracksUsage(t *testing.T) {
	primary := &fakeProvider{name: "primary", dims: 768, available: true}
	chain := embedding.NewChain([]embedding.Provider{primary}, nil)

	_, err := chain.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	_, err = chain.Embed(context.Background(), []string{"b"})
	require.NoError(t, err)

	status := chain.GetStatus(context.Background())
	require.Equal(t, "primary", status.ActiveProvider)
	require.Equal(t, 2, status.TotalEmbeds)
	require.Len(t, status.Providers, 1)
	require.Equal(t, 2, status.Providers[0].Success)
}

package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oak-dev/cid/internal/config"
	"github.com/oak-dev/cid/internal/embedding"
	"github.com/oak-dev/cid/internal/vectorstore"
)

type fakeEmbedder struct {
	dims int
}

func (f fakeEmbedder) Embed(ctx context.Context, texts []string) (embedding.Result, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dims)
		v[i%f.dims] = 1
		out[i] = v
	}
	return embedding.Result{Embeddings: out, Model: "fake", Provider: "fake", Dimensions: f.dims}, nil
}

func openTestVStore(t *testing.T) *vectorstore.Store {
	t.Helper()
	st, err := vectorstore.Open(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testIndexerConfig() config.IndexerConfig {
	return config.IndexerConfig{
		Extensions:       []string{".go", ".md"},
		IgnoreGlobs:      []string{"**/vendor/**"},
		LineChunkTarget:  40,
		LineChunkOverlap: 5,
		BatchSize:        8,
	}
}

func TestBuildIndexesGoAndMarkdownFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte(sampleGoSource), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# Title\n\nbody text\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vendor", "x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "vendor", "x", "skip.go"), []byte(sampleGoSource), 0o644))

	vstore := openTestVStore(t)
	idx := NewIndexer(fakeEmbedder{dims: 8}, vstore, nil)

	stats, err := idx.Build(context.Background(), root, testIndexerConfig())
	require.NoError(t, err)
	require.Equal(t, 2, stats.FilesProcessed)
	require.Greater(t, stats.ChunksIndexed, 0)
	require.Equal(t, 1, stats.ASTSuccess)

	results, err := vstore.SearchCode(make([]float32, 8), 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestReindexFileReplacesExistingChunks(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(path, []byte(sampleGoSource), 0o644))

	vstore := openTestVStore(t)
	idx := NewIndexer(fakeEmbedder{dims: 8}, vstore, nil)
	cfg := testIndexerConfig()

	_, err := idx.Build(context.Background(), root, cfg)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("package sample\n\nfunc onlyOne() int { return 1 }\n"), 0o644))
	require.NoError(t, idx.ReindexFile(context.Background(), root, "main.go", cfg))

	results, err := vstore.SearchCode(make([]float32, 8), 50)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, "Greeter.Greet", r.Name)
	}
}

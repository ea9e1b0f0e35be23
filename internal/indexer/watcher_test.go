package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oak-dev/cid/internal/config"
	"github.com/oak-dev/cid/internal/vectorstore"
)

func watcherTestConfig() config.IndexerConfig {
	return config.IndexerConfig{
		Extensions:         []string{".go"},
		LineChunkTarget:    40,
		LineChunkOverlap:   5,
		BatchSize:          16,
		DebounceInterval:   config.Duration{Duration: 100 * time.Millisecond},
		MinReindexInterval: config.Duration{Duration: 0},
	}
}

func newWatcherUnderTest(t *testing.T) (*Watcher, *vectorstore.Store, string) {
	t.Helper()
	dir := t.TempDir()

	vstore, err := vectorstore.Open(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { vstore.Close() })

	idx := NewIndexer(fakeEmbedder{dims: 8}, vstore, nil)
	cfg := watcherTestConfig()
	w, err := NewWatcher(idx, dir, func() config.IndexerConfig { return cfg }, nil)
	require.NoError(t, err)
	require.NoError(t, w.AddDir(dir))
	return w, vstore, dir
}

// waitForChunkCount polls the code collection until it reaches want or the
// deadline passes; debounce + ticker make exact timing nondeterministic.
func waitForChunkCount(t *testing.T, vstore *vectorstore.Store, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		counts, err := vstore.CollectionCounts()
		require.NoError(t, err)
		if counts.CodeChunks == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	counts, _ := vstore.CollectionCounts()
	t.Fatalf("code chunk count never reached %d (at %d)", want, counts.CodeChunks)
}

func TestWatcherCoalescesBurstIntoOnePass(t *testing.T) {
	w, vstore, dir := newWatcherUnderTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Three files created within the debounce window index as one sweep.
	for _, name := range []string{"a.go", "b.go", "c.go"} {
		src := "package x\n\nfunc " + name[:1] + "fn() {}\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	waitForChunkCount(t, vstore, 3)
}

func TestWatcherIgnoresUnlistedExtensions(t *testing.T) {
	w, vstore, dir := newWatcherUnderTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not code"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package x\n\nfunc afn() {}\n"), 0o644))

	waitForChunkCount(t, vstore, 1)
}

func TestWatcherRemovesDeletedFileChunks(t *testing.T) {
	w, vstore, dir := newWatcherUnderTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package x\n\nfunc afn() {}\n"), 0o644))
	waitForChunkCount(t, vstore, 1)

	require.NoError(t, os.Remove(path))
	waitForChunkCount(t, vstore, 0)
}

package vectorstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func unitVec(dims, hot int) []float32 {
	v := make([]float32, dims)
	v[hot%dims] = 1
	return v
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	require.InDelta(t, 1.0, cosineSimilarity(a, b), 1e-9)

	c := []float32{0, 1, 0}
	require.InDelta(t, 0.0, cosineSimilarity(a, c), 1e-9)

	require.Equal(t, 0.0, cosineSimilarity([]float32{1, 2}, []float32{1}))
}

func TestEncodeDecodeEmbeddingRoundTrip(t *testing.T) {
	vec := []float32{0.5, -0.25, 1.0, 3.14159}
	decoded := decodeEmbedding(encodeEmbedding(vec))
	require.Len(t, decoded, len(vec))
	for i := range vec {
		require.InDelta(t, vec[i], decoded[i], 1e-6)
	}
}

func TestAddCodeChunksBatchedDedupesWithinBatch(t *testing.T) {
	st := openTestStore(t)

	chunks := []CodeChunkInput{
		{ID: "a.go:1", Filepath: "a.go", Document: "old", Embedding: unitVec(4, 0)},
		{ID: "a.go:1", Filepath: "a.go", Document: "new", Embedding: unitVec(4, 0)},
	}
	n, err := st.AddCodeChunksBatched(chunks, 64)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	results, err := st.SearchCode(unitVec(4, 0), 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "new", results[0].Document)
}

func TestSearchCodeRanksByRelevance(t *testing.T) {
	st := openTestStore(t)

	chunks := []CodeChunkInput{
		{ID: "match", Filepath: "a.go", Document: "exact", Embedding: unitVec(4, 0)},
		{ID: "orthogonal", Filepath: "b.go", Document: "other", Embedding: unitVec(4, 1)},
	}
	_, err := st.AddCodeChunksBatched(chunks, 64)
	require.NoError(t, err)

	results, err := st.SearchCode(unitVec(4, 0), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "match", results[0].ID)
	require.InDelta(t, 1.0, results[0].Relevance, 1e-6)
	require.Equal(t, "orthogonal", results[1].ID)
	require.InDelta(t, 0.0, results[1].Relevance, 1e-6)
}

func TestDimensionMismatchRecreatesCollection(t *testing.T) {
	st := openTestStore(t)

	_, err := st.AddCodeChunksBatched([]CodeChunkInput{
		{ID: "c1", Filepath: "a.go", Document: "v1", Embedding: unitVec(4, 0)},
	}, 64)
	require.NoError(t, err)

	// simulate a primary-provider dimension change (e.g. model swap): old
	// rows must be dropped and the new width recorded.
	_, err = st.AddCodeChunksBatched([]CodeChunkInput{
		{ID: "c2", Filepath: "b.go", Document: "v2", Embedding: unitVec(8, 0)},
	}, 64)
	require.NoError(t, err)

	dims, err := st.collectionDimensions(codeCollection)
	require.NoError(t, err)
	require.Equal(t, 8, dims)

	results, err := st.SearchCode(unitVec(8, 0), 5)
	require.NoError(t, err)
	require.Len(t, results, 1, "recreate must drop rows at the old dimension")
	require.Equal(t, "c2", results[0].ID)
}

func TestMemoryAddSearchDelete(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.AddMemory(MemoryItemInput{
		ID: "obs-1", MemoryType: "gotcha", Document: "watch out for nil pointers",
		Tags: []string{"go", "nil"}, Importance: 8, SessionID: "sess-1", Embedding: unitVec(4, 0),
	}))

	results, err := st.SearchMemory(unitVec(4, 0), 5, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, []string{"go", "nil"}, results[0].Tags)

	require.NoError(t, st.DeleteMemories([]string{"obs-1"}))
	results, err = st.SearchMemory(unitVec(4, 0), 5, false)
	require.NoError(t, err)
	require.Len(t, results, 0)

	// deleting an empty/no-op id set must not error
	require.NoError(t, st.DeleteMemories(nil))
}

func TestSessionSummaryDocumentFormat(t *testing.T) {
	require.Equal(t, "Session: fix login bug\n\nFixed the race in auth.go", SessionSummaryDocument("fix login bug", "Fixed the race in auth.go"))
	require.Equal(t, "Session summary\n\nhad no title", SessionSummaryDocument("", "had no title"))
}

func TestAddAndSearchSessionSummaries(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.AddSessionSummary("sess-1", "fix login", "Session: fix login\n\nbody", "/repo", "claude", 1000, unitVec(4, 0)))
	require.NoError(t, st.AddSessionSummary("sess-2", "unrelated", "Session: unrelated\n\nbody", "/other-repo", "claude", 1001, unitVec(4, 1)))

	results, err := st.SearchSessionSummaries(unitVec(4, 0), 5, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "sess-1", results[0].SessionID)

	filtered, err := st.SearchSessionSummaries(unitVec(4, 0), 5, "/other-repo")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "sess-2", filtered[0].SessionID)
}

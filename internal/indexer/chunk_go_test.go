package indexer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleGoSource = `package sample

// Greeter says hello.
type Greeter struct {
	Name string
}

// Greet returns a greeting for g.
func (g *Greeter) Greet() string {
	return "hello " + g.Name
}

func add(a, b int) int {
	return a + b
}
`

func TestChunkGoSourceSplitsOnDecls(t *testing.T) {
	chunks, ok := chunkGoSource("sample.go", []byte(sampleGoSource))
	require.True(t, ok)
	require.Len(t, chunks, 3)

	names := map[string]Chunk{}
	for _, c := range chunks {
		names[c.Name] = c
	}

	require.Contains(t, names, "Greeter")
	require.Equal(t, "type", names["Greeter"].ChunkType)

	require.Contains(t, names, "Greeter.Greet")
	require.Equal(t, "method", names["Greeter.Greet"].ChunkType)
	require.Contains(t, names["Greeter.Greet"].Document, "returns a greeting for g")

	require.Contains(t, names, "add")
	require.Equal(t, "function", names["add"].ChunkType)
}

func TestChunkGoSourceInvalidFallsBack(t *testing.T) {
	_, ok := chunkGoSource("broken.go", []byte("package sample\nfunc broken( {"))
	require.False(t, ok)
}

func TestChunkLinesOverlap(t *testing.T) {
	src := make([]byte, 0)
	for i := 0; i < 100; i++ {
		src = append(src, []byte("line\n")...)
	}
	chunks := chunkLines("f.txt", "text", src, 40, 10)
	require.NotEmpty(t, chunks)
	require.Less(t, chunks[0].EndLine-chunks[0].StartLine, 41)
}

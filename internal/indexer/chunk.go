// Package indexer walks a project tree, chunks source files (structurally
// where a parser exists, line-based otherwise), and upserts the chunks
// into the vector store's code collection. A file watcher layered on top
// debounces filesystem events into incremental re-chunk passes.
package indexer

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/oak-dev/cid/internal/tokenest"
)

// Chunk is one chunking unit computed by the indexer, prior to embedding.
// The indexer owns this computation; the vector store owns storage (§3
// lifecycle ownership).
type Chunk struct {
	ID            string
	Filepath      string
	Language      string
	ChunkType     string // function, class, method, type, module, unknown
	Name          string
	StartLine     int
	EndLine       int
	DocType       string // code, i18n, config, test, docs
	TokenEstimate int
	Document      string // envelope: anchors + docstring + raw code
	Code          string
}

// chunkID derives a stable id from filepath, start line, and a short
// content hash, so re-chunking an unchanged region upserts the same row
// instead of accumulating duplicates (§3: "IDs must remain unique after
// deduplication").
func chunkID(path string, startLine int, code string) string {
	h := sha1.New()
	h.Write([]byte(code))
	sum := hex.EncodeToString(h.Sum(nil))[:12]
	return fmt.Sprintf("%s:%d:%s", path, startLine, sum)
}

// buildDocument renders the embedding/storage envelope described in §4.D:
// semantic anchors, then the docstring, then the raw code.
func buildDocument(relPath, name, chunkType, language, docstring, code string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "file: %s\n", relPath)
	if name != "" {
		fmt.Fprintf(&b, "symbol: %s\n", name)
	}
	fmt.Fprintf(&b, "kind: %s\n", chunkType)
	fmt.Fprintf(&b, "language: %s\n\n", language)
	if docstring != "" {
		b.WriteString(docstring)
		b.WriteString("\n\n")
	}
	b.WriteString(code)
	return b.String()
}

// newChunk assembles a Chunk from its computed pieces, filling in id,
// doc_type, and the token estimate.
func newChunk(relPath, language, chunkType, name string, startLine, endLine int, docstring, code string) Chunk {
	doc := buildDocument(relPath, name, chunkType, language, docstring, code)
	return Chunk{
		ID:            chunkID(relPath, startLine, code),
		Filepath:      relPath,
		Language:      language,
		ChunkType:     chunkType,
		Name:          name,
		StartLine:     startLine,
		EndLine:       endLine,
		DocType:       classifyDocType(relPath),
		TokenEstimate: tokenest.Estimate(doc),
		Document:      doc,
		Code:          code,
	}
}

// classifyDocType buckets a file by path/name convention, matching §3's
// doc_type enum. Defaults to "code" when nothing more specific matches.
func classifyDocType(relPath string) string {
	base := strings.ToLower(filepath.Base(relPath))
	switch {
	case strings.Contains(relPath, "i18n") || strings.Contains(relPath, "locales") || strings.HasSuffix(base, ".po"):
		return "i18n"
	case strings.HasSuffix(base, "_test.go") || strings.Contains(base, ".test.") || strings.Contains(base, ".spec."):
		return "test"
	case strings.HasSuffix(base, ".md") || strings.HasSuffix(base, ".mdx") || strings.HasSuffix(base, ".rst"):
		return "docs"
	case strings.HasSuffix(base, ".json") || strings.HasSuffix(base, ".yaml") || strings.HasSuffix(base, ".yml") ||
		strings.HasSuffix(base, ".toml") || base == "dockerfile" || strings.HasSuffix(base, ".env"):
		return "config"
	default:
		return "code"
	}
}

// languageForExt maps a file extension to a display language name.
func languageForExt(ext string) string {
	switch ext {
	case ".go":
		return "go"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".py":
		return "python"
	case ".md", ".mdx":
		return "markdown"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return strings.TrimPrefix(ext, ".")
	}
}

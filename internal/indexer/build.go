package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/oak-dev/cid/internal/config"
	"github.com/oak-dev/cid/internal/embedding"
	"github.com/oak-dev/cid/internal/vectorstore"
)

// Stats summarizes one Build pass, returned to callers (the HTTP rebuild
// route, the daemon's startup indexing, the watcher's debounced re-chunk).
type Stats struct {
	FilesProcessed int
	ChunksIndexed  int
	ASTSuccess     int
	ASTFallback    int
	LineBased      int
	Duration       time.Duration
}

// embedder is the subset of Chain's surface the indexer depends on, so
// tests can substitute a fake without spinning up real providers.
type embedder interface {
	Embed(ctx context.Context, texts []string) (embedding.Result, error)
}

// Indexer owns the embedding chain and vector store handles the chunker
// needs to turn files into stored, searchable chunks.
type Indexer struct {
	embedder embedder
	vstore   *vectorstore.Store
	logger   *slog.Logger
	progress func(filesProcessed int)
}

func NewIndexer(embedder embedder, vstore *vectorstore.Store, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{embedder: embedder, vstore: vstore, logger: logger}
}

// SetProgress registers a callback invoked after each file is processed
// during Build, with the running files-processed count. Used by the
// daemon's index-status tracker; nil disables reporting.
func (idx *Indexer) SetProgress(fn func(filesProcessed int)) {
	idx.progress = fn
}

// Build walks projectRoot, chunks every file that passes the extension
// allowlist and ignore-glob filter, embeds the chunks in batches, and
// upserts them into the vector store's code collection.
func (idx *Indexer) Build(ctx context.Context, projectRoot string, cfg config.IndexerConfig) (Stats, error) {
	start := time.Now()
	var stats Stats

	allowed := make(map[string]struct{}, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		allowed[ext] = struct{}{}
	}

	var pending []Chunk
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := idx.embedAndUpsert(ctx, pending, cfg.BatchSize); err != nil {
			return err
		}
		stats.ChunksIndexed += len(pending)
		pending = pending[:0]
		return nil
	}

	err := filepath.WalkDir(projectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		relPath, relErr := filepath.Rel(projectRoot, path)
		if relErr != nil {
			relPath = path
		}
		if matchesAnyGlob(cfg.IgnoreGlobs, relPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if _, ok := allowed[ext]; !ok {
			return nil
		}

		chunks, fileStats, err := idx.chunkFile(projectRoot, relPath, ext, cfg)
		if err != nil {
			idx.logger.Warn("indexer: skipping file", "path", relPath, "error", err)
			return nil
		}
		stats.FilesProcessed++
		stats.ASTSuccess += fileStats.ASTSuccess
		stats.ASTFallback += fileStats.ASTFallback
		stats.LineBased += fileStats.LineBased
		if idx.progress != nil {
			idx.progress(stats.FilesProcessed)
		}

		pending = append(pending, chunks...)
		if len(pending) >= cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("indexer: build: walk: %w", err)
	}
	if err := flush(); err != nil {
		return stats, fmt.Errorf("indexer: build: embed: %w", err)
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// chunkFile reads one file and dispatches to the structural chunker for
// .go files (falling back to line-based on parse failure) or line-based
// chunking for everything else.
func (idx *Indexer) chunkFile(projectRoot, relPath, ext string, cfg config.IndexerConfig) ([]Chunk, Stats, error) {
	var stats Stats
	src, err := os.ReadFile(filepath.Join(projectRoot, relPath))
	if err != nil {
		return nil, stats, err
	}

	if ext == ".go" {
		if chunks, ok := chunkGoSource(relPath, src); ok {
			stats.ASTSuccess = 1
			return chunks, stats, nil
		}
		stats.ASTFallback = 1
		return chunkLines(relPath, "go", src, cfg.LineChunkTarget, cfg.LineChunkOverlap), stats, nil
	}

	stats.LineBased = 1
	return chunkLines(relPath, languageForExt(ext), src, cfg.LineChunkTarget, cfg.LineChunkOverlap), stats, nil
}

// ReindexFile re-chunks and re-embeds a single file, replacing its existing
// chunks. Used by the watcher's debounced per-file fire.
func (idx *Indexer) ReindexFile(ctx context.Context, projectRoot, relPath string, cfg config.IndexerConfig) error {
	if err := idx.vstore.DeleteCodeChunksForFile(relPath); err != nil {
		return fmt.Errorf("indexer: reindex file: delete: %w", err)
	}
	ext := filepath.Ext(relPath)
	chunks, _, err := idx.chunkFile(projectRoot, relPath, ext, cfg)
	if err != nil {
		return fmt.Errorf("indexer: reindex file: chunk: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	return idx.embedAndUpsert(ctx, chunks, cfg.BatchSize)
}

// RemoveFile drops a deleted file's chunks without re-chunking.
func (idx *Indexer) RemoveFile(relPath string) error {
	return idx.vstore.DeleteCodeChunksForFile(relPath)
}

func (idx *Indexer) embedAndUpsert(ctx context.Context, chunks []Chunk, batchSize int) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Document
	}
	result, err := idx.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(result.Embeddings) != len(chunks) {
		return fmt.Errorf("embed: got %d embeddings for %d chunks", len(result.Embeddings), len(chunks))
	}

	inputs := make([]vectorstore.CodeChunkInput, len(chunks))
	for i, c := range chunks {
		inputs[i] = vectorstore.CodeChunkInput{
			ID:            c.ID,
			Filepath:      c.Filepath,
			Language:      c.Language,
			ChunkType:     c.ChunkType,
			Name:          c.Name,
			StartLine:     c.StartLine,
			EndLine:       c.EndLine,
			DocType:       c.DocType,
			TokenEstimate: c.TokenEstimate,
			Document:      c.Document,
			Embedding:     result.Embeddings[i],
		}
	}
	_, err = idx.vstore.AddCodeChunksBatched(inputs, batchSize)
	return err
}

// matchesAnyGlob reports whether relPath matches any of the given
// doublestar patterns.
func matchesAnyGlob(patterns []string, relPath string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}

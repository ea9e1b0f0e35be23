package vectorstore

import (
	"fmt"
	"time"
)

const codeCollection = "code"

// CodeChunkInput is one chunk to be upserted, with its already-computed
// embedding (the indexer owns chunk computation, the vector store owns
// storage, per §3's lifecycle-ownership split).
type CodeChunkInput struct {
	ID            string
	Filepath      string
	Language      string
	ChunkType     string // function, class, method, type, module, unknown
	Name          string
	StartLine     int
	EndLine       int
	DocType       string // code, i18n, config, test, docs
	TokenEstimate int
	Document      string
	Embedding     []float32
}

// CodeSearchResult is one ranked hit from SearchCode.
type CodeSearchResult struct {
	ID            string
	Filepath      string
	Language      string
	ChunkType     string
	Name          string
	StartLine     int
	EndLine       int
	DocType       string
	TokenEstimate int
	Document      string
	Relevance     float64
}

// AddCodeChunksBatched upserts chunks in fixed-size groups (default 64),
// deduping by id within each batch. On a dimension mismatch against the
// collection's recorded width, it recreates the collection once and
// retries; a second failure propagates.
func (s *Store) AddCodeChunksBatched(chunks []CodeChunkInput, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 64
	}
	total := 0
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		n, err := s.addCodeChunkBatch(dedupeChunks(chunks[start:end]))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func dedupeChunks(batch []CodeChunkInput) []CodeChunkInput {
	seen := make(map[string]bool, len(batch))
	out := make([]CodeChunkInput, 0, len(batch))
	for i := len(batch) - 1; i >= 0; i-- {
		if seen[batch[i].ID] {
			continue
		}
		seen[batch[i].ID] = true
		out = append([]CodeChunkInput{batch[i]}, out...)
	}
	return out
}

func (s *Store) addCodeChunkBatch(batch []CodeChunkInput) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	dims := len(batch[0].Embedding)
	recreated, err := s.ensureCollectionDimensions(codeCollection, "code_chunks", dims)
	if err != nil {
		return 0, err
	}
	if recreated {
		return s.upsertCodeChunks(batch)
	}
	n, err := s.upsertCodeChunks(batch)
	if err != nil {
		// one retry after a controlled recreate; a second failure propagates.
		if _, recErr := s.ensureCollectionDimensions(codeCollection, "code_chunks", dims); recErr == nil {
			return s.upsertCodeChunks(batch)
		}
		return 0, err
	}
	return n, nil
}

// ensureCollectionDimensions checks the recorded width for a collection
// against the incoming dims; on drift it recreates the collection (clears
// its rows) and records the new width. Returns whether a recreate
// happened.
func (s *Store) ensureCollectionDimensions(collection, table string, dims int) (bool, error) {
	existing, err := s.collectionDimensions(collection)
	if err != nil {
		return false, err
	}
	if existing == 0 {
		return false, s.setCollectionDimensions(collection, dims)
	}
	if existing == dims {
		return false, nil
	}
	if err := s.recreateCollection(collection, table); err != nil {
		return false, err
	}
	return true, s.setCollectionDimensions(collection, dims)
}

func (s *Store) upsertCodeChunks(batch []CodeChunkInput) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("vectorstore: upsert code chunks: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO code_chunks (id, filepath, language, chunk_type, name, start_line, end_line, doc_type, token_estimate, document, embedding, updated_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filepath = excluded.filepath, language = excluded.language, chunk_type = excluded.chunk_type,
			name = excluded.name, start_line = excluded.start_line, end_line = excluded.end_line,
			doc_type = excluded.doc_type, token_estimate = excluded.token_estimate,
			document = excluded.document, embedding = excluded.embedding, updated_at_epoch = excluded.updated_at_epoch`)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: upsert code chunks: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Unix()
	for _, c := range batch {
		if _, err := stmt.Exec(c.ID, c.Filepath, c.Language, c.ChunkType, c.Name, c.StartLine, c.EndLine, c.DocType, c.TokenEstimate, c.Document, encodeEmbedding(c.Embedding), now); err != nil {
			return 0, fmt.Errorf("vectorstore: upsert code chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("vectorstore: upsert code chunks: commit: %w", err)
	}
	return len(batch), nil
}

// DeleteCodeChunksForFile removes every chunk recorded for a filepath, used
// when a file is deleted or its chunk boundaries change on reindex.
func (s *Store) DeleteCodeChunksForFile(filepath string) error {
	_, err := s.db.Exec(`DELETE FROM code_chunks WHERE filepath = ?`, filepath)
	if err != nil {
		return fmt.Errorf("vectorstore: delete code chunks for file: %w", err)
	}
	return nil
}

// SearchCode ranks every code chunk by cosine similarity to the given
// queryEmbedding and returns the topN highest-relevance chunks.
func (s *Store) SearchCode(queryEmbedding []float32, topN int) ([]CodeSearchResult, error) {
	rows, err := s.db.Query(`SELECT id, filepath, language, chunk_type, name, start_line, end_line, doc_type, token_estimate, document, embedding FROM code_chunks`)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search code: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		result CodeSearchResult
		vec    []float32
	}
	var candidates []candidate
	for rows.Next() {
		var c CodeSearchResult
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Filepath, &c.Language, &c.ChunkType, &c.Name, &c.StartLine, &c.EndLine, &c.DocType, &c.TokenEstimate, &c.Document, &blob); err != nil {
			return nil, fmt.Errorf("vectorstore: scan code chunk: %w", err)
		}
		candidates = append(candidates, candidate{result: c, vec: decodeEmbedding(blob)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore: search code: %w", err)
	}

	scored := make([]scoredRow, len(candidates))
	byID := make(map[string]CodeSearchResult, len(candidates))
	for i, c := range candidates {
		rel := relevance(cosineSimilarity(queryEmbedding, c.vec))
		scored[i] = scoredRow{id: c.result.ID, relevance: rel}
		byID[c.result.ID] = c.result
	}

	best := topK(scored, topN)
	out := make([]CodeSearchResult, 0, len(best))
	for _, b := range best {
		r := byID[b.id]
		r.Relevance = b.relevance
		out = append(out, r)
	}
	return out, nil
}

package vectorstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const memoryCollection = "memory"

// MemoryItemInput is an observation or plan to be upserted into the memory
// collection, distinguished from code chunks by a memory_type metadata
// field (spec.md §4.B).
type MemoryItemInput struct {
	ID         string
	MemoryType string
	Document   string
	Tags       []string
	Importance int
	SessionID  string
	Status     string // active, resolved, superseded; defaults to active
	Embedding  []float32
}

// MemorySearchResult is one ranked hit from SearchMemory.
type MemorySearchResult struct {
	ID         string
	MemoryType string
	Document   string
	Tags       []string
	Importance int
	SessionID  string
	Status     string
	Relevance  float64
}

// AddMemory upserts a single memory item (observation or plan). On a
// dimension mismatch it recreates the memory collection once and retries.
func (s *Store) AddMemory(item MemoryItemInput) error {
	dims := len(item.Embedding)
	recreated, err := s.ensureCollectionDimensions(memoryCollection, "memory_items", dims)
	if err != nil {
		return err
	}
	if err := s.upsertMemory(item); err != nil {
		if recreated {
			return err
		}
		if _, recErr := s.ensureCollectionDimensions(memoryCollection, "memory_items", dims); recErr == nil {
			return s.upsertMemory(item)
		}
		return err
	}
	return nil
}

func (s *Store) upsertMemory(item MemoryItemInput) error {
	tagsJSON, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("vectorstore: marshal memory tags: %w", err)
	}
	status := item.Status
	if status == "" {
		status = "active"
	}
	_, err = s.db.Exec(`
		INSERT INTO memory_items (id, memory_type, document, tags, importance, session_id, status, embedding, updated_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			memory_type = excluded.memory_type, document = excluded.document, tags = excluded.tags,
			importance = excluded.importance, session_id = excluded.session_id, status = excluded.status,
			embedding = excluded.embedding, updated_at_epoch = excluded.updated_at_epoch`,
		item.ID, item.MemoryType, item.Document, string(tagsJSON), item.Importance, item.SessionID, status, encodeEmbedding(item.Embedding), time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("vectorstore: upsert memory %s: %w", item.ID, err)
	}
	return nil
}

// UpdateMemoryStatus updates a memory item's status metadata in place,
// without touching its embedding, used when auto-resolve or resolution-
// event replay changes an observation's status on the relational side.
func (s *Store) UpdateMemoryStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE memory_items SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("vectorstore: update memory status %s: %w", id, err)
	}
	return nil
}

// SearchMemory returns the topN highest-relevance memory items for the
// query embedding, with parsed tags attached. By default only active
// items are searched, so auto-resolve and recall see live facts;
// includeResolved widens the search to resolved/superseded items for
// callers that opted in via the wire contract's include_resolved flag.
func (s *Store) SearchMemory(queryEmbedding []float32, topN int, includeResolved bool) ([]MemorySearchResult, error) {
	query := `SELECT id, memory_type, document, tags, importance, session_id, status, embedding FROM memory_items WHERE status = 'active'`
	if includeResolved {
		query = `SELECT id, memory_type, document, tags, importance, session_id, status, embedding FROM memory_items`
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search memory: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		result MemorySearchResult
		vec    []float32
	}
	var candidates []candidate
	for rows.Next() {
		var m MemorySearchResult
		var tagsJSON string
		var blob []byte
		if err := rows.Scan(&m.ID, &m.MemoryType, &m.Document, &tagsJSON, &m.Importance, &m.SessionID, &m.Status, &blob); err != nil {
			return nil, fmt.Errorf("vectorstore: scan memory item: %w", err)
		}
		_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
		candidates = append(candidates, candidate{result: m, vec: decodeEmbedding(blob)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore: search memory: %w", err)
	}

	scored := make([]scoredRow, len(candidates))
	byID := make(map[string]MemorySearchResult, len(candidates))
	for i, c := range candidates {
		rel := relevance(cosineSimilarity(queryEmbedding, c.vec))
		scored[i] = scoredRow{id: c.result.ID, relevance: rel}
		byID[c.result.ID] = c.result
	}

	best := topK(scored, topN)
	out := make([]MemorySearchResult, 0, len(best))
	for _, b := range best {
		r := byID[b.id]
		r.Relevance = b.relevance
		out = append(out, r)
	}
	return out, nil
}

// DeleteMemories removes memory items by id, retried up to 3 times with a
// 0.5s backoff to prevent orphaned vector rows when the relational delete
// (activitystore) has already succeeded.
func (s *Store) DeleteMemories(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	op := func() error {
		placeholders := ""
		args := make([]any, len(ids))
		for i, id := range ids {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "?"
			args[i] = id
		}
		_, err := s.db.Exec(`DELETE FROM memory_items WHERE id IN (`+placeholders+`)`, args...)
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 2)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("vectorstore: delete memories: %w", err)
	}
	return nil
}

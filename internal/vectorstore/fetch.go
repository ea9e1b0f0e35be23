package vectorstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// FetchedItem is one id-addressed document returned by the fetch routes:
// a code chunk, a memory item or a session summary, identified by which
// collection the id resolved in.
type FetchedItem struct {
	ID         string
	Collection string // "code" | "memory" | "session_summaries"
	Document   string
	Filepath   string
	MemoryType string
	Tags       []string
}

// FetchByIDs resolves each id against the code, memory, and session-
// summary collections in that order, returning whichever documents exist.
// Unknown ids are silently omitted: the fetch route reports only what it
// found.
func (s *Store) FetchByIDs(ids []string) ([]FetchedItem, error) {
	var out []FetchedItem
	for _, id := range ids {
		item, err := s.fetchOne(id)
		if err != nil {
			return nil, err
		}
		if item != nil {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (s *Store) fetchOne(id string) (*FetchedItem, error) {
	var doc, filepath string
	err := s.db.QueryRow(`SELECT document, filepath FROM code_chunks WHERE id = ?`, id).Scan(&doc, &filepath)
	if err == nil {
		return &FetchedItem{ID: id, Collection: codeCollection, Document: doc, Filepath: filepath}, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("vectorstore: fetch code chunk %s: %w", id, err)
	}

	var memoryType, tagsJSON string
	err = s.db.QueryRow(`SELECT document, memory_type, tags FROM memory_items WHERE id = ?`, id).Scan(&doc, &memoryType, &tagsJSON)
	if err == nil {
		var tags []string
		_ = json.Unmarshal([]byte(tagsJSON), &tags)
		return &FetchedItem{ID: id, Collection: memoryCollection, Document: doc, MemoryType: memoryType, Tags: tags}, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("vectorstore: fetch memory item %s: %w", id, err)
	}

	err = s.db.QueryRow(`SELECT document FROM session_summaries WHERE session_id = ?`, id).Scan(&doc)
	if err == nil {
		return &FetchedItem{ID: id, Collection: sessionSummaryCollection, Document: doc}, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("vectorstore: fetch session summary %s: %w", id, err)
	}
	return nil, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Counts reports per-collection row counts for the status route.
type Counts struct {
	CodeChunks       int
	MemoryItems      int
	SessionSummaries int
}

// CollectionCounts returns the row count of every collection.
func (s *Store) CollectionCounts() (Counts, error) {
	var c Counts
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM code_chunks`).Scan(&c.CodeChunks); err != nil {
		return c, fmt.Errorf("vectorstore: count code chunks: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memory_items`).Scan(&c.MemoryItems); err != nil {
		return c, fmt.Errorf("vectorstore: count memory items: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM session_summaries`).Scan(&c.SessionSummaries); err != nil {
		return c, fmt.Errorf("vectorstore: count session summaries: %w", err)
	}
	return c, nil
}

// DeleteSessionSummary removes a session's summary document, used by the
// session cascade-delete route.
func (s *Store) DeleteSessionSummary(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM session_summaries WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("vectorstore: delete session summary: %w", err)
	}
	return nil
}

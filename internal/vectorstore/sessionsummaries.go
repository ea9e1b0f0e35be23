package vectorstore

import (
	"fmt"
	"time"
)

const sessionSummaryCollection = "session_summaries"

// SessionSummarySearchResult is one ranked hit from SearchSessionSummaries.
type SessionSummarySearchResult struct {
	SessionID      string
	Title          string
	Document       string
	ProjectRoot    string
	Agent          string
	CreatedAtEpoch int64
	Relevance      float64
}

// SessionSummaryDocument builds the embedded text for a session summary:
// "Session: {title}\n\n{summary}", or a fallback prefix when title is
// empty.
func SessionSummaryDocument(title, summary string) string {
	if title == "" {
		return fmt.Sprintf("Session summary\n\n%s", summary)
	}
	return fmt.Sprintf("Session: %s\n\n%s", title, summary)
}

// AddSessionSummary upserts the embedded session-summary document. On a
// dimension mismatch it recreates the collection once and retries.
func (s *Store) AddSessionSummary(sessionID, title, document, projectRoot, agent string, createdAtEpoch int64, embedding []float32) error {
	dims := len(embedding)
	recreated, err := s.ensureCollectionDimensions(sessionSummaryCollection, "session_summaries", dims)
	if err != nil {
		return err
	}
	if err := s.upsertSessionSummary(sessionID, title, document, projectRoot, agent, createdAtEpoch, embedding); err != nil {
		if recreated {
			return err
		}
		if _, recErr := s.ensureCollectionDimensions(sessionSummaryCollection, "session_summaries", dims); recErr == nil {
			return s.upsertSessionSummary(sessionID, title, document, projectRoot, agent, createdAtEpoch, embedding)
		}
		return err
	}
	return nil
}

func (s *Store) upsertSessionSummary(sessionID, title, document, projectRoot, agent string, createdAtEpoch int64, embedding []float32) error {
	_, err := s.db.Exec(`
		INSERT INTO session_summaries (session_id, title, document, project_root, agent, created_at_epoch, embedding, updated_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			title = excluded.title, document = excluded.document, project_root = excluded.project_root,
			agent = excluded.agent, created_at_epoch = excluded.created_at_epoch,
			embedding = excluded.embedding, updated_at_epoch = excluded.updated_at_epoch`,
		sessionID, title, document, projectRoot, agent, createdAtEpoch, encodeEmbedding(embedding), time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("vectorstore: upsert session summary %s: %w", sessionID, err)
	}
	return nil
}

// SearchSessionSummaries ranks by similarity to queryEmbedding and returns the topN
// highest-relevance session summaries, optionally filtered to a single
// project_root.
func (s *Store) SearchSessionSummaries(queryEmbedding []float32, topN int, projectRoot string) ([]SessionSummarySearchResult, error) {
	query := `SELECT session_id, title, document, project_root, agent, created_at_epoch, embedding FROM session_summaries`
	args := []any{}
	if projectRoot != "" {
		query += ` WHERE project_root = ?`
		args = append(args, projectRoot)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search session summaries: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		result SessionSummarySearchResult
		vec    []float32
	}
	var candidates []candidate
	for rows.Next() {
		var c SessionSummarySearchResult
		var blob []byte
		if err := rows.Scan(&c.SessionID, &c.Title, &c.Document, &c.ProjectRoot, &c.Agent, &c.CreatedAtEpoch, &blob); err != nil {
			return nil, fmt.Errorf("vectorstore: scan session summary: %w", err)
		}
		candidates = append(candidates, candidate{result: c, vec: decodeEmbedding(blob)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore: search session summaries: %w", err)
	}

	scored := make([]scoredRow, len(candidates))
	byID := make(map[string]SessionSummarySearchResult, len(candidates))
	for i, c := range candidates {
		rel := relevance(cosineSimilarity(queryEmbedding, c.vec))
		scored[i] = scoredRow{id: c.result.SessionID, relevance: rel}
		byID[c.result.SessionID] = c.result
	}

	best := topK(scored, topN)
	out := make([]SessionSummarySearchResult, 0, len(best))
	for _, b := range best {
		r := byID[b.id]
		r.Relevance = b.relevance
		out = append(out, r)
	}
	return out, nil
}

// Package vectorstore implements the embedding-backed search index: three
// collections (code, memory, session_summaries) held in a second SQLite
// database, embeddings stored as BLOBs of little-endian float32s, and
// Go-side cosine-similarity ranking. No pack repo ships a vector-database
// client, so this persists state the way the teacher persists every other
// piece of state: a schema-as-constant SQLite database with one
// transaction per mutation (see DESIGN.md for the stdlib-choice
// justification).
package vectorstore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the vector store: one SQLite database, one table per
// collection, Go-side similarity search.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS collection_meta (
	collection TEXT PRIMARY KEY,
	dimensions INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS code_chunks (
	id TEXT PRIMARY KEY,
	filepath TEXT NOT NULL,
	language TEXT NOT NULL DEFAULT '',
	chunk_type TEXT NOT NULL DEFAULT 'unknown',
	name TEXT NOT NULL DEFAULT '',
	start_line INTEGER NOT NULL DEFAULT 0,
	end_line INTEGER NOT NULL DEFAULT 0,
	doc_type TEXT NOT NULL DEFAULT 'code',
	token_estimate INTEGER NOT NULL DEFAULT 0,
	document TEXT NOT NULL,
	embedding BLOB NOT NULL,
	updated_at_epoch INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_items (
	id TEXT PRIMARY KEY,
	memory_type TEXT NOT NULL,
	document TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]',
	importance INTEGER NOT NULL DEFAULT 5,
	session_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	embedding BLOB NOT NULL,
	updated_at_epoch INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS session_summaries (
	session_id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	document TEXT NOT NULL,
	project_root TEXT NOT NULL DEFAULT '',
	agent TEXT NOT NULL DEFAULT '',
	created_at_epoch INTEGER NOT NULL,
	embedding BLOB NOT NULL,
	updated_at_epoch INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_code_chunks_filepath ON code_chunks(filepath);
CREATE INDEX IF NOT EXISTS idx_memory_items_type ON memory_items(memory_type);
CREATE INDEX IF NOT EXISTS idx_memory_items_session ON memory_items(session_id);
CREATE INDEX IF NOT EXISTS idx_session_summaries_project ON session_summaries(project_root);
`

// Open creates or opens the vector store database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("vectorstore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// collectionDimensions returns the recorded embedding width for a
// collection, or 0 if the collection has never been written to.
func (s *Store) collectionDimensions(collection string) (int, error) {
	var dims int
	err := s.db.QueryRow(`SELECT dimensions FROM collection_meta WHERE collection = ?`, collection).Scan(&dims)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vectorstore: read collection dimensions: %w", err)
	}
	return dims, nil
}

func (s *Store) setCollectionDimensions(collection string, dims int) error {
	_, err := s.db.Exec(
		`INSERT INTO collection_meta (collection, dimensions) VALUES (?, ?)
		 ON CONFLICT(collection) DO UPDATE SET dimensions = excluded.dimensions`,
		collection, dims,
	)
	if err != nil {
		return fmt.Errorf("vectorstore: set collection dimensions: %w", err)
	}
	return nil
}

// recreateCollection empties the table backing a collection when a
// dimension mismatch is detected (§4.B's controlled-recreate protocol).
// The table itself is kept; this only clears the rows and dimension
// record, and the caller is responsible for the re-upsert.
func (s *Store) recreateCollection(collection, table string) error {
	if _, err := s.db.Exec(`DELETE FROM ` + table); err != nil {
		return fmt.Errorf("vectorstore: recreate collection %s: %w", collection, err)
	}
	if _, err := s.db.Exec(`DELETE FROM collection_meta WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("vectorstore: recreate collection %s: clear meta: %w", collection, err)
	}
	return nil
}

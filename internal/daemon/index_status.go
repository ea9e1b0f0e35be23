package daemon

import (
	"sync"
	"time"

	"github.com/oak-dev/cid/internal/indexer"
)

// IndexState enumerates the rebuild lifecycle.
type IndexState string

const (
	IndexIdle    IndexState = "idle"
	IndexRunning IndexState = "indexing"
	IndexReady   IndexState = "ready"
	IndexFailed  IndexState = "error"
)

// IndexSnapshot is the immutable view of indexing state served by the
// status route.
type IndexSnapshot struct {
	State       IndexState `json:"status"`
	Progress    int        `json:"progress"`
	Total       int        `json:"total"`
	FileCount   int        `json:"file_count"`
	ChunkCount  int        `json:"chunk_count"`
	ASTSuccess  int        `json:"ast_success"`
	ASTFallback int        `json:"ast_fallback"`
	LineBased   int        `json:"line_based"`
	LastIndexed string     `json:"last_indexed,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	Error       string     `json:"error,omitempty"`
}

// IndexStatus is the mutex-guarded indexing-state tracker shared between
// the rebuild route, the watcher, and the status route.
type IndexStatus struct {
	mu   sync.Mutex
	snap IndexSnapshot
}

// NewIndexStatus starts in the idle state.
func NewIndexStatus() *IndexStatus {
	return &IndexStatus{snap: IndexSnapshot{State: IndexIdle}}
}

// Begin transitions to indexing. Returns false when a rebuild is already
// running, which the rebuild route maps to HTTP 409.
func (s *IndexStatus) Begin(total int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State == IndexRunning {
		return false
	}
	s.snap = IndexSnapshot{State: IndexRunning, Total: total}
	return true
}

// Progress updates the files-processed counter mid-build; total is only
// recorded when known (> 0).
func (s *IndexStatus) Progress(done, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Progress = done
	if total > 0 {
		s.snap.Total = total
	}
}

// Complete records a finished build's stats.
func (s *IndexStatus) Complete(stats indexer.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = IndexSnapshot{
		State:       IndexReady,
		Progress:    stats.FilesProcessed,
		Total:       stats.FilesProcessed,
		FileCount:   stats.FilesProcessed,
		ChunkCount:  stats.ChunksIndexed,
		ASTSuccess:  stats.ASTSuccess,
		ASTFallback: stats.ASTFallback,
		LineBased:   stats.LineBased,
		LastIndexed: time.Now().UTC().Format(time.RFC3339),
		DurationMS:  stats.Duration.Milliseconds(),
	}
}

// Fail records a failed build.
func (s *IndexStatus) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.State = IndexFailed
	if err != nil {
		s.snap.Error = err.Error()
	}
}

// Snapshot returns a copy of the current state.
func (s *IndexStatus) Snapshot() IndexSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

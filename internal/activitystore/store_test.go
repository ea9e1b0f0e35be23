package activitystore

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "activity.db"), "test-machine")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestGetOrCreateSessionIsIdempotent(t *testing.T) {
	st := openTestStore(t)

	sess, created, err := st.GetOrCreateSession("sess-1", "claude", "/repo")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "active", sess.Status)

	again, created2, err := st.GetOrCreateSession("sess-1", "claude", "/repo")
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, sess.ID, again.ID)
}

func TestPromptBatchLifecycle(t *testing.T) {
	st := openTestStore(t)
	_, _, err := st.GetOrCreateSession("sess-1", "claude", "/repo")
	require.NoError(t, err)

	active, err := st.GetActivePromptBatch("sess-1")
	require.NoError(t, err)
	require.Nil(t, active)

	num, err := st.NextPromptNumber("sess-1")
	require.NoError(t, err)
	require.Equal(t, 1, num)

	batch, err := st.StartPromptBatch("sess-1", num, "fix the bug", "user")
	require.NoError(t, err)
	require.Equal(t, "active", batch.Status)

	active, err = st.GetActivePromptBatch("sess-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, batch.ID, active.ID)

	require.NoError(t, st.CloseBatch(batch.ID, "fixed it"))
	active, err = st.GetActivePromptBatch("sess-1")
	require.NoError(t, err)
	require.Nil(t, active)

	unprocessed, err := st.ListUnprocessedBatches(10)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
}

func TestFlushActivityBufferAssignsIDsInOrder(t *testing.T) {
	st := openTestStore(t)
	_, _, err := st.GetOrCreateSession("sess-1", "claude", "/repo")
	require.NoError(t, err)

	var buf ActivityBuffer
	buf.Buffer("sess-1", sql.NullInt64{}, "Read", `{"path":"a.go"}`, "read file", "a.go", true, "")
	buf.Buffer("sess-1", sql.NullInt64{}, "Write", `{"path":"b.go"}`, "wrote file", "b.go", true, "")
	require.Equal(t, 2, buf.Len())

	ids, err := st.FlushActivityBuffer(&buf)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Equal(t, 0, buf.Len())

	first, err := st.GetActivity(ids[0])
	require.NoError(t, err)
	require.Equal(t, "Read", first.ToolName)

	// flushing an empty buffer is a no-op
	ids2, err := st.FlushActivityBuffer(&buf)
	require.NoError(t, err)
	require.Nil(t, ids2)
}

func TestUpdateObservationStatusAtomicAndReportsAffected(t *testing.T) {
	st := openTestStore(t)
	_, _, err := st.GetOrCreateSession("sess-1", "claude", "/repo")
	require.NoError(t, err)

	obs, err := st.CreateObservation("sess-1", sql.NullInt64{}, "found a gotcha", "gotcha", "", []string{"go", "concurrency"}, 7)
	require.NoError(t, err)
	require.Equal(t, "active", obs.Status)
	require.False(t, obs.ResolvedAt.Valid)

	affected, err := st.UpdateObservationStatus(obs.ID, "resolved", "sess-2", "")
	require.NoError(t, err)
	require.True(t, affected)

	updated, err := st.GetObservation(obs.ID)
	require.NoError(t, err)
	require.Equal(t, "resolved", updated.Status)
	require.True(t, updated.ResolvedAt.Valid)
	require.Equal(t, "sess-2", updated.ResolvedBySessionID)

	affected, err = st.UpdateObservationStatus("missing-id", "resolved", "sess-2", "")
	require.NoError(t, err)
	require.False(t, affected)

	_, err = st.UpdateObservationStatus(obs.ID, "bogus", "", "")
	require.Error(t, err)
}

func TestRecordResolutionEventDedupesByContentHash(t *testing.T) {
	st := openTestStore(t)
	_, _, err := st.GetOrCreateSession("sess-1", "claude", "/repo")
	require.NoError(t, err)
	obs, err := st.CreateObservation("sess-1", sql.NullInt64{}, "obs", "discovery", "", nil, 5)
	require.NoError(t, err)

	_, created, err := st.RecordResolutionEvent(obs.ID, "resolved", "sess-1", "", "done", "hash-1")
	require.NoError(t, err)
	require.True(t, created)

	_, created2, err := st.RecordResolutionEvent(obs.ID, "resolved", "sess-1", "", "done", "hash-1")
	require.NoError(t, err)
	require.False(t, created2, "duplicate content_hash must not insert a second row")

	pending, err := st.ListUnappliedResolutionEvents(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestGetBulkSessionStatsAvoidsPerSessionQueries(t *testing.T) {
	st := openTestStore(t)
	_, _, err := st.GetOrCreateSession("sess-1", "claude", "/repo")
	require.NoError(t, err)
	_, _, err = st.GetOrCreateSession("sess-2", "claude", "/repo")
	require.NoError(t, err)

	batch, err := st.StartPromptBatch("sess-1", 1, "hello", "user")
	require.NoError(t, err)
	var buf ActivityBuffer
	buf.Buffer("sess-1", sql.NullInt64{Int64: batch.ID, Valid: true}, "Read", "{}", "", "", true, "")
	_, err = st.FlushActivityBuffer(&buf)
	require.NoError(t, err)

	stats, err := st.GetBulkSessionStats([]string{"sess-1", "sess-2"})
	require.NoError(t, err)
	require.Equal(t, 1, stats["sess-1"].ActivityCount)
	require.Equal(t, 1, stats["sess-1"].PromptBatchCount)
	require.Equal(t, 0, stats["sess-2"].ActivityCount)

	// second call should be served from cache without error
	stats2, err := st.GetBulkSessionStats([]string{"sess-1"})
	require.NoError(t, err)
	require.Equal(t, stats["sess-1"].ActivityCount, stats2["sess-1"].ActivityCount)
}

func TestExportImportRoundTripForcesReembed(t *testing.T) {
	src := openTestStore(t)
	_, _, err := src.GetOrCreateSession("sess-1", "claude", "/repo")
	require.NoError(t, err)
	obs, err := src.CreateObservation("sess-1", sql.NullInt64{}, "discovered X", "discovery", "", []string{"x"}, 4)
	require.NoError(t, err)
	require.NoError(t, src.SetObservationEmbedded(obs.ID, true))

	dump, err := src.ExportToSQL(false)
	require.NoError(t, err)
	require.Contains(t, dump, "discovered X")

	dst := openTestStore(t)
	n, err := dst.ImportFromSQL(dump)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	imported, err := dst.GetObservation(obs.ID)
	require.NoError(t, err)
	require.NotNil(t, imported)
	require.False(t, imported.Embedded, "import must force embedded=0 to trigger a vector rebuild")
}

func TestGovernanceAuditRetention(t *testing.T) {
	st := openTestStore(t)
	_, err := st.RecordGovernanceAuditEvent(GovernanceAuditEvent{
		ToolName: "Bash", Action: "deny", EnforcementMode: "enforce",
	})
	require.NoError(t, err)

	events, err := st.ListRecentGovernanceAuditEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	// a future cutoff should catch (prune) everything
	removed, err := st.PruneGovernanceAuditEvents(9999999999)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func TestSavedTasksAndSchedulesCRUD(t *testing.T) {
	st := openTestStore(t)

	task, err := st.CreateSavedTask("write docs", "document the API")
	require.NoError(t, err)
	require.Equal(t, "pending", task.Status)
	require.NoError(t, st.UpdateSavedTaskStatus(task.ID, "done"))
	got, err := st.GetSavedTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, "done", got.Status)

	sched, err := st.CreateSchedule("nightly-cleanup", "0 2 * * *", "clean up stale branches", true)
	require.NoError(t, err)
	require.True(t, sched.Enabled)
	require.NoError(t, st.SetScheduleEnabled(sched.ID, false))
	got2, err := st.GetSchedule(sched.ID)
	require.NoError(t, err)
	require.False(t, got2.Enabled)
}

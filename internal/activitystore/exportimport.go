package activitystore

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// epochOf parses an RFC3339 timestamp into epoch seconds, falling back to
// now if parsing fails (should only happen for malformed import data).
func epochOf(iso string) int64 {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return time.Now().UTC().Unix()
	}
	return t.Unix()
}

func sqlStr(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func sqlNullStr(v string) string {
	if v == "" {
		return "NULL"
	}
	return sqlStr(v)
}

func sqlBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func sqlNullInt64(v sql.NullInt64) string {
	if !v.Valid {
		return "NULL"
	}
	return fmt.Sprintf("%d", v.Int64)
}

// ExportToSQL produces the deterministic ASCII SQL dump described for the
// cross-machine backup contract: header comments (export timestamp,
// schema_version) followed by one INSERT INTO per row for sessions,
// prompt_batches, and observations (and, when requested, activities).
func (s *Store) ExportToSQL(includeActivities bool) (string, error) {
	var b strings.Builder
	w := bufio.NewWriter(&b)

	fmt.Fprintf(w, "-- OAK Codebase Intelligence History Backup\n")
	fmt.Fprintf(w, "-- exported_at: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "-- schema_version: %d\n", SchemaVersion)
	fmt.Fprintf(w, "-- source_machine_id: %s\n\n", s.sourceMachine)

	sessionRows, err := s.db.Query(`SELECT ` + sessionCols + ` FROM sessions ORDER BY started_at_epoch ASC`)
	if err != nil {
		return "", fmt.Errorf("activitystore: export sessions: %w", err)
	}
	for sessionRows.Next() {
		sess, err := scanSession(sessionRows)
		if err != nil {
			sessionRows.Close()
			return "", fmt.Errorf("activitystore: export scan session: %w", err)
		}
		fmt.Fprintf(w, "INSERT INTO sessions (id, agent_name, project_root, started_at, started_at_epoch, ended_at, status, title, summary, parent_session_id, parent_session_reason, transcript_path, source_machine_id) VALUES (%s, %s, %s, %s, %d, %s, %s, %s, %s, %s, %s, %s, %s);\n",
			sqlStr(sess.ID), sqlStr(sess.AgentName), sqlStr(sess.ProjectRoot), sqlStr(sess.StartedAt), epochOf(sess.StartedAt),
			sqlNullStr(sess.EndedAt.String), sqlStr(sess.Status), sqlStr(sess.Title), sqlStr(sess.Summary),
			sqlNullStr(sess.ParentSessionID), sqlNullStr(sess.ParentSessionReason), sqlNullStr(sess.TranscriptPath), sqlStr(sess.SourceMachineID))
	}
	sessionRows.Close()
	if err := sessionRows.Err(); err != nil {
		return "", fmt.Errorf("activitystore: export sessions: %w", err)
	}
	fmt.Fprintln(w)

	batchRows, err := s.db.Query(`SELECT ` + batchCols + ` FROM prompt_batches ORDER BY id ASC`)
	if err != nil {
		return "", fmt.Errorf("activitystore: export batches: %w", err)
	}
	for batchRows.Next() {
		bt, err := scanBatch(batchRows)
		if err != nil {
			batchRows.Close()
			return "", fmt.Errorf("activitystore: export scan batch: %w", err)
		}
		fmt.Fprintf(w, "INSERT INTO prompt_batches (id, session_id, prompt_number, user_prompt, response_summary, started_at, started_at_epoch, ended_at, status, classification, processed, source_type, plan_content, plan_file_path, plan_embedded) VALUES (%d, %s, %d, %s, %s, %s, %d, %s, %s, %s, %s, %s, %s, %s, %s);\n",
			bt.ID, sqlStr(bt.SessionID), bt.PromptNumber, sqlStr(bt.UserPrompt), sqlNullStr(bt.ResponseSummary),
			sqlStr(bt.StartedAt), epochOf(bt.StartedAt), sqlNullStr(bt.EndedAt.String), sqlStr(bt.Status), sqlNullStr(bt.Classification),
			sqlBool(bt.Processed), sqlStr(bt.SourceType), sqlNullStr(bt.PlanContent), sqlNullStr(bt.PlanFilePath), sqlBool(bt.PlanEmbedded))
	}
	batchRows.Close()
	if err := batchRows.Err(); err != nil {
		return "", fmt.Errorf("activitystore: export batches: %w", err)
	}
	fmt.Fprintln(w)

	obsRows, err := s.db.Query(`SELECT ` + observationCols + ` FROM observations ORDER BY created_at_epoch ASC`)
	if err != nil {
		return "", fmt.Errorf("activitystore: export observations: %w", err)
	}
	for obsRows.Next() {
		o, err := scanObservation(obsRows)
		if err != nil {
			obsRows.Close()
			return "", fmt.Errorf("activitystore: export scan observation: %w", err)
		}
		tagsJSON, err := json.Marshal(o.Tags)
		if err != nil {
			obsRows.Close()
			return "", fmt.Errorf("activitystore: export observation tags: %w", err)
		}
		fmt.Fprintf(w, "INSERT INTO observations (id, session_id, prompt_batch_id, observation, memory_type, context, tags, importance, created_at, created_at_epoch, embedded, status, resolved_by_session_id, resolved_at, superseded_by, source_machine_id) VALUES (%s, %s, %s, %s, %s, %s, %s, %d, %s, %d, %s, %s, %s, %s, %s, %s);\n",
			sqlStr(o.ID), sqlStr(o.SessionID), sqlNullInt64(o.PromptBatchID), sqlStr(o.Observation), sqlStr(o.MemoryType), sqlNullStr(o.Context),
			sqlStr(string(tagsJSON)), o.Importance, sqlStr(o.CreatedAt), epochOf(o.CreatedAt), sqlBool(o.Embedded), sqlStr(o.Status),
			sqlNullStr(o.ResolvedBySessionID), sqlNullStr(o.ResolvedAt.String), sqlNullStr(o.SupersededBy), sqlStr(o.SourceMachineID))
	}
	obsRows.Close()
	if err := obsRows.Err(); err != nil {
		return "", fmt.Errorf("activitystore: export observations: %w", err)
	}

	if includeActivities {
		fmt.Fprintln(w)
		actRows, err := s.db.Query(`SELECT ` + activityCols + ` FROM activities ORDER BY id ASC`)
		if err != nil {
			return "", fmt.Errorf("activitystore: export activities: %w", err)
		}
		for actRows.Next() {
			a, err := scanActivity(actRows)
			if err != nil {
				actRows.Close()
				return "", fmt.Errorf("activitystore: export scan activity: %w", err)
			}
			fmt.Fprintf(w, "INSERT INTO activities (id, session_id, prompt_batch_id, tool_name, tool_input, tool_output_summary, file_path, success, error_message, timestamp, timestamp_epoch, processed) VALUES (%d, %s, %s, %s, %s, %s, %s, %s, %s, %s, %d, %s);\n",
				a.ID, sqlStr(a.SessionID), sqlNullInt64(a.PromptBatchID), sqlStr(a.ToolName), sqlStr(a.ToolInput), sqlNullStr(a.ToolOutputSummary),
				sqlNullStr(a.FilePath), sqlBool(a.Success), sqlNullStr(a.ErrorMessage), sqlStr(a.Timestamp), epochOf(a.Timestamp), sqlBool(a.Processed))
		}
		actRows.Close()
		if err := actRows.Err(); err != nil {
			return "", fmt.Errorf("activitystore: export activities: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("activitystore: export flush: %w", err)
	}
	return b.String(), nil
}

// ImportFromSQL consumes a dump produced by ExportToSQL, upserting sessions,
// batches, observations, and activities row-by-row from its INSERT INTO
// statements. Imported observations always land with embedded=0, forcing a
// vector-store rebuild regardless of their source machine's embedded
// state. Duplicates conflict silently: every row upserts by primary key.
func (s *Store) ImportFromSQL(dump string) (imported int, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("activitystore: import: begin: %w", err)
	}
	defer tx.Rollback()

	for _, line := range strings.Split(dump, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		if !strings.HasPrefix(line, "INSERT INTO") {
			continue
		}
		stmt, table, err := rewriteInsertForUpsert(line)
		if err != nil {
			return imported, fmt.Errorf("activitystore: import: %w", err)
		}
		if _, err := tx.Exec(stmt); err != nil {
			return imported, fmt.Errorf("activitystore: import %s row: %w", table, err)
		}
		imported++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("activitystore: import: commit: %w", err)
	}
	return imported, nil
}

// rewriteInsertForUpsert turns a plain "INSERT INTO table (...) VALUES
// (...);" statement into an "INSERT OR REPLACE" so duplicate primary keys
// across machines conflict silently instead of failing the whole import.
// For observations it additionally forces the embedded column to 0, per
// the backup contract's "import always re-triggers indexing" rule.
func rewriteInsertForUpsert(stmt string) (string, string, error) {
	stmt = strings.TrimSuffix(strings.TrimSpace(stmt), ";")
	rest := strings.TrimPrefix(stmt, "INSERT INTO ")
	parenIdx := strings.IndexByte(rest, '(')
	if parenIdx < 0 {
		return "", "", fmt.Errorf("malformed insert: %s", stmt)
	}
	table := strings.TrimSpace(rest[:parenIdx])

	if table != "observations" {
		return "INSERT OR REPLACE INTO " + rest + ";", table, nil
	}

	valuesIdx := strings.Index(rest, " VALUES ")
	if valuesIdx < 0 {
		return "", "", fmt.Errorf("malformed observations insert: %s", stmt)
	}
	cols := strings.TrimSuffix(strings.TrimSpace(rest[parenIdx+1:valuesIdx]), ")")
	colNames := strings.Split(cols, ",")
	embeddedPos := -1
	for i, c := range colNames {
		if strings.TrimSpace(c) == "embedded" {
			embeddedPos = i
			break
		}
	}

	values := rest[valuesIdx+len(" VALUES ("):]
	values = strings.TrimSuffix(values, ")")
	valParts := splitSQLValues(values)
	if embeddedPos >= 0 && embeddedPos < len(valParts) {
		valParts[embeddedPos] = "0"
	}
	return fmt.Sprintf("INSERT OR REPLACE INTO observations (%s) VALUES (%s);", cols, strings.Join(valParts, ",")), table, nil
}

// splitSQLValues splits a VALUES tuple's contents on top-level commas,
// respecting single-quoted string literals (with '' escapes) so that
// commas embedded in observation text or JSON tag arrays don't split
// incorrectly.
func splitSQLValues(s string) []string {
	var parts []string
	var cur strings.Builder
	inStr := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'' && inStr && i+1 < len(s) && s[i+1] == '\'':
			cur.WriteByte(c)
			cur.WriteByte(s[i+1])
			i++
		case c == '\'':
			inStr = !inStr
			cur.WriteByte(c)
		case c == ',' && !inStr:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

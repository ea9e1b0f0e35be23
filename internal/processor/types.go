// Package processor runs the background activity-processing cycle: it
// picks up completed prompt batches, classifies sessions, extracts
// observations via an LLM, auto-resolves superseded facts, synthesizes
// derived plans from task activities, keeps the vector store's plan and
// observation indexes caught up, and finalizes completed sessions with a
// summary and title.
package processor

import (
	"database/sql"

	"github.com/oak-dev/cid/internal/activitystore"
)

// Source types a prompt batch can carry, mirrored from the relational
// schema's free-text source_type column.
const (
	SourceUser             = "user"
	SourcePlan             = "plan"
	SourceDerivedPlan      = "derived_plan"
	SourceAgentNotify      = "agent_notification"
	SourceSystem           = "system"
)

// Session classification labels, validated against this fixed set rather
// than an external schema file (the corpus's validator table pattern,
// applied in Go instead of loaded from JSON).
var validClassifications = map[string]struct{}{
	"exploration":    {},
	"debugging":      {},
	"implementation": {},
	"refactoring":    {},
}

// Observation kinds an extraction response may report, mapped to the
// relational store's memory_type values.
const (
	obsGotcha    = "gotcha"
	obsBugFix    = "bug_fix"
	obsDecision  = "decision"
	obsDiscovery = "discovery"
)

// MemoryTypeSessionSummary is the memory_type stamped on session-summary
// observations, excluded from auto-resolve's candidate search.
const MemoryTypeSessionSummary = "session_summary"

// MemoryTypePlan is the memory_type stamped on plan/derived-plan content
// indexed into the vector store's memory collection.
const MemoryTypePlan = "plan"

// autoResolveSkipTypes lists memory_types that never participate in
// auto-supersede, because they are append-only logs rather than facts
// that go stale (session summaries, plans).
var autoResolveSkipTypes = map[string]struct{}{
	MemoryTypeSessionSummary: {},
	MemoryTypePlan:           {},
}

func nullInt64(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: true}
}

// batchActivities is an alias for the activity list of one prompt batch,
// as passed between the processor's per-batch helper functions.
type batchActivities = []activitystore.Activity

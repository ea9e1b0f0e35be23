package activitystore

import "database/sql"

// Session identifies one contiguous interaction with an agent.
type Session struct {
	ID                  string
	AgentName           string
	ProjectRoot         string
	StartedAt           string
	EndedAt             sql.NullString
	Status              string // active, completed, abandoned
	Title               string
	Summary             string
	ParentSessionID     string
	ParentSessionReason string
	TranscriptPath      string
	SourceMachineID     string
}

// PromptBatch is one user prompt within a session plus all tool activity
// until the next prompt or session end.
type PromptBatch struct {
	ID              int64
	SessionID       string
	PromptNumber    int
	UserPrompt      string
	ResponseSummary string
	StartedAt       string
	EndedAt         sql.NullString
	Status          string // active, completed
	Classification  string // exploration, debugging, implementation, refactoring
	Processed       bool
	SourceType      string // user, agent_notification, plan, derived_plan, system
	PlanContent     string
	PlanFilePath    string
	PlanEmbedded    bool
}

// Activity is one tool invocation.
type Activity struct {
	ID                int64
	SessionID         string
	PromptBatchID     sql.NullInt64
	ToolName          string
	ToolInput         string // JSON
	ToolOutputSummary string
	FilePath          string
	Success           bool
	ErrorMessage      string
	Timestamp         string
	Processed         bool
}

// Observation is a long-lived fact extracted from session activity.
type Observation struct {
	ID                  string
	SessionID           string
	PromptBatchID       sql.NullInt64
	Observation         string
	MemoryType          string // gotcha, bug_fix, decision, discovery, trade_off, session_summary, plan
	Context             string
	Tags                []string
	Importance          int
	CreatedAt           string
	Embedded            bool
	Status              string // active, resolved, superseded
	ResolvedBySessionID string
	ResolvedAt          sql.NullString
	SupersededBy        string
	SourceMachineID     string
}

// ResolutionEvent is a cross-machine log entry of an observation status
// transition, replayed for eventual consistency between machines.
type ResolutionEvent struct {
	ID                  int64
	ObservationID       string
	Action              string // resolved, superseded, reactivated
	ResolvedBySessionID string
	SupersededBy        string
	Reason              string
	CreatedAt           string
	SourceMachineID     string
	ContentHash         string
	Applied             bool
}

// SessionRelationship is an undirected link between two sessions.
type SessionRelationship struct {
	ID              int64
	SessionIDA      string
	SessionIDB      string
	SimilarityScore sql.NullFloat64
	CreatedBy       string // manual, suggestion, auto
	CreatedAt       string
}

// AgentSchedule is a periodic or on-demand agent job definition.
type AgentSchedule struct {
	ID        string
	Name      string
	CronExpr  string
	Prompt    string
	Enabled   bool
	LastRunAt sql.NullString
	CreatedAt string
}

// SavedTask is a user-authored task, independent of the derived-plan
// synthesis pipeline.
type SavedTask struct {
	ID        string
	Title     string
	Body      string
	Status    string
	CreatedAt string
	UpdatedAt string
}

// GovernanceAuditEvent is a single governance-rule evaluation record.
type GovernanceAuditEvent struct {
	ID               int64
	SessionID        string
	Agent            string
	ToolName         string
	ToolUseID        string
	ToolCategory     string
	RuleID           string
	Action           string
	Reason           string
	MatchedPattern   string
	ToolInputSummary string
	EnforcementMode  string
	EvaluationMS     float64
	CreatedAt        string
	SourceMachineID  string
}

// SessionStats is the bulk-accessor shape for browsing UIs: avoids N+1 reads
// over per-session activity/observation counts.
type SessionStats struct {
	SessionID        string
	PromptBatchCount int
	ActivityCount    int
	ObservationCount int
	LastActivityAt   string
}

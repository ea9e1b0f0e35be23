package governance

// ManifestStyle selects which deny-response envelope an agent's manifest
// declares support for.
type ManifestStyle string

const (
	StyleHookSpecific ManifestStyle = "hook_specific_output"
	StyleCursor       ManifestStyle = "cursor"
	StyleUnsupported  ManifestStyle = "unsupported"
)

// HookSpecificEnvelope is the deny response shape for agents whose
// manifest declares hookSpecificOutput support.
type HookSpecificEnvelope struct {
	HookSpecificOutput struct {
		PermissionDecision       string `json:"permissionDecision"`
		PermissionDecisionReason string `json:"permissionDecisionReason"`
	} `json:"hookSpecificOutput"`
}

// CursorEnvelope is the deny response shape for cursor-style agents.
type CursorEnvelope struct {
	Continue     bool   `json:"continue"`
	Permission   string `json:"permission"`
	UserMessage  string `json:"userMessage"`
	AgentMessage string `json:"agentMessage"`
}

// BuildDenyEnvelope shapes a deny/warn decision into the response body the
// agent's manifest expects. Agents with an unsupported style get the
// decision logged (via AuditWriter) but not enforced: BuildDenyEnvelope
// returns nil for those, and the caller must fall through to an allow.
func BuildDenyEnvelope(style ManifestStyle, decision Decision) any {
	reason := decision.Reason
	if reason == "" {
		reason = "blocked by governance rule " + decision.RuleID
	}

	switch style {
	case StyleHookSpecific:
		var env HookSpecificEnvelope
		env.HookSpecificOutput.PermissionDecision = "deny"
		env.HookSpecificOutput.PermissionDecisionReason = reason
		return env
	case StyleCursor:
		return CursorEnvelope{
			Continue:     false,
			Permission:   "deny",
			UserMessage:  reason,
			AgentMessage: reason,
		}
	default:
		return nil
	}
}

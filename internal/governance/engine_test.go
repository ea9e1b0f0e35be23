package governance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oak-dev/cid/internal/config"
)

func TestEvaluateObserveModeDowngradesDeny(t *testing.T) {
	cfg := config.GovernanceConfig{
		EnforcementMode: "observe",
		Rules: []config.GovernanceRule{
			{ID: "no-rm-rf", Enabled: true, Tool: "Bash", Pattern: `rm\s+-rf`, Action: "deny", Message: "destructive command blocked"},
		},
	}
	e := NewEngine(cfg, nil)

	decision := e.Evaluate("Bash", map[string]any{"command": "rm -rf /tmp/x"}, "")
	require.Equal(t, "observe", decision.Action)
	require.Equal(t, "no-rm-rf", decision.RuleID)
}

func TestEvaluateEnforceModeKeepsDeny(t *testing.T) {
	cfg := config.GovernanceConfig{
		EnforcementMode: "enforce",
		Rules: []config.GovernanceRule{
			{ID: "no-rm-rf", Enabled: true, Tool: "Bash", Pattern: `rm\s+-rf`, Action: "deny"},
		},
	}
	e := NewEngine(cfg, nil)

	decision := e.Evaluate("Bash", map[string]any{"command": "rm -rf /tmp/x"}, "")
	require.Equal(t, "deny", decision.Action)
}

func TestEvaluateNoMatchAllows(t *testing.T) {
	cfg := config.GovernanceConfig{EnforcementMode: "enforce"}
	e := NewEngine(cfg, nil)

	decision := e.Evaluate("Read", map[string]any{"file_path": "/repo/main.go"}, "/repo/main.go")
	require.Equal(t, "allow", decision.Action)
	require.Equal(t, CategoryFilesystem, decision.ToolCategory)
}

func TestEvaluatePathPatternRequiresFilePath(t *testing.T) {
	cfg := config.GovernanceConfig{
		EnforcementMode: "enforce",
		Rules: []config.GovernanceRule{
			{ID: "protect-secrets", Enabled: true, Tool: "Write", PathPattern: "**/secrets/**", Action: "deny"},
		},
	}
	e := NewEngine(cfg, nil)

	require.Equal(t, "allow", e.Evaluate("Write", nil, "").Action)
	require.Equal(t, "deny", e.Evaluate("Write", nil, "config/secrets/prod.env").Action)
}

func TestInvalidPatternIsSkippedNotFatal(t *testing.T) {
	cfg := config.GovernanceConfig{
		EnforcementMode: "enforce",
		Rules: []config.GovernanceRule{
			{ID: "broken", Enabled: true, Tool: "*", Pattern: "(unclosed", Action: "deny"},
		},
	}
	e := NewEngine(cfg, nil)
	require.Len(t, e.rules, 0)
}

func TestBuildDenyEnvelopeStyles(t *testing.T) {
	decision := Decision{Action: "deny", RuleID: "r1", Reason: "blocked"}

	hookEnv := BuildDenyEnvelope(StyleHookSpecific, decision).(HookSpecificEnvelope)
	require.Equal(t, "deny", hookEnv.HookSpecificOutput.PermissionDecision)
	require.Equal(t, "blocked", hookEnv.HookSpecificOutput.PermissionDecisionReason)

	cursorEnv := BuildDenyEnvelope(StyleCursor, decision).(CursorEnvelope)
	require.False(t, cursorEnv.Continue)
	require.Equal(t, "deny", cursorEnv.Permission)

	require.Nil(t, BuildDenyEnvelope(StyleUnsupported, decision))
}

// Package governance compiles tool-call policy rules at startup and
// evaluates each tool invocation against them, producing a decision that
// the HTTP layer turns into an allow/deny/warn response and the audit
// writer persists as one row per evaluation.
package governance

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/oak-dev/cid/internal/config"
)

// Category classifies a tool name into a coarse bucket used for both
// display and rule matching.
type Category string

const (
	CategoryFilesystem Category = "filesystem"
	CategoryShell      Category = "shell"
	CategoryNetwork    Category = "network"
	CategoryAgent      Category = "agent"
	CategoryOther      Category = "other"
)

var filesystemTools = map[string]struct{}{
	"Read": {}, "Write": {}, "Edit": {}, "MultiEdit": {}, "Glob": {}, "Grep": {}, "LS": {},
}

var shellTools = map[string]struct{}{
	"Bash": {}, "BashOutput": {}, "KillShell": {},
}

var networkTools = map[string]struct{}{
	"WebFetch": {}, "WebSearch": {},
}

var agentTools = map[string]struct{}{
	"Task": {}, "TaskCreate": {}, "TaskUpdate": {}, "Agent": {},
}

// categorize maps a tool name to its governance category via fixed sets,
// defaulting to "other" for anything unrecognized.
func categorize(toolName string) Category {
	if _, ok := filesystemTools[toolName]; ok {
		return CategoryFilesystem
	}
	if _, ok := shellTools[toolName]; ok {
		return CategoryShell
	}
	if _, ok := networkTools[toolName]; ok {
		return CategoryNetwork
	}
	if _, ok := agentTools[toolName]; ok {
		return CategoryAgent
	}
	return CategoryOther
}

// compiledRule is a GovernanceRule with its pattern pre-compiled at
// construction time. Rules whose pattern fails to compile are skipped
// with a warning rather than failing startup.
type compiledRule struct {
	config.GovernanceRule
	pattern *regexp.Regexp
}

// Decision is the outcome of evaluating one tool call against the rule
// set.
type Decision struct {
	Action          string // allow, deny, warn, observe
	RuleID          string
	Reason          string
	MatchedPattern  string
	ToolCategory    Category
	EvaluationMS    float64
	EnforcementMode string
}

// Engine holds the compiled rule set and enforcement mode for one daemon
// instance. It is rebuilt whenever the governance configuration changes.
type Engine struct {
	mu              sync.RWMutex
	rules           []compiledRule
	enforcementMode string
	logger          *slog.Logger
}

// NewEngine compiles every enabled rule's regex pattern, skipping invalid
// ones with a warning instead of failing to start. path_pattern is kept as
// a glob and matched at evaluation time.
func NewEngine(cfg config.GovernanceConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{enforcementMode: cfg.EnforcementMode, logger: logger}
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		cr := compiledRule{GovernanceRule: rule}
		if rule.Pattern != "" {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				logger.Warn("governance: skipping rule with invalid pattern", "rule_id", rule.ID, "pattern", rule.Pattern, "error", err)
				continue
			}
			cr.pattern = re
		}
		e.rules = append(e.rules, cr)
	}
	return e
}

// Evaluate runs tool_name/tool_input through the compiled rule set,
// returning the first matching rule's decision (or an implicit allow if
// nothing matches). In observe enforcement mode, deny and warn are
// downgraded to observe so the evaluation is recorded but not enforced.
func (e *Engine) Evaluate(toolName string, toolInput any, filePath string) Decision {
	start := time.Now()
	category := categorize(toolName)

	e.mu.RLock()
	rules := e.rules
	mode := e.enforcementMode
	e.mu.RUnlock()

	serialized := serializeInput(toolInput)

	for _, rule := range rules {
		if !ruleMatches(rule, toolName, serialized, filePath) {
			continue
		}
		action := rule.Action
		if mode == "observe" && (action == "deny" || action == "warn") {
			action = "observe"
		}
		return Decision{
			Action:          action,
			RuleID:          rule.ID,
			Reason:          rule.Message,
			MatchedPattern:  rule.Pattern,
			ToolCategory:    category,
			EvaluationMS:    elapsedMS(start),
			EnforcementMode: mode,
		}
	}

	return Decision{
		Action:          "allow",
		ToolCategory:    category,
		EvaluationMS:    elapsedMS(start),
		EnforcementMode: mode,
	}
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// ruleMatches requires every specified predicate (tool glob, input regex,
// path glob) to hold; unspecified predicates are treated as satisfied.
func ruleMatches(rule compiledRule, toolName, serializedInput, filePath string) bool {
	if rule.Tool != "" && rule.Tool != "*" {
		ok, err := doublestar.Match(rule.Tool, toolName)
		if err != nil || !ok {
			return false
		}
	}
	if rule.pattern != nil && !rule.pattern.MatchString(serializedInput) {
		return false
	}
	if rule.PathPattern != "" {
		if filePath == "" {
			return false
		}
		ok, err := doublestar.Match(rule.PathPattern, filePath)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// serializeInput renders tool_input as JSON for regex matching when it is
// a structured value; string inputs pass through unchanged.
func serializeInput(toolInput any) string {
	switch v := toolInput.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// Reload swaps in a freshly compiled rule set, used when governance
// config is updated via PUT /api/governance/config without a daemon
// restart.
func (e *Engine) Reload(cfg config.GovernanceConfig) {
	fresh := NewEngine(cfg, e.logger)
	e.mu.Lock()
	e.rules = fresh.rules
	e.enforcementMode = fresh.enforcementMode
	e.mu.Unlock()
}

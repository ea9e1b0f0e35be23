package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oak-dev/cid/internal/config"
	"github.com/oak-dev/cid/internal/daemon"
)

// newTestServer wires a full App against temp-dir stores with the CPU
// fallback embedder, so handlers run the real store paths without any
// network provider.
func newTestServer(t *testing.T, mutate func(cfg *config.Config)) (*Server, *daemon.App) {
	t.Helper()

	cfg := config.Default()
	cfg.General.ProjectRoot = t.TempDir()
	cfg.Embedding.Provider = "cpu-fallback"
	cfg.Embedding.Dimensions = 32
	cfg.Indexer.WatcherEnabled = false
	if mutate != nil {
		mutate(cfg)
	}

	mgr := config.NewManager(cfg)
	app, err := daemon.New(mgr, nil)
	require.NoError(t, err)
	t.Cleanup(app.Close)

	return New(app, nil), app
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthExemptsGetHealthOnly(t *testing.T) {
	srv, app := newTestServer(t, nil)
	app.AuthToken = "secret"
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/health", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/status", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "missing")

	rec = doJSON(t, h, http.MethodGet, "/api/status", nil, map[string]string{"Authorization": "Basic secret"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "scheme")

	rec = doJSON(t, h, http.MethodGet, "/api/status", nil, map[string]string{"Authorization": "Bearer wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid token")

	rec = doJSON(t, h, http.MethodGet, "/api/status", nil, map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthDisabledIsNoOp(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBodySizeCap(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.API.MaxBodyBytes = 256
	})
	h := srv.Handler()

	big := strings.Repeat("x", 300)
	rec := doJSON(t, h, http.MethodPost, "/api/search", map[string]any{"query": big}, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/search", map[string]any{"query": "small"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSearchValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/search", map[string]any{"query": ""}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/search", map[string]any{"query": "x", "limit": 101}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/search", map[string]any{"query": "x", "limit": 100}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/search", map[string]any{"query": "x", "search_type": "bogus"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFetchIDCountBoundaries(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/fetch", map[string]any{"ids": []string{}}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	ids := make([]string, 21)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/fetch", map[string]any{"ids": ids}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/fetch", map[string]any{"ids": ids[:20]}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRememberThenSearchRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	text := "The config loader silently ignores unknown TOML keys."
	rec := doJSON(t, h, http.MethodPost, "/api/remember", map[string]any{
		"observation": text,
		"memory_type": "gotcha",
		"context":     "internal/config/config.go",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var remembered struct {
		ID     string `json:"id"`
		Stored bool   `json:"stored"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &remembered))
	require.True(t, remembered.Stored)
	require.NotEmpty(t, remembered.ID)

	rec = doJSON(t, h, http.MethodPost, "/api/search", map[string]any{
		"query": text, "search_type": "memory", "limit": 5,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Memory []struct {
			ID        string  `json:"id"`
			Relevance float64 `json:"relevance"`
		} `json:"memory"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotEmpty(t, result.Memory)
	require.Equal(t, remembered.ID, result.Memory[0].ID)
	require.Greater(t, result.Memory[0].Relevance, 0.9)
}

func TestRememberRejectsUnknownMemoryType(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/remember", map[string]any{
		"observation": "something", "memory_type": "rumor",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGovernanceObserveModeDowngradesDeny(t *testing.T) {
	srv, app := newTestServer(t, func(cfg *config.Config) {
		cfg.Governance.EnforcementMode = "observe"
		cfg.Governance.Rules = []config.GovernanceRule{{
			ID:      "no-rm-rf",
			Enabled: true,
			Tool:    "Bash",
			Pattern: `rm\s+-rf`,
			Action:  "deny",
			Message: "destructive delete blocked",
		}}
	})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/hooks/event", map[string]any{
		"event_name": "pre_tool_use",
		"session_id": "sess-gov",
		"agent":      "claude",
		"tool_name":  "Bash",
		"tool_input": map[string]string{"command": "rm -rf /tmp/x"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "permissionDecision", "observe mode must not emit a deny envelope")
	require.Contains(t, rec.Body.String(), "observe")

	events, err := app.Audit.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "observe", events[0].Action)
	require.Equal(t, "no-rm-rf", events[0].RuleID)
	require.Equal(t, "observe", events[0].EnforcementMode)
}

func TestGovernanceEnforceModeEmitsDenyEnvelope(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Governance.EnforcementMode = "enforce"
		cfg.Governance.Rules = []config.GovernanceRule{{
			ID:      "no-rm-rf",
			Enabled: true,
			Tool:    "Bash",
			Pattern: `rm\s+-rf`,
			Action:  "deny",
			Message: "destructive delete blocked",
		}}
	})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/hooks/event", map[string]any{
		"event_name": "pre_tool_use",
		"session_id": "sess-gov",
		"agent":      "claude",
		"tool_name":  "Bash",
		"tool_input": map[string]string{"command": "rm -rf /tmp/x"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		HookSpecificOutput struct {
			PermissionDecision       string `json:"permissionDecision"`
			PermissionDecisionReason string `json:"permissionDecisionReason"`
		} `json:"hookSpecificOutput"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "deny", envelope.HookSpecificOutput.PermissionDecision)
	require.Equal(t, "destructive delete blocked", envelope.HookSpecificOutput.PermissionDecisionReason)
}

func TestGovernanceWarnNeverBlocksToolCall(t *testing.T) {
	srv, app := newTestServer(t, func(cfg *config.Config) {
		cfg.Governance.EnforcementMode = "enforce"
		cfg.Governance.Rules = []config.GovernanceRule{{
			ID:      "warn-force-push",
			Enabled: true,
			Tool:    "Bash",
			Pattern: `push\s+--force`,
			Action:  "warn",
			Message: "force push is discouraged",
		}}
	})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/hooks/event", map[string]any{
		"event_name": "pre_tool_use",
		"session_id": "sess-warn",
		"agent":      "claude",
		"tool_name":  "Bash",
		"tool_input": map[string]string{"command": "git push --force"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "permissionDecision", "warn must not emit a deny envelope even in enforce mode")
	require.Contains(t, rec.Body.String(), `"action":"warn"`)

	events, err := app.Audit.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "warn", events[0].Action)
}

func TestSearchIncludeResolvedSurfacesResolvedMemories(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	text := "The retry loop double-counts failures on timeout."
	rec := doJSON(t, h, http.MethodPost, "/api/remember", map[string]any{
		"observation": text, "memory_type": "bug_fix",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var remembered struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &remembered))

	rec = doJSON(t, h, http.MethodPost, "/api/memories/"+remembered.ID+"/status", map[string]any{
		"status": "resolved", "reason": "fixed in v2",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Memory []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"memory"`
	}

	rec = doJSON(t, h, http.MethodPost, "/api/search", map[string]any{
		"query": text, "search_type": "memory",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Empty(t, result.Memory, "a resolved memory must stay hidden by default")

	rec = doJSON(t, h, http.MethodPost, "/api/search", map[string]any{
		"query": text, "search_type": "memory", "include_resolved": true,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result.Memory = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Memory, 1)
	require.Equal(t, remembered.ID, result.Memory[0].ID)
	require.Equal(t, "resolved", result.Memory[0].Status)
}

func TestHookFlowKeepsOneActiveBatchPerSession(t *testing.T) {
	srv, app := newTestServer(t, nil)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/hooks/event", map[string]any{
		"event_name": "user_prompt", "session_id": "s1", "agent": "claude", "prompt": "first",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/hooks/event", map[string]any{
		"event_name": "user_prompt", "session_id": "s1", "agent": "claude", "prompt": "second",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	active, err := app.Store.GetActivePromptBatch("s1")
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, "second", active.UserPrompt)
	require.Equal(t, 2, active.PromptNumber)

	batches, err := app.Store.ListBatchesForSession("s1")
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Equal(t, "completed", batches[0].Status)
}

func TestHookEventDeduplicatesRetries(t *testing.T) {
	srv, app := newTestServer(t, nil)
	h := srv.Handler()

	payload := map[string]any{
		"event_name": "post_tool_use", "session_id": "s1", "agent": "claude",
		"tool_name": "Read", "tool_use_id": "tu-1",
		"tool_input": map[string]string{"file_path": "a.go"},
	}
	rec := doJSON(t, h, http.MethodPost, "/api/hooks/event", payload, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/api/hooks/event", payload, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "duplicate")

	require.Equal(t, 1, app.ActBuffer.Len())
}

func TestStatusIncludesVersionBlock(t *testing.T) {
	srv, app := newTestServer(t, nil)
	app.VersionInfo = daemon.VersionInfo{Running: "1.0.10", Installed: "1.0.11", UpdateAvailable: true}

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Version daemon.VersionInfo `json:"version"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "1.0.10", payload.Version.Running)
	require.True(t, payload.Version.UpdateAvailable)
}

func TestCORSAllowsDynamicOrigin(t *testing.T) {
	srv, app := newTestServer(t, nil)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://abc.ngrok.app")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	app.CORS.Add("https://abc.ngrok.app")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "https://abc.ngrok.app", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Values("Vary"), "Origin")
}

func TestSessionBrowsingAndCascadeDelete(t *testing.T) {
	srv, app := newTestServer(t, nil)
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/api/hooks/event", map[string]any{
		"event_name": "user_prompt", "session_id": "s1", "agent": "claude", "prompt": "hello",
	}, nil)
	doJSON(t, h, http.MethodPost, "/api/remember", map[string]any{
		"observation": "fact", "memory_type": "discovery", "session_id": "s1",
	}, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/activity/sessions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "s1")

	rec = doJSON(t, h, http.MethodDelete, "/api/activity/sessions/s1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	sess, err := app.Store.GetSession("s1")
	require.NoError(t, err)
	require.Nil(t, sess)

	obs, err := app.Store.ListObservations("", "", 10)
	require.NoError(t, err)
	require.Empty(t, obs)
}

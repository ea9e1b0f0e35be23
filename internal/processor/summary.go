package processor

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oak-dev/cid/internal/activitystore"
	"github.com/oak-dev/cid/internal/config"
	"github.com/oak-dev/cid/internal/llmclient"
	"github.com/oak-dev/cid/internal/vectorstore"
)

// finalizeCompletedSessions generates a title and summary for completed
// sessions that don't have one yet, storing the result both relationally
// (sessions.title/summary) and in the vector store's session_summaries
// collection so search/context recall can surface it. Sessions below
// MinSessionActivities still get a generic summary: skipping them entirely
// would leave /api/sessions permanently missing a summary field.
func (p *Processor) finalizeCompletedSessions(ctx context.Context, client llmclient.Client, cfg config.ProcessorConfig) error {
	sessions, err := p.store.ListCompletedUnsummarizedSessions(20)
	if err != nil {
		return fmt.Errorf("list completed unsummarized sessions: %w", err)
	}

	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.finalizeSession(ctx, client, sess); err != nil {
			p.logger.Warn("processor: failed to finalize session", "session_id", sess.ID, "error", err)
		}
	}
	return nil
}

func (p *Processor) finalizeSession(ctx context.Context, client llmclient.Client, sess activitystore.Session) error {
	batches, err := p.listSessionBatches(sess.ID)
	if err != nil {
		return fmt.Errorf("list batches: %w", err)
	}

	stats, err := p.store.GetBulkSessionStats([]string{sess.ID})
	if err != nil {
		return fmt.Errorf("session stats: %w", err)
	}
	st := stats[sess.ID]

	title := sessionFallbackTitle(batches)
	summary := sessionFallbackSummary(sess, st, batches)

	if client != nil {
		if t, ok := callSessionTemplate(ctx, client, templateSessionTitle, batches); ok {
			title = t
		}
		if s, ok := callSessionTemplate(ctx, client, templateSessionSummary, batches, sessionSummaryPlaceholders(sess, st)...); ok {
			summary = s
		}
	}

	if err := p.store.SetSessionSummary(sess.ID, title, summary); err != nil {
		return fmt.Errorf("set session summary: %w", err)
	}

	if obs, err := p.store.CreateObservation(sess.ID, sql.NullInt64{}, summary, MemoryTypeSessionSummary, "", []string{"session-summary"}, 5); err != nil {
		p.logger.Warn("processor: failed to persist summary observation", "session_id", sess.ID, "error", err)
	} else {
		p.embedAndMarkObservation(ctx, obs.ID, MemoryTypeSessionSummary, summary, "", obs.Tags, 5, sess.ID)
	}

	doc := vectorstore.SessionSummaryDocument(title, summary)
	vec, err := p.embedText(ctx, doc)
	if err != nil {
		return fmt.Errorf("embed session summary: %w", err)
	}
	createdEpoch := time.Now().UTC().Unix()
	if err := p.vstore.AddSessionSummary(sess.ID, title, doc, sess.ProjectRoot, sess.AgentName, createdEpoch, vec); err != nil {
		return fmt.Errorf("upsert session summary: %w", err)
	}
	return nil
}

func (p *Processor) listSessionBatches(sessionID string) ([]activitystore.PromptBatch, error) {
	return p.store.ListBatchesForSession(sessionID)
}

func sessionFallbackTitle(batches []activitystore.PromptBatch) string {
	if len(batches) == 0 {
		return "Coding session"
	}
	first := strings.TrimSpace(batches[0].UserPrompt)
	if first == "" {
		return "Coding session"
	}
	if len(first) > 60 {
		first = first[:60] + "…"
	}
	return first
}

func sessionFallbackSummary(sess activitystore.Session, st activitystore.SessionStats, batches []activitystore.PromptBatch) string {
	return fmt.Sprintf("Session with %d prompt batch(es) and %d activities.", st.PromptBatchCount, st.ActivityCount)
}

func sessionSummaryPlaceholders(sess activitystore.Session, st activitystore.SessionStats) []string {
	return []string{strconv.Itoa(st.PromptBatchCount), strconv.Itoa(st.ActivityCount)}
}

// callSessionTemplate renders the prompt_batches placeholder from the
// batch list, fills prompt_batch_count and tool_calls from extras[0] and
// extras[1] when given, and asks the LLM to complete it. The
// session_duration and files_* placeholders are not filled.
func callSessionTemplate(ctx context.Context, client llmclient.Client, template string, batches []activitystore.PromptBatch, extras ...string) (string, bool) {
	if len(batches) > 10 {
		batches = batches[:10]
	}
	var lines []string
	for i, b := range batches {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, b.UserPrompt))
	}
	prompt := strings.ReplaceAll(template, "{{prompt_batches}}", strings.Join(lines, "\n"))
	if len(extras) > 0 {
		prompt = strings.ReplaceAll(prompt, "{{prompt_batch_count}}", extras[0])
	}
	if len(extras) > 1 {
		prompt = strings.ReplaceAll(prompt, "{{tool_calls}}", extras[1])
	}
	result := llmclient.Call(ctx, client, prompt)
	if !result.Success || strings.TrimSpace(result.RawResponse) == "" {
		return "", false
	}
	return strings.TrimSpace(result.RawResponse), true
}

// backfillUnembeddedObservations retries the vector-store write for
// observations whose earlier embed attempt failed, keeping the embedded
// flag accurate even after a transient embedding-provider outage.
func (p *Processor) backfillUnembeddedObservations(ctx context.Context, limit int) error {
	obs, err := p.store.ListUnembeddedObservations(limit)
	if err != nil {
		return fmt.Errorf("list unembedded observations: %w", err)
	}
	for _, o := range obs {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.embedAndMarkObservation(ctx, o.ID, o.MemoryType, o.Observation, o.Context, o.Tags, o.Importance, o.SessionID)
	}
	return nil
}

// sweepStaleSessions ends active sessions whose last activity predates the
// configured timeout, so an agent crash doesn't leave a session active
// forever.
func (p *Processor) sweepStaleSessions(timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-timeout).Unix()
	stale, err := p.store.ListStaleActiveSessions(cutoff)
	if err != nil {
		return fmt.Errorf("list stale sessions: %w", err)
	}
	for _, sess := range stale {
		if err := p.store.EndSession(sess.ID, "abandoned"); err != nil {
			p.logger.Warn("processor: failed to end stale session", "session_id", sess.ID, "error", err)
		}
	}
	return nil
}

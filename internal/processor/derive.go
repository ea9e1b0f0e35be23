package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/oak-dev/cid/internal/activitystore"
	"github.com/oak-dev/cid/internal/vectorstore"
)

// taskCreateInput mirrors the subset of TaskCreate's tool_input this
// package cares about. Unknown fields are ignored by json.Unmarshal.
type taskCreateInput struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// taskUpdateInput mirrors the subset of TaskUpdate's tool_input this
// package cares about.
type taskUpdateInput struct {
	TaskID       string   `json:"taskId"`
	Status       string   `json:"status"`
	AddBlockedBy []string `json:"addBlockedBy"`
	AddBlocks    []string `json:"addBlocks"`
}

// derivedTask is one task line in a synthesized plan. ID is a synthetic
// sequential number assigned in creation order; the real tool-assigned
// task id (carried in ToolOutputSummary by convention) is used only to
// resolve which task a later TaskUpdate targets.
type derivedTask struct {
	ID        string
	Subject   string
	Status    string
	BlockedBy []string
	Blocks    []string
}

// synthesizeDerivedPlan scans a batch's activities for TaskCreate/
// TaskUpdate tool calls and renders them into a plan document, the same
// shape a human-authored plan batch would carry. Returns ok=false when the
// batch contains no task activity at all, so callers can skip indexing
// batches that never touched the task list.
func synthesizeDerivedPlan(activities []activitystore.Activity) (string, bool) {
	var tasks []*derivedTask
	bySyntheticID := map[string]*derivedTask{}
	byRealID := map[string]*derivedTask{}

	for _, a := range activities {
		switch a.ToolName {
		case "TaskCreate":
			var in taskCreateInput
			if err := json.Unmarshal([]byte(a.ToolInput), &in); err != nil || strings.TrimSpace(in.Subject) == "" {
				continue
			}
			t := &derivedTask{
				ID:      fmt.Sprintf("%d", len(tasks)+1),
				Subject: in.Subject,
				Status:  "pending",
			}
			tasks = append(tasks, t)
			bySyntheticID[t.ID] = t
			if realID := strings.TrimSpace(a.ToolOutputSummary); realID != "" {
				byRealID[realID] = t
			}
		case "TaskUpdate":
			var in taskUpdateInput
			if err := json.Unmarshal([]byte(a.ToolInput), &in); err != nil {
				continue
			}
			target := resolveTaskTarget(in.TaskID, byRealID, bySyntheticID, tasks)
			if target == nil {
				continue
			}
			if in.Status != "" {
				target.Status = in.Status
			}
			// Dependencies are kept symmetric: blocked-by on the target is
			// also recorded as blocks on the blocker, so the summary can
			// render from Blocks alone.
			for _, blocker := range resolveTaskList(in.AddBlockedBy, byRealID, bySyntheticID) {
				target.BlockedBy = append(target.BlockedBy, blocker.ID)
				blocker.Blocks = append(blocker.Blocks, target.ID)
			}
			for _, blocked := range resolveTaskList(in.AddBlocks, byRealID, bySyntheticID) {
				target.Blocks = append(target.Blocks, blocked.ID)
				blocked.BlockedBy = append(blocked.BlockedBy, target.ID)
			}
		}
	}

	if len(tasks) == 0 {
		return "", false
	}
	return renderDerivedPlan(tasks), true
}

// resolveTaskTarget looks a TaskUpdate's target up by its real tool id
// first, then by treating the field as an already-synthetic id, falling
// back to the most recently created task when neither resolves -- the
// common case of a single in-flight task whose id format this package
// doesn't recognize.
func resolveTaskTarget(taskID string, byRealID, bySyntheticID map[string]*derivedTask, tasks []*derivedTask) *derivedTask {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		if len(tasks) > 0 {
			return tasks[len(tasks)-1]
		}
		return nil
	}
	if t, ok := byRealID[taskID]; ok {
		return t
	}
	if t, ok := bySyntheticID[taskID]; ok {
		return t
	}
	if len(tasks) > 0 {
		return tasks[len(tasks)-1]
	}
	return nil
}

// resolveTaskList maps a TaskUpdate dependency list (real or synthetic
// ids) to the tasks it names, dropping unresolvable entries.
func resolveTaskList(ids []string, byRealID, bySyntheticID map[string]*derivedTask) []*derivedTask {
	var out []*derivedTask
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if t, ok := byRealID[id]; ok {
			out = append(out, t)
			continue
		}
		if t, ok := bySyntheticID[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// renderDerivedPlan writes a short markdown plan: one line per task plus a
// dependency summary line for any task that blocks another.
func renderDerivedPlan(tasks []*derivedTask) string {
	var b strings.Builder
	b.WriteString("# Derived plan\n\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "- #%s [%s] %s\n", t.ID, t.Status, t.Subject)
	}

	var blockLines []string
	for _, t := range tasks {
		if len(t.Blocks) > 0 {
			ids := append([]string(nil), t.Blocks...)
			sort.Strings(ids)
			blockLines = append(blockLines, fmt.Sprintf("#%s blocks: %s", t.ID, strings.Join(ids, ", ")))
		}
	}
	if len(blockLines) > 0 {
		b.WriteString("\nDependencies:\n")
		for _, line := range blockLines {
			b.WriteString("- " + line + "\n")
		}
	}
	return b.String()
}

// indexBatchPlan embeds a batch's plan content (human-authored or derived)
// into the vector store's memory collection and flips plan_embedded. A
// batch with no plan content is a no-op, not an error.
func (p *Processor) indexBatchPlan(ctx context.Context, batch activitystore.PromptBatch) error {
	content := strings.TrimSpace(batch.PlanContent)
	if content == "" || batch.PlanEmbedded {
		return nil
	}

	vec, err := p.embedText(ctx, content)
	if err != nil {
		return fmt.Errorf("embed plan: %w", err)
	}

	planID := fmt.Sprintf("plan:%d", batch.ID)
	if err := p.vstore.AddMemory(vectorstore.MemoryItemInput{
		ID:         planID,
		MemoryType: MemoryTypePlan,
		Document:   content,
		Tags:       []string{"plan", fmt.Sprintf("batch:%d", batch.ID)},
		Importance: 5,
		SessionID:  batch.SessionID,
		Status:     "active",
		Embedding:  vec,
	}); err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}

	return p.store.SetBatchPlanEmbedded(batch.ID, true)
}

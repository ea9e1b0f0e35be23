package processor

import (
	"context"
	"fmt"

	"github.com/oak-dev/cid/internal/activitystore"
)

// Relevance thresholds for auto-superseding an older observation in favor
// of a newly extracted one. A looser threshold applies when both
// observations share a context (the same file/area), since overlap there
// is more likely a genuine update rather than a coincidental topic match; a
// stricter threshold applies cross-context to avoid superseding unrelated
// facts that merely use similar wording.
const (
	autoResolveThresholdSameContext  = 0.80
	autoResolveThresholdCrossContext = 0.90
)

// autoResolveSuperseded looks for older active observations of the same
// memory_type that the newly stored observation renders stale, and
// supersedes them. It is best-effort: a failure to search or embed is
// returned to the caller to log, never panics, and never supersedes the
// observation being processed itself.
func (p *Processor) autoResolveSuperseded(ctx context.Context, s storedObservation, limit int) error {
	if _, skip := autoResolveSkipTypes[s.MemoryType]; skip {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}

	obs, err := p.store.GetObservation(s.ID)
	if err != nil {
		return fmt.Errorf("load new observation: %w", err)
	}
	if obs == nil || obs.Status != "active" {
		return nil
	}

	vec, err := p.embedText(ctx, obs.Observation)
	if err != nil {
		return fmt.Errorf("embed new observation: %w", err)
	}

	candidates, err := p.vstore.SearchMemory(vec, limit, false)
	if err != nil {
		return fmt.Errorf("search candidates: %w", err)
	}

	for _, c := range candidates {
		if c.ID == s.ID || c.MemoryType != s.MemoryType {
			continue
		}
		candidate, err := p.store.GetObservation(c.ID)
		if err != nil || candidate == nil || candidate.Status != "active" {
			continue
		}
		// Context overlap is string equality on the context field: a shared
		// file path makes a near-duplicate far more likely to be a genuine
		// update, so the looser threshold applies.
		threshold := autoResolveThresholdCrossContext
		if obs.Context != "" && candidate.Context == obs.Context {
			threshold = autoResolveThresholdSameContext
		}
		if c.Relevance < threshold {
			continue
		}
		if err := p.supersede(c.ID, s.ID, s.SessionID, "superseded by a newer observation on the same topic"); err != nil {
			return fmt.Errorf("supersede %s: %w", c.ID, err)
		}
	}
	return nil
}

// supersede records a resolution event and drives the relational and
// vector status transitions, deduping on content hash so a backup replay
// of the same event never double-applies it.
func (p *Processor) supersede(oldID, newID, resolvedBySessionID, reason string) error {
	hash := activitystore.ResolutionContentHash("superseded", oldID, newID)
	ev, inserted, err := p.store.RecordResolutionEvent(oldID, "superseded", resolvedBySessionID, newID, reason, hash)
	if err != nil {
		return err
	}
	if !inserted && ev.Applied {
		return nil
	}

	changed, err := p.store.UpdateObservationStatus(oldID, "superseded", resolvedBySessionID, newID)
	if err != nil {
		return err
	}
	if changed {
		if err := p.vstore.UpdateMemoryStatus(oldID, "superseded"); err != nil {
			p.logger.Warn("processor: failed to sync superseded status to vector store", "observation_id", oldID, "error", err)
		}
	}
	return p.store.MarkResolutionEventApplied(ev.ID)
}

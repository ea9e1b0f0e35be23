package processor

import (
	"fmt"
	"time"

	"github.com/oak-dev/cid/internal/activitystore"
)

// replayResolutionEvents applies unapplied resolution events to their
// target observations in created_at order, converging this machine's
// observation statuses with transitions recorded elsewhere (typically
// imported via a backup restore). Replay never creates new resolution
// events; it only consumes existing ones.
func (p *Processor) replayResolutionEvents(limit int) error {
	events, err := p.store.ListUnappliedResolutionEvents(limit)
	if err != nil {
		return fmt.Errorf("list unapplied resolution events: %w", err)
	}

	for _, ev := range events {
		if err := p.replayOne(ev); err != nil {
			p.logger.Warn("processor: resolution event replay skipped", "event_id", ev.ID, "observation_id", ev.ObservationID, "error", err)
		}
	}
	return nil
}

// replayOne drives one event's transition. A missing target observation is
// deferred (left unapplied) since its row may arrive in a later import; a
// target already resolved at or after the event's timestamp wins
// (last-writer-wins) and the event is marked applied without a write.
func (p *Processor) replayOne(ev activitystore.ResolutionEvent) error {
	obs, err := p.store.GetObservation(ev.ObservationID)
	if err != nil {
		return fmt.Errorf("load target: %w", err)
	}
	if obs == nil {
		return nil // defer: target not imported yet
	}

	if obs.ResolvedAt.Valid && !timestampBefore(obs.ResolvedAt.String, ev.CreatedAt) {
		return p.store.MarkResolutionEventApplied(ev.ID)
	}

	var status string
	switch ev.Action {
	case "reactivated":
		status = "active"
	case "resolved", "superseded":
		status = ev.Action
	default:
		// Unknown action: mark applied so a malformed import can't wedge
		// the replay queue.
		return p.store.MarkResolutionEventApplied(ev.ID)
	}

	changed, err := p.store.UpdateObservationStatus(ev.ObservationID, status, ev.ResolvedBySessionID, ev.SupersededBy)
	if err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}
	if changed && obs.Embedded {
		if err := p.vstore.UpdateMemoryStatus(ev.ObservationID, status); err != nil {
			p.logger.Warn("processor: failed to sync replayed status to vector store", "observation_id", ev.ObservationID, "error", err)
		}
	}
	return p.store.MarkResolutionEventApplied(ev.ID)
}

// timestampBefore compares two RFC3339 timestamps, falling back to string
// comparison when either fails to parse (both orderings agree for
// well-formed UTC stamps).
func timestampBefore(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	if errA != nil || errB != nil {
		return a < b
	}
	return ta.Before(tb)
}

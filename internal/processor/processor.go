package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oak-dev/cid/internal/activitystore"
	"github.com/oak-dev/cid/internal/config"
	"github.com/oak-dev/cid/internal/embedding"
	"github.com/oak-dev/cid/internal/llmclient"
	"github.com/oak-dev/cid/internal/vectorstore"
)

// embedderIface is the subset of embedding.Chain the processor depends on.
// Mirroring the indexer package's own small embedder interface keeps both
// call sites substitutable with a fake in tests.
type embedderIface interface {
	Embed(ctx context.Context, texts []string) (embedding.Result, error)
}

var _ embedderIface = (*embedding.Chain)(nil)

// Processor runs the background activity-processing cycle against one
// daemon's activity store, vector store, and embedding chain. It holds no
// per-request state; RunCycle re-reads its live config at the top of every
// pass so an HTTP-driven config edit takes effect on the next tick.
type Processor struct {
	store           *activitystore.Store
	vstore          *vectorstore.Store
	embedder        embedderIface
	cfg             LiveConfig
	llm             *llmClientManager
	logger          *slog.Logger
	sourceMachineID string
}

// New builds a Processor. logger defaults to slog.Default() if nil.
func New(store *activitystore.Store, vstore *vectorstore.Store, embedder embedderIface, cfg LiveConfig, logger *slog.Logger, sourceMachineID string) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:           store,
		vstore:          vstore,
		embedder:        embedder,
		cfg:             cfg,
		llm:             newLLMClientManager(logger),
		logger:          logger,
		sourceMachineID: sourceMachineID,
	}
}

// Run ticks RunCycle at the live-configured cycle interval until ctx is
// cancelled. A cycle error is logged and never stops the loop: a transient
// failure (LLM timeout, embedding provider hiccup) should not take down the
// daemon's background processing.
func (p *Processor) Run(ctx context.Context) {
	for {
		if err := p.RunCycle(ctx); err != nil {
			p.logger.Error("processor: cycle failed", "error", err)
		}

		interval := p.cfg.Get().CycleInterval.Duration
		if interval <= 0 {
			interval = 15 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// RunCycle performs one pass of the processing pipeline: replay pending
// resolution events, classify and extract newly completed prompt batches,
// index any plan content they carried, backfill observations the vector
// store missed, finalize completed sessions with a summary/title, and
// sweep stale active sessions. A failure in replay, backfill, finalization
// or the sweep is logged and does not abort the remaining stages; a failure
// to list unprocessed batches, or ctx cancellation during the batch loop,
// ends the cycle early with an error.
func (p *Processor) RunCycle(ctx context.Context) error {
	cfg := p.cfg.Get()

	if err := p.replayResolutionEvents(50); err != nil {
		p.logger.Warn("processor: resolution event replay failed", "error", err)
	}

	batches, err := p.store.ListUnprocessedBatches(cfg.BatchCap)
	if err != nil {
		return fmt.Errorf("processor: list unprocessed batches: %w", err)
	}

	client := p.llm.clientFor(cfg)
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.processBatch(ctx, client, batch, cfg)
	}

	if err := p.backfillUnembeddedObservations(ctx, 50); err != nil {
		p.logger.Warn("processor: observation backfill failed", "error", err)
	}
	if err := p.finalizeCompletedSessions(ctx, client, cfg); err != nil {
		p.logger.Warn("processor: session finalization failed", "error", err)
	}
	if err := p.sweepStaleSessions(cfg.StaleSessionTimeout.Duration); err != nil {
		p.logger.Warn("processor: stale session sweep failed", "error", err)
	}
	return nil
}

// processBatch runs one completed batch through classification, derived-
// plan synthesis, plan indexing, observation extraction, and auto-resolve,
// then marks it processed. A user/derived-plan batch below
// MinSessionActivities still gets classified and marked processed; it is
// simply too small for extraction to be worth an LLM call.
func (p *Processor) processBatch(ctx context.Context, client llmclient.Client, batch activitystore.PromptBatch, cfg config.ProcessorConfig) {
	defer func() {
		if err := p.store.MarkBatchProcessed(batch.ID); err != nil {
			p.logger.Warn("processor: failed to mark batch processed", "batch_id", batch.ID, "error", err)
		}
	}()

	switch batch.SourceType {
	case SourceAgentNotify, SourceSystem:
		return
	case SourcePlan:
		if err := p.indexBatchPlan(ctx, batch); err != nil {
			p.logger.Warn("processor: plan indexing failed", "batch_id", batch.ID, "error", err)
		}
		return
	}

	activities, err := p.store.ListActivitiesForBatch(batch.ID)
	if err != nil {
		p.logger.Warn("processor: failed to list batch activities", "batch_id", batch.ID, "error", err)
		return
	}

	if batch.SourceType != SourceDerivedPlan {
		if content, ok := synthesizeDerivedPlan(activities); ok {
			if err := p.store.SetBatchDerivedPlan(batch.ID, content); err != nil {
				p.logger.Warn("processor: failed to store derived plan", "batch_id", batch.ID, "error", err)
			} else {
				batch.SourceType = SourceDerivedPlan
				batch.PlanContent = content
				if err := p.indexBatchPlan(ctx, batch); err != nil {
					p.logger.Warn("processor: derived plan indexing failed", "batch_id", batch.ID, "error", err)
				}
			}
		}
	} else if err := p.indexBatchPlan(ctx, batch); err != nil {
		p.logger.Warn("processor: derived plan indexing failed", "batch_id", batch.ID, "error", err)
	}

	classification := classifySession(ctx, client, activities)
	if err := p.store.SetBatchClassification(batch.ID, classification); err != nil {
		p.logger.Warn("processor: failed to set batch classification", "batch_id", batch.ID, "error", err)
	}

	if len(activities) < cfg.MinSessionActivities {
		return
	}

	stored, err := p.extractBatchObservations(ctx, client, batch.SessionID, batch.ID, classification, activities)
	if err != nil {
		p.logger.Warn("processor: extraction failed", "batch_id", batch.ID, "error", err)
	}

	var ids []int64
	for _, a := range activities {
		ids = append(ids, a.ID)
	}
	if err := p.store.MarkActivitiesProcessed(ids); err != nil {
		p.logger.Warn("processor: failed to mark activities processed", "batch_id", batch.ID, "error", err)
	}

	for _, s := range stored {
		if err := p.autoResolveSuperseded(ctx, s, cfg.AutoResolveLimit); err != nil {
			p.logger.Warn("processor: auto-resolve failed", "observation_id", s.ID, "error", err)
		}
	}
}

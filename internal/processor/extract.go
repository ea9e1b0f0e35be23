package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oak-dev/cid/internal/activitystore"
	"github.com/oak-dev/cid/internal/llmclient"
	"github.com/oak-dev/cid/internal/vectorstore"
)

// extractedObservation is one element of the LLM's JSON array response.
type extractedObservation struct {
	Observation string `json:"observation"`
	Type        string `json:"type"`
	Importance  string `json:"importance"`
	Context     string `json:"context"`
}

var observationTypeMap = map[string]string{
	"gotcha":    obsGotcha,
	"bug_fix":   obsBugFix,
	"decision":  obsDecision,
	"discovery": obsDiscovery,
}

var importanceMap = map[string]int{
	"low":      3,
	"medium":   5,
	"high":     8,
	"critical": 10,
}

// parseExtractedObservations pulls the first JSON array out of the raw LLM
// response (tolerating leading/trailing prose or a ```json fence) and
// discards entries with empty observation text.
func parseExtractedObservations(raw string) []extractedObservation {
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start < 0 || end < 0 || end < start {
		return nil
	}
	var parsed []extractedObservation
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil
	}
	out := parsed[:0]
	for _, o := range parsed {
		if strings.TrimSpace(o.Observation) == "" {
			continue
		}
		out = append(out, o)
	}
	return out
}

// storedObservation is what extractBatchObservations reports per
// extracted item, feeding autoResolveSuperseded.
type storedObservation struct {
	ID         string
	MemoryType string
	Context    string
	SessionID  string
}

// extractBatchObservations runs the classification-selected extraction
// template through the LLM, dual-writes each parsed observation
// (relational first, vector second per §4.E step 4), and returns the
// stored ids for the auto-resolve pass.
func (p *Processor) extractBatchObservations(ctx context.Context, client llmclient.Client, sessionID string, batchID int64, classification string, activities []activitystore.Activity) ([]storedObservation, error) {
	if client == nil {
		return nil, nil
	}

	sum := summarizeActivities(activities)
	prompt := extractionTemplateFor(classification) + "\n\n" + buildClassificationPrompt(sum)

	result := llmclient.Call(ctx, client, prompt)
	if !result.Success {
		p.logger.Warn("processor: extraction llm call failed", "session_id", sessionID, "batch_id", batchID, "error", result.Error)
		return nil, nil
	}

	extracted := parseExtractedObservations(result.RawResponse)
	if len(extracted) == 0 {
		return nil, nil
	}

	var stored []storedObservation
	for _, item := range extracted {
		s, err := p.storeObservation(ctx, sessionID, batchID, classification, item)
		if err != nil {
			p.logger.Warn("processor: failed to store extracted observation", "session_id", sessionID, "error", err)
			continue
		}
		if s != nil {
			stored = append(stored, *s)
		}
	}
	return stored, nil
}

// storeObservation performs the dual-write: relational store first
// (source of truth, embedded=false), then vector store (marking embedded
// only on success). A relational failure aborts the item; a vector
// failure is logged and left for the next cycle's backfill.
func (p *Processor) storeObservation(ctx context.Context, sessionID string, batchID int64, classification string, item extractedObservation) (*storedObservation, error) {
	memoryType, ok := observationTypeMap[item.Type]
	if !ok {
		memoryType = obsDiscovery
	}
	importance, ok := importanceMap[strings.ToLower(item.Importance)]
	if !ok {
		importance = 5
	}

	tags := []string{"auto-extracted", fmt.Sprintf("importance:%s", strings.ToLower(item.Importance))}
	if classification != "" {
		tags = append(tags, fmt.Sprintf("session:%s", classification))
	}

	obs, err := p.store.CreateObservation(sessionID, nullInt64(batchID), item.Observation, memoryType, item.Context, tags, importance)
	if err != nil {
		return nil, fmt.Errorf("store observation: %w", err)
	}

	p.embedAndMarkObservation(ctx, obs.ID, memoryType, item.Observation, item.Context, tags, importance, sessionID)

	return &storedObservation{ID: obs.ID, MemoryType: memoryType, Context: item.Context, SessionID: sessionID}, nil
}

// embedAndMarkObservation embeds a single observation and upserts it into
// the vector store's memory collection, marking the relational row
// embedded only on success. Failures are logged and left for backfill.
func (p *Processor) embedAndMarkObservation(ctx context.Context, id, memoryType, text, memContext string, tags []string, importance int, sessionID string) {
	result, err := p.embedder.Embed(ctx, []string{text})
	if err != nil || len(result.Embeddings) == 0 {
		p.logger.Warn("processor: embedding failed for observation, will retry on backfill", "observation_id", id, "error", err)
		return
	}

	err = p.vstore.AddMemory(vectorstore.MemoryItemInput{
		ID:         id,
		MemoryType: memoryType,
		Document:   text,
		Tags:       tags,
		Importance: importance,
		SessionID:  sessionID,
		Status:     "active",
		Embedding:  result.Embeddings[0],
	})
	if err != nil {
		p.logger.Warn("processor: vector upsert failed for observation, will retry on backfill", "observation_id", id, "error", err)
		return
	}

	if err := p.store.SetObservationEmbedded(id, true); err != nil {
		p.logger.Warn("processor: failed to mark observation embedded", "observation_id", id, "error", err)
	}
}

// embedText is a small indirection so autoresolve.go and summary.go share
// one embed-one-string helper.
func (p *Processor) embedText(ctx context.Context, text string) ([]float32, error) {
	result, err := p.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("embedding: empty result")
	}
	return result.Embeddings[0], nil
}

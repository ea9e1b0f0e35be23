package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/oak-dev/cid/internal/tokenest"
	"github.com/oak-dev/cid/internal/vectorstore"
)

type searchRequest struct {
	Query               string  `json:"query"`
	Limit               int     `json:"limit"`
	SearchType          string  `json:"search_type"`
	ApplyDocTypeWeights bool    `json:"apply_doc_type_weights"`
	IncludeResolved     bool    `json:"include_resolved"`
	MinRelevance        float64 `json:"min_relevance"`
}

type codeResult struct {
	ID         string  `json:"id"`
	Relevance  float64 `json:"relevance"`
	Confidence string  `json:"confidence"`
	Filepath   string  `json:"filepath"`
	Language   string  `json:"language"`
	ChunkType  string  `json:"chunk_type"`
	Name       string  `json:"name,omitempty"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	DocType    string  `json:"doc_type"`
	Tokens     int     `json:"tokens"`
}

type memoryResult struct {
	ID          string   `json:"id"`
	Relevance   float64  `json:"relevance"`
	Confidence  string   `json:"confidence"`
	Observation string   `json:"observation"`
	MemoryType  string   `json:"memory_type"`
	Tags        []string `json:"tags"`
	Importance  int      `json:"importance"`
	Status      string   `json:"status"`
	SessionID   string   `json:"session_id,omitempty"`
	Tokens      int      `json:"tokens"`
}

type sessionResult struct {
	ID         string  `json:"id"`
	Relevance  float64 `json:"relevance"`
	Confidence string  `json:"confidence"`
	Title      string  `json:"title"`
	Summary    string  `json:"summary"`
	Tokens     int     `json:"tokens"`
}

type searchResponse struct {
	Query                string          `json:"query"`
	Code                 []codeResult    `json:"code"`
	Memory               []memoryResult  `json:"memory"`
	Plans                []memoryResult  `json:"plans"`
	Sessions             []sessionResult `json:"sessions"`
	TotalTokensAvailable int             `json:"total_tokens_available"`
}

// defaultMinRelevance filters noise hits when the request does not set its
// own threshold.
const defaultMinRelevance = 0.25

func confidenceFor(relevance float64) string {
	switch {
	case relevance >= 0.75:
		return "high"
	case relevance >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// docTypeWeights de-prioritizes non-source hits when the request opts in.
var docTypeWeights = map[string]float64{
	"code":   1.0,
	"test":   0.85,
	"docs":   0.75,
	"config": 0.7,
	"i18n":   0.6,
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	if req.Limit == 0 {
		req.Limit = 10
	}
	if req.Limit < 1 || req.Limit > 100 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}
	switch req.SearchType {
	case "", "all", "code", "memory", "plans", "sessions":
	default:
		writeError(w, http.StatusBadRequest, "search_type must be one of all, code, memory, plans, sessions")
		return
	}
	if req.SearchType == "" {
		req.SearchType = "all"
	}
	minRelevance := req.MinRelevance
	if minRelevance == 0 {
		minRelevance = defaultMinRelevance
	}

	vec, err := s.embedQuery(r, req.Query)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "embedding unavailable: "+err.Error()+"; ensure your local model server is running")
		return
	}

	resp := searchResponse{
		Query:    req.Query,
		Code:     []codeResult{},
		Memory:   []memoryResult{},
		Plans:    []memoryResult{},
		Sessions: []sessionResult{},
	}

	if req.SearchType == "all" || req.SearchType == "code" {
		hits, err := s.app.Vector.SearchCode(vec, req.Limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "code search failed")
			return
		}
		for _, h := range hits {
			rel := h.Relevance
			if req.ApplyDocTypeWeights {
				if weight, ok := docTypeWeights[h.DocType]; ok {
					rel *= weight
				}
			}
			if rel < minRelevance {
				continue
			}
			resp.Code = append(resp.Code, codeResult{
				ID: h.ID, Relevance: rel, Confidence: confidenceFor(rel),
				Filepath: h.Filepath, Language: h.Language, ChunkType: h.ChunkType,
				Name: h.Name, StartLine: h.StartLine, EndLine: h.EndLine,
				DocType: h.DocType, Tokens: h.TokenEstimate,
			})
			resp.TotalTokensAvailable += h.TokenEstimate
		}
	}

	if req.SearchType == "all" || req.SearchType == "memory" || req.SearchType == "plans" {
		hits, err := s.app.Vector.SearchMemory(vec, req.Limit*2, req.IncludeResolved)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "memory search failed")
			return
		}
		for _, h := range hits {
			if h.Relevance < minRelevance {
				continue
			}
			item := memoryHit(h)
			if h.MemoryType == "plan" {
				if req.SearchType == "all" || req.SearchType == "plans" {
					if len(resp.Plans) < req.Limit {
						resp.Plans = append(resp.Plans, item)
						resp.TotalTokensAvailable += item.Tokens
					}
				}
			} else if req.SearchType == "all" || req.SearchType == "memory" {
				if len(resp.Memory) < req.Limit {
					resp.Memory = append(resp.Memory, item)
					resp.TotalTokensAvailable += item.Tokens
				}
			}
		}
	}

	if req.SearchType == "all" || req.SearchType == "sessions" {
		hits, err := s.app.Vector.SearchSessionSummaries(vec, req.Limit, s.app.ProjectRoot)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "session search failed")
			return
		}
		for _, h := range hits {
			if h.Relevance < minRelevance {
				continue
			}
			tokens := tokenest.Estimate(h.Document)
			resp.Sessions = append(resp.Sessions, sessionResult{
				ID: h.SessionID, Relevance: h.Relevance, Confidence: confidenceFor(h.Relevance),
				Title: h.Title, Summary: h.Document, Tokens: tokens,
			})
			resp.TotalTokensAvailable += tokens
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func memoryHit(h vectorstore.MemorySearchResult) memoryResult {
	tags := h.Tags
	if tags == nil {
		tags = []string{}
	}
	return memoryResult{
		ID: h.ID, Relevance: h.Relevance, Confidence: confidenceFor(h.Relevance),
		Observation: h.Document, MemoryType: h.MemoryType, Tags: tags,
		Importance: h.Importance, Status: h.Status, SessionID: h.SessionID,
		Tokens: tokenest.Estimate(h.Document),
	}
}

// embedQuery embeds one query string through the provider chain.
func (s *Server) embedQuery(r *http.Request, query string) ([]float32, error) {
	result, err := s.app.Chain.Embed(r.Context(), []string{query})
	if err != nil {
		return nil, err
	}
	if len(result.Embeddings) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return result.Embeddings[0], nil
}

type contextRequest struct {
	Query       string `json:"query"`
	TokenBudget int    `json:"token_budget"`
}

// handleContext assembles a recall bundle for a query under a token
// budget: the highest-relevance observations first, then code chunks,
// stopping once the budget is spent.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	budget := req.TokenBudget
	if budget <= 0 {
		budget = s.app.Config.Get().Processor.ContextTokenBudget
	}
	if budget <= 0 {
		budget = 4000
	}

	vec, err := s.embedQuery(r, req.Query)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "embedding unavailable: "+err.Error())
		return
	}

	type contextItem struct {
		ID        string  `json:"id"`
		Kind      string  `json:"kind"`
		Content   string  `json:"content"`
		Tokens    int     `json:"tokens"`
		Relevance float64 `json:"relevance"`
	}
	var items []contextItem
	used := 0

	memories, err := s.app.Vector.SearchMemory(vec, 20, false)
	if err == nil {
		for _, h := range memories {
			tokens := tokenest.Estimate(h.Document)
			if used+tokens > budget {
				continue
			}
			items = append(items, contextItem{ID: h.ID, Kind: "memory", Content: h.Document, Tokens: tokens, Relevance: h.Relevance})
			used += tokens
		}
	}

	code, err := s.app.Vector.SearchCode(vec, 20)
	if err == nil {
		for _, h := range code {
			tokens := h.TokenEstimate
			if used+tokens > budget {
				continue
			}
			items = append(items, contextItem{ID: h.ID, Kind: "code", Content: h.Document, Tokens: tokens, Relevance: h.Relevance})
			used += tokens
		}
	}

	if items == nil {
		items = []contextItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":        req.Query,
		"token_budget": budget,
		"tokens_used":  used,
		"items":        items,
	})
}

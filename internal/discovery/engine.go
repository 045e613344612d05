// Package discovery implements the Discovery Engine (§4.5): a lexical
// reranker wrapped around the Semantic Index, with a listing
// fallback so `find` always succeeds.
package discovery

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"go.uber.org/zap"

	"ncpgateway/internal/config"
	"ncpgateway/internal/semantic"
)

// Candidate is one ranked find() result (§4.5 public contract).
type Candidate struct {
	DisplayName string          `json:"displayName"`
	Confidence  float64         `json:"confidence"`
	Rationale   string          `json:"rationale"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ToolSource supplies the full aggregated tool catalog the engine ranks
// over; the Orchestrator is the production implementation.
type ToolSource interface {
	AllTools() map[string]config.ToolDef
}

// HealthFilter narrows a set of display names down to those belonging to
// non-disabled servers.
type HealthFilter interface {
	FilterHealthyDisplayNames(names []string) []string
}

// Engine is the Discovery Engine.
type Engine struct {
	semanticIndex *semantic.Index
	source        ToolSource
	health        HealthFilter
	logger        *zap.Logger
	threshold     float32
}

// NewEngine constructs a Discovery Engine over the given Semantic Index.
func NewEngine(semanticIndex *semantic.Index, source ToolSource, health HealthFilter, logger *zap.Logger, threshold float32) *Engine {
	return &Engine{semanticIndex: semanticIndex, source: source, health: health, logger: logger, threshold: threshold}
}

// FindRelevantTools is the public contract from §4.5. An empty description
// lists all tools up to limit with confidence 1.0; a Semantic Index failure
// falls back to the same listing path so find() always succeeds.
func (e *Engine) FindRelevantTools(ctx context.Context, description string, limit int, detailed bool) []Candidate {
	if limit <= 0 {
		limit = 10
	}

	allTools := e.source.AllTools()

	if strings.TrimSpace(description) == "" {
		return e.filterHealthy(e.listAll(allTools, limit, detailed))
	}

	results, err := e.semanticIndex.Search(ctx, description, limit, e.threshold)
	if err != nil {
		e.logger.Warn("semantic search failed, falling back to listing", zap.Error(err))
		return e.filterHealthy(e.listAll(allTools, limit, detailed))
	}
	if len(results) == 0 {
		return nil
	}

	tokens := Tokenize(description)
	dominantAction, hasAction := DominantAction(tokens)

	type scored struct {
		tool  config.ToolDef
		score float64
	}
	scoredCandidates := make([]scored, 0, len(results))
	for _, r := range results {
		tool, ok := allTools[r.ToolID]
		if !ok {
			continue
		}
		score := float64(r.Similarity)
		score += lexicalScore(tokens, tool)
		score += literalNameOverlapBoost(tokens, tool.RawName)
		if hasAction {
			score += intentPenalty(dominantAction, tool.RawName)
		}
		scoredCandidates = append(scoredCandidates, scored{tool: tool, score: clip01(score)})
	}

	sort.Slice(scoredCandidates, func(i, j int) bool { return scoredCandidates[i].score > scoredCandidates[j].score })
	if len(scoredCandidates) > limit {
		scoredCandidates = scoredCandidates[:limit]
	}

	out := make([]Candidate, 0, len(scoredCandidates))
	for _, sc := range scoredCandidates {
		out = append(out, Candidate{
			DisplayName: sc.tool.DisplayName,
			Confidence:  sc.score,
			Rationale:   rationaleFor(sc.tool, dominantAction, hasAction),
			Schema:      schemaIfDetailed(sc.tool, detailed),
		})
	}
	return e.filterHealthy(out)
}

func (e *Engine) listAll(allTools map[string]config.ToolDef, limit int, detailed bool) []Candidate {
	names := make([]string, 0, len(allTools))
	for name := range allTools {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > limit {
		names = names[:limit]
	}

	out := make([]Candidate, 0, len(names))
	for _, name := range names {
		tool := allTools[name]
		out = append(out, Candidate{
			DisplayName: name,
			Confidence:  1.0,
			Rationale:   "listed (no query provided)",
			Schema:      schemaIfDetailed(tool, detailed),
		})
	}
	return out
}

func (e *Engine) filterHealthy(candidates []Candidate) []Candidate {
	if e.health == nil || len(candidates) == 0 {
		return candidates
	}
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.DisplayName
	}
	allowed := make(map[string]bool)
	for _, n := range e.health.FilterHealthyDisplayNames(names) {
		allowed[n] = true
	}

	out := candidates[:0]
	for _, c := range candidates {
		if allowed[c.DisplayName] {
			out = append(out, c)
		}
	}
	return out
}

func lexicalScore(tokens []Token, tool config.ToolDef) float64 {
	name := strings.ToLower(tool.RawName)
	desc := strings.ToLower(tool.Description)

	var total float64
	for _, t := range tokens {
		w := classWeights[t.Class]
		if strings.Contains(name, t.Text) {
			total += w.name
		}
		if strings.Contains(desc, t.Text) {
			total += w.desc
		}
	}
	// Lexical contribution is a modest rerank signal on top of semantic
	// similarity, not a second full-weight score.
	return total * 0.1
}

func rationaleFor(tool config.ToolDef, dominantAction string, hasAction bool) string {
	if hasAction {
		return "matches \"" + dominantAction + "\" on " + tool.DisplayName
	}
	return "semantically related to " + tool.DisplayName
}

func schemaIfDetailed(tool config.ToolDef, detailed bool) json.RawMessage {
	if !detailed {
		return nil
	}
	return tool.InputSchema
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

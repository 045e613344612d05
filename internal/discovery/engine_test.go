package discovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ncpgateway/internal/config"
	"ncpgateway/internal/semantic"
)

type fakeSource struct {
	tools map[string]config.ToolDef
}

func (f *fakeSource) AllTools() map[string]config.ToolDef { return f.tools }

type allowAllHealth struct{}

func (allowAllHealth) FilterHealthyDisplayNames(names []string) []string { return names }

type denyHealth struct{ denied map[string]bool }

func (d denyHealth) FilterHealthyDisplayNames(names []string) []string {
	var out []string
	for _, n := range names {
		if !d.denied[n] {
			out = append(out, n)
		}
	}
	return out
}

func buildEngine(t *testing.T, tools map[string]config.ToolDef, health HealthFilter) *Engine {
	t.Helper()
	idx := semantic.NewIndex(filepath.Join(t.TempDir(), "embeddings.json"), semantic.NewLocalEmbedder(zap.NewNop()), zap.NewNop())
	ctx := context.Background()
	for _, tool := range tools {
		require.NoError(t, idx.IndexTool(ctx, tool))
	}
	return NewEngine(idx, &fakeSource{tools: tools}, health, zap.NewNop(), config.BaseSimilarityThreshold)
}

func TestEmptyDescriptionListsAllWithFullConfidence(t *testing.T) {
	tools := map[string]config.ToolDef{
		"fs:read_file":  {RawName: "read_file", DisplayName: "fs:read_file", Description: "reads a file"},
		"fs:write_file": {RawName: "write_file", DisplayName: "fs:write_file", Description: "writes a file"},
	}
	engine := buildEngine(t, tools, allowAllHealth{})

	candidates := engine.FindRelevantTools(context.Background(), "", 10, false)
	require.Len(t, candidates, 2)
	for _, c := range candidates {
		assert.Equal(t, 1.0, c.Confidence)
	}
}

func TestFindRanksSemanticMatchHighest(t *testing.T) {
	tools := map[string]config.ToolDef{
		"fs:read_file":   {RawName: "read_file", DisplayName: "fs:read_file", Description: "reads file contents from local disk"},
		"mail:send_mail": {RawName: "send_mail", DisplayName: "mail:send_mail", Description: "sends an email message"},
	}
	engine := buildEngine(t, tools, allowAllHealth{})

	candidates := engine.FindRelevantTools(context.Background(), "read a file from disk", 5, false)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "fs:read_file", candidates[0].DisplayName)
}

func TestIntentPenaltyDemotesOppositeAction(t *testing.T) {
	tools := map[string]config.ToolDef{
		"fs:read_file":  {RawName: "read_file", DisplayName: "fs:read_file", Description: "reads a file from disk"},
		"fs:write_file": {RawName: "write_file", DisplayName: "fs:write_file", Description: "writes a file to disk"},
	}
	engine := buildEngine(t, tools, allowAllHealth{})

	candidates := engine.FindRelevantTools(context.Background(), "save a file to disk", 5, false)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "fs:write_file", candidates[0].DisplayName)
}

func TestDisabledServerExcludedFromResults(t *testing.T) {
	tools := map[string]config.ToolDef{
		"fs:read_file":  {RawName: "read_file", DisplayName: "fs:read_file", Description: "reads a file"},
		"svc:read_file": {RawName: "read_file", DisplayName: "svc:read_file", Description: "reads a file"},
	}
	engine := buildEngine(t, tools, denyHealth{denied: map[string]bool{"svc:read_file": true}})

	candidates := engine.FindRelevantTools(context.Background(), "", 10, false)
	for _, c := range candidates {
		assert.NotEqual(t, "svc:read_file", c.DisplayName)
	}
}

func TestDetailedIncludesSchema(t *testing.T) {
	tools := map[string]config.ToolDef{
		"fs:read_file": {RawName: "read_file", DisplayName: "fs:read_file", Description: "reads a file", InputSchema: []byte(`{"type":"object"}`)},
	}
	engine := buildEngine(t, tools, allowAllHealth{})

	candidates := engine.FindRelevantTools(context.Background(), "", 10, true)
	require.Len(t, candidates, 1)
	assert.NotEmpty(t, candidates[0].Schema)
}

func TestTokenizeDropsShortTokensAndClassifies(t *testing.T) {
	tokens := Tokenize("Save the big file to disk")
	var classes []TokenClass
	var texts []string
	for _, tok := range tokens {
		classes = append(classes, tok.Class)
		texts = append(texts, tok.Text)
	}
	assert.NotContains(t, texts, "to")
	assert.Contains(t, classes, ClassAction)
	assert.Contains(t, classes, ClassObject)
}

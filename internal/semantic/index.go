package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ncpgateway/internal/config"
)

// Document is one embedded tool, matching the §3 Embedding entity.
type Document struct {
	ToolID      string    `json:"-"`
	Vector      []float32 `json:"vector"`
	SourceText  string    `json:"sourceText"`
	Description string    `json:"description"`
}

type cacheMetadata struct {
	CreatedAt time.Time `json:"createdAt"`
	ConfigHash string   `json:"configHash"`
	Version   string    `json:"version"`
}

type cacheFile struct {
	Metadata   cacheMetadata        `json:"metadata"`
	Embeddings map[string]*Document `json:"embeddings"`
}

// Result is one semantic-search hit.
type Result struct {
	ToolID     string
	Similarity float32
}

// domainHints is the static keyword-expansion table from §4.4: candidates
// whose sourceText matches an expanded term receive an additive boost when
// the query mentions the domain keyword.
var domainHints = map[string][]string{
	"payment":    {"stripe", "checkout", "refund", "invoice", "charge", "billing"},
	"filesystem": {"read", "write", "directory", "path", "file", "folder"},
	"database":   {"query", "sql", "table", "row", "schema", "migrate"},
	"email":      {"smtp", "send", "inbox", "mailbox", "message"},
	"calendar":   {"event", "schedule", "meeting", "reminder"},
	"search":     {"query", "index", "lookup", "find"},
}

const domainHintBoost float32 = 0.05

// Index is the Semantic Index (§4.4): an Embedder plus a persistent,
// config-hash-validated cache, searched by cosine similarity.
type Index struct {
	embedder  Embedder
	logger    *zap.Logger
	cachePath string

	mu         sync.RWMutex
	documents  map[string]*Document
	metadata   cacheMetadata
}

// NewIndex constructs the Semantic Index, attempting to load an existing
// cache file from cachePath. A missing or invalid cache is not an error —
// the index simply starts empty and rebuilds as tools are indexed.
func NewIndex(cachePath string, embedder Embedder, logger *zap.Logger) *Index {
	idx := &Index{
		embedder:  embedder,
		logger:    logger,
		cachePath: cachePath,
		documents: map[string]*Document{},
	}
	_ = idx.load()
	return idx
}

// ValidateOrReset discards the cache if its configHash doesn't match
// currentConfigHash or it is older than config.EmbeddingCacheMaxAge
// (invariant 4), or if it was built by a different embedder.
func (idx *Index) ValidateOrReset(currentConfigHash string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	stale := idx.metadata.ConfigHash != "" && idx.metadata.ConfigHash != currentConfigHash
	expired := !idx.metadata.CreatedAt.IsZero() && time.Since(idx.metadata.CreatedAt) > config.EmbeddingCacheMaxAge
	wrongModel := idx.metadata.Version != "" && idx.metadata.Version != idx.embedder.Name()

	if stale || expired || wrongModel {
		idx.logger.Info("semantic cache invalidated, rebuilding",
			zap.Bool("configHashMismatch", stale), zap.Bool("expired", expired), zap.Bool("embedderChanged", wrongModel))
		idx.documents = map[string]*Document{}
		idx.metadata = cacheMetadata{}
	}
}

// IndexTool embeds and stores one tool under its display name.
func (idx *Index) IndexTool(ctx context.Context, tool config.ToolDef) error {
	sourceText := fmt.Sprintf("%s. %s", tool.RawName, tool.Description)
	vec, err := idx.embedder.Embed(ctx, sourceText)
	if err != nil {
		return fmt.Errorf("failed to embed %s: %w", tool.DisplayName, err)
	}

	idx.mu.Lock()
	idx.documents[tool.DisplayName] = &Document{
		ToolID:      tool.DisplayName,
		Vector:      vec,
		SourceText:  sourceText,
		Description: tool.Description,
	}
	idx.mu.Unlock()
	return nil
}

// BatchIndexTools indexes every tool, continuing past individual failures,
// then saves the cache (write-through, per the Embedding cache lifecycle).
func (idx *Index) BatchIndexTools(ctx context.Context, tools []config.ToolDef, configHash string) error {
	for _, t := range tools {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := idx.IndexTool(ctx, t); err != nil {
			idx.logger.Warn("failed to index tool for semantic search", zap.String("tool", t.DisplayName), zap.Error(err))
		}
	}
	return idx.save(configHash)
}

// Search returns up to 2*limit candidates above baseThreshold, sorted by
// descending similarity (with domain-hint boosts applied). An empty index
// returns an empty result rather than erroring or blocking (§4.4 step 3).
func (idx *Index) Search(ctx context.Context, query string, limit int, baseThreshold float32) ([]Result, error) {
	idx.mu.RLock()
	docs := make(map[string]*Document, len(idx.documents))
	for k, v := range idx.documents {
		docs[k] = v
	}
	idx.mu.RUnlock()

	if len(docs) == 0 {
		return nil, nil
	}

	queryVec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	boost := domainBoostFor(query)

	results := make([]Result, 0, len(docs))
	for id, doc := range docs {
		sim := CosineSimilarity(queryVec, doc.Vector)
		if boost.valid() && matchesExpandedTerms(doc.SourceText, boost.terms) {
			sim += domainHintBoost
		}
		if sim >= baseThreshold {
			results = append(results, Result{ToolID: id, Similarity: sim})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })

	want := 2 * limit
	if want <= 0 || want > len(results) {
		want = len(results)
	}
	return results[:want], nil
}

type domainBoost struct {
	terms []string
}

func (b domainBoost) valid() bool { return len(b.terms) > 0 }

var zeroBoost = domainBoost{}

func domainBoostFor(query string) domainBoost {
	lower := strings.ToLower(query)
	for keyword, terms := range domainHints {
		if strings.Contains(lower, keyword) {
			return domainBoost{terms: terms}
		}
	}
	return zeroBoost
}

func matchesExpandedTerms(sourceText string, terms []string) bool {
	lower := strings.ToLower(sourceText)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// DocumentCount reports how many tools currently have embeddings.
func (idx *Index) DocumentCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.documents)
}

// DeleteServerTools removes every document whose ToolID is prefixed
// "<serverName>:", used when a server is removed or disabled.
func (idx *Index) DeleteServerTools(serverName string) {
	prefix := serverName + ":"
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for id := range idx.documents {
		if strings.HasPrefix(id, prefix) {
			delete(idx.documents, id)
		}
	}
}

func (idx *Index) save(configHash string) error {
	idx.mu.Lock()
	idx.metadata = cacheMetadata{CreatedAt: time.Now(), ConfigHash: configHash, Version: idx.embedder.Name()}
	doc := cacheFile{Metadata: idx.metadata, Embeddings: make(map[string]*Document, len(idx.documents))}
	for k, v := range idx.documents {
		doc.Embeddings[k] = v
	}
	idx.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal embedding cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(idx.cachePath), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp := idx.cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write embedding cache: %w", err)
	}
	return os.Rename(tmp, idx.cachePath)
}

func (idx *Index) load() error {
	data, err := os.ReadFile(idx.cachePath)
	if err != nil {
		return err
	}
	var doc cacheFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.metadata = doc.Metadata
	idx.documents = make(map[string]*Document, len(doc.Embeddings))
	for id, d := range doc.Embeddings {
		d.ToolID = id
		idx.documents[id] = d
	}
	return nil
}

// Package index wraps github.com/blevesearch/bleve/v2 as a lexical (BM25)
// index of probed tools. The Orchestrator fills it; the Discovery Engine
// does not query it. The teacher's own
// internal/index/manager.go composes a BleveIndex the same way, but that
// wrapper file itself wasn't present in the retrieved pack; this one is
// authored fresh against bleve's documented v2 API (bleve.New/Open,
// Index.Index, NewSearchRequest, Search) rather than reconstructed from a
// file we never saw — see DESIGN.md.
package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"

	"ncpgateway/internal/config"
)

// toolDoc is the flattened document bleve indexes: just enough fields for a
// BM25 match over name + description, plus the server name so results can
// be filtered/grouped without a second lookup.
type toolDoc struct {
	DisplayName string `json:"displayName"`
	RawName     string `json:"rawName"`
	ServerName  string `json:"serverName"`
	Description string `json:"description"`
}

// Lexical is the BM25 lexical index over every known tool.
type Lexical struct {
	index  bleve.Index
	logger *zap.Logger
}

// NewLexical opens (or creates) a bleve index rooted at dataDir/bleve.
func NewLexical(dataDir string, logger *zap.Logger) (*Lexical, error) {
	path := filepath.Join(dataDir, "bleve")

	idx, err := bleve.Open(path)
	if err != nil {
		mapping := bleve.NewIndexMapping()
		idx, err = bleve.New(path, mapping)
		if err != nil {
			return nil, fmt.Errorf("failed to create bleve index: %w", err)
		}
	}

	return &Lexical{index: idx, logger: logger}, nil
}

// IndexTool upserts one tool's document.
func (l *Lexical) IndexTool(serverName string, t config.ToolDef) error {
	doc := toolDoc{
		DisplayName: t.DisplayName,
		RawName:     t.RawName,
		ServerName:  serverName,
		Description: t.Description,
	}
	return l.index.Index(t.DisplayName, doc)
}

// BatchIndex upserts every tool for a server in one batch operation.
func (l *Lexical) BatchIndex(serverName string, tools []config.ToolDef) error {
	batch := l.index.NewBatch()
	for _, t := range tools {
		doc := toolDoc{
			DisplayName: t.DisplayName,
			RawName:     t.RawName,
			ServerName:  serverName,
			Description: t.Description,
		}
		if err := batch.Index(t.DisplayName, doc); err != nil {
			return fmt.Errorf("failed to add %s to batch: %w", t.DisplayName, err)
		}
	}
	return l.index.Batch(batch)
}

// LexicalResult is one BM25 hit.
type LexicalResult struct {
	DisplayName string
	Score       float64
}

// Search runs a BM25 query string match over name and description.
func (l *Lexical) Search(query string, limit int) ([]LexicalResult, error) {
	if limit <= 0 {
		limit = 20
	}
	req := bleve.NewSearchRequest(bleve.NewQueryStringQuery(query))
	req.Size = limit

	res, err := l.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	out := make([]LexicalResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, LexicalResult{DisplayName: hit.ID, Score: hit.Score})
	}
	return out, nil
}

// DeleteServerTools removes every document belonging to serverName.
func (l *Lexical) DeleteServerTools(serverName string) error {
	req := bleve.NewSearchRequest(bleve.NewTermQuery(serverName))
	req.Fields = []string{"displayName"}
	req.Size = 10000

	res, err := l.index.Search(req)
	if err != nil {
		return fmt.Errorf("bleve search for deletion failed: %w", err)
	}
	for _, hit := range res.Hits {
		if err := l.index.Delete(hit.ID); err != nil {
			l.logger.Warn("failed to delete document from lexical index", zap.String("id", hit.ID), zap.Error(err))
		}
	}
	return nil
}

// DocumentCount reports the total number of indexed documents.
func (l *Lexical) DocumentCount() (uint64, error) {
	return l.index.DocCount()
}

// Close releases the underlying bleve index.
func (l *Lexical) Close() error {
	return l.index.Close()
}

// RemoveAll wipes the index directory, used to rebuild from scratch.
func RemoveAll(dataDir string) error {
	return os.RemoveAll(filepath.Join(dataDir, "bleve"))
}

// Package autoimport implements the Auto-Importer (§4.2): a one-shot,
// parallel, deduplicated import of downstream-server configs from
// whichever upstream client launched this process, grounded on the
// teacher's ConvertFromCursorFormat conversion for Cursor's own
// mcp.json shape.
package autoimport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"ncpgateway/internal/config"
)

// Introspector detects whether this process was launched by a particular
// upstream client and, if so, extracts that client's own server catalog.
type Introspector interface {
	// Name identifies the upstream client this introspector recognizes,
	// for logging and the Result's per-source breakdown.
	Name() string
	// Detect returns the client's server catalog. ok is false when the
	// client's config file is absent or this process wasn't launched by
	// it; err is reserved for unexpected failures (a malformed config
	// file is not an error — it is reported as ok=false).
	Detect(ctx context.Context) (servers map[string]config.ServerConfig, ok bool, err error)
}

// Result summarizes one import run.
type Result struct {
	Imported []string         // server names newly added to the profile
	Skipped  []string         // names already present, denylisted, or rejected by the store
	Errors   map[string]error // introspector name -> failure
}

// Importer runs every registered Introspector concurrently and merges
// whatever each one finds into a profile.
type Importer struct {
	introspectors []Introspector
	denylist      []string
	logger        *zap.Logger
}

// New builds an Importer. denylist entries are matched as substrings
// (case-insensitive) against candidate server names, per the "skip the
// gateway itself" convention from §4.2.
func New(introspectors []Introspector, denylist []string, logger *zap.Logger) *Importer {
	return &Importer{introspectors: introspectors, denylist: denylist, logger: logger.Named("autoimport")}
}

// Run imports any newly discovered servers into profileName via store.
// Individual introspector failures do not abort the batch. The whole call
// is bounded by the caller's context (the Orchestrator passes one scoped
// to config.AutoImportTimeout); on timeout it returns whatever was
// collected before the deadline.
func (im *Importer) Run(ctx context.Context, store *config.Store, profileName string) Result {
	type found struct {
		source  string
		servers map[string]config.ServerConfig
	}

	var (
		mu      sync.Mutex
		results []found
		errs    = map[string]error{}
		wg      sync.WaitGroup
	)

	for _, ins := range im.introspectors {
		ins := ins
		wg.Add(1)
		go func() {
			defer wg.Done()
			servers, ok, err := ins.Detect(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[ins.Name()] = err
				return
			}
			if !ok || len(servers) == 0 {
				return
			}
			results = append(results, found{source: ins.Name(), servers: servers})
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		im.logger.Warn("auto-import timed out, continuing with partial results")
	}

	profile := store.GetProfile(profileName)

	var imported, skipped []string
	seen := map[string]bool{}
	for _, f := range results {
		for name, cfg := range f.servers {
			if seen[name] {
				continue
			}
			seen[name] = true

			if _, exists := profile.Servers[name]; exists {
				skipped = append(skipped, name)
				continue
			}
			if im.denylisted(name) {
				skipped = append(skipped, name)
				continue
			}

			result, err := store.AddServer(profileName, name, cfg)
			if err != nil || result != config.AddServerOK {
				im.logger.Warn("auto-import: failed to add server",
					zap.String("server", name), zap.String("source", f.source), zap.Error(err))
				skipped = append(skipped, name)
				continue
			}
			imported = append(imported, name)
		}
	}

	return Result{Imported: imported, Skipped: skipped, Errors: errs}
}

func (im *Importer) denylisted(name string) bool {
	lower := strings.ToLower(name)
	for _, d := range im.denylist {
		if strings.Contains(lower, strings.ToLower(d)) {
			return true
		}
	}
	return false
}

// cursorDoc mirrors Cursor's own mcp.json shape: a flat map of server name
// to a loosely-typed recipe that is either a subprocess launch or a
// remote URL, never the gateway's own discriminated envelope.
type cursorDoc struct {
	McpServers map[string]cursorServerEntry `json:"mcpServers"`
}

type cursorServerEntry struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
}

// CursorIntrospector reads Cursor's mcp.json (global or project-scoped)
// and converts each entry into a gateway ServerConfig.
type CursorIntrospector struct {
	ConfigPath string
}

func (c *CursorIntrospector) Name() string { return "cursor" }

func (c *CursorIntrospector) Detect(ctx context.Context) (map[string]config.ServerConfig, bool, error) {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("autoimport: read cursor config: %w", err)
	}

	var doc cursorDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, nil
	}

	out := make(map[string]config.ServerConfig, len(doc.McpServers))
	for name, entry := range doc.McpServers {
		out[name] = convertFromCursorFormat(entry)
	}
	return out, len(out) > 0, nil
}

// convertFromCursorFormat turns one Cursor mcp.json entry into a
// ServerConfig, preferring the remote interpretation whenever a URL is
// present (Cursor entries never set both).
func convertFromCursorFormat(entry cursorServerEntry) config.ServerConfig {
	if entry.URL != "" {
		transport := config.TransportHTTP
		if strings.Contains(entry.URL, "/sse") {
			transport = config.TransportSSE
		}
		return &config.RemoteConfig{URL: entry.URL, Transport: transport, Auth: config.NoAuth{}}
	}
	return &config.SubprocessConfig{Command: entry.Command, Args: entry.Args, Env: entry.Env}
}

// ClaudeDesktopIntrospector reads Claude Desktop's claude_desktop_config.json,
// which shares Cursor's flat mcpServers shape.
type ClaudeDesktopIntrospector struct {
	ConfigPath string
}

func (c *ClaudeDesktopIntrospector) Name() string { return "claude-desktop" }

func (c *ClaudeDesktopIntrospector) Detect(ctx context.Context) (map[string]config.ServerConfig, bool, error) {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("autoimport: read claude desktop config: %w", err)
	}

	var doc cursorDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, nil
	}

	out := make(map[string]config.ServerConfig, len(doc.McpServers))
	for name, entry := range doc.McpServers {
		out[name] = convertFromCursorFormat(entry)
	}
	return out, len(out) > 0, nil
}

// DefaultIntrospectors returns the introspector set for every upstream
// client this gateway knows how to read a catalog from, rooted at the
// user's home directory.
func DefaultIntrospectors() []Introspector {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []Introspector{
		&CursorIntrospector{ConfigPath: filepath.Join(home, ".cursor", "mcp.json")},
		&ClaudeDesktopIntrospector{ConfigPath: filepath.Join(home, ".config", "Claude", "claude_desktop_config.json")},
	}
}

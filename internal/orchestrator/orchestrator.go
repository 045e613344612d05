// Package orchestrator implements the Orchestrator (§4.7): the component
// that owns the aggregated tool/resource/prompt catalog across every
// server in the active profile, drives background discovery so the first
// find() never blocks on a cold cache, and fronts find()/run() for the
// Gateway Protocol Surface.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	sdkmcp "github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ncpgateway/internal/autoimport"
	"ncpgateway/internal/config"
	"ncpgateway/internal/discovery"
	"ncpgateway/internal/gwerrors"
	"ncpgateway/internal/health"
	"ncpgateway/internal/index"
	"ncpgateway/internal/pool"
	"ncpgateway/internal/semantic"
)

// Lifecycle is the Orchestrator's own readiness state, independent of any
// individual server's health.
type Lifecycle string

const (
	LifecycleCold    Lifecycle = "cold"
	LifecycleWarming Lifecycle = "warming"
	LifecycleReady   Lifecycle = "ready"
)

// toolEntry pairs a ToolDef with the server that owns it.
type toolEntry struct {
	serverName string
	def        config.ToolDef
}

// Orchestrator coordinates discovery, connection pooling, and health
// tracking across every server in a profile.
type Orchestrator struct {
	paths       *config.Paths
	store       *config.Store
	profileName string
	logger      *zap.Logger

	pool     *pool.Pool
	health   *health.Tracker
	semantic *semantic.Index
	lexical  *index.Lexical
	engine   *discovery.Engine
	importer *autoimport.Importer

	mu        sync.RWMutex
	lifecycle Lifecycle
	tools     map[string]toolEntry // displayName -> entry
}

// New constructs an Orchestrator for the given profile. It does not start
// background indexing; call Start for that.
func New(paths *config.Paths, store *config.Store, profileName string, logger *zap.Logger) (*Orchestrator, error) {
	lexical, err := index.NewLexical(paths.CacheDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create lexical index: %w", err)
	}

	embedder := semantic.NewLocalEmbedder(logger)
	semanticIndex := semantic.NewIndex(paths.EmbeddingsCacheFile(), embedder, logger)
	healthTracker := health.NewTracker(paths.HealthFile(), logger)
	connPool := pool.New(paths, logger)
	importer := autoimport.New(autoimport.DefaultIntrospectors(), config.DefaultAutoImportDenylist, logger)

	o := &Orchestrator{
		paths:       paths,
		store:       store,
		profileName: profileName,
		logger:      logger,
		pool:        connPool,
		health:      healthTracker,
		semantic:    semanticIndex,
		lexical:     lexical,
		importer:    importer,
		lifecycle:   LifecycleCold,
		tools:       map[string]toolEntry{},
	}
	o.engine = discovery.NewEngine(semanticIndex, o, healthTracker, logger, config.BaseSimilarityThreshold)

	o.loadToolCache()
	return o, nil
}

// Lifecycle reports the Orchestrator's current readiness state.
func (o *Orchestrator) Lifecycle() Lifecycle {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lifecycle
}

// AllTools implements discovery.ToolSource.
func (o *Orchestrator) AllTools() map[string]config.ToolDef {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]config.ToolDef, len(o.tools))
	for name, e := range o.tools {
		out[name] = e.def
	}
	return out
}

// FilterHealthyDisplayNames implements discovery.HealthFilter by delegating
// to the Health Tracker, keyed by owning server name.
func (o *Orchestrator) FilterHealthyDisplayNames(names []string) []string {
	o.mu.RLock()
	owners := make(map[string]string, len(names))
	for _, n := range names {
		if e, ok := o.tools[n]; ok {
			owners[n] = e.serverName
		}
	}
	o.mu.RUnlock()

	out := make([]string, 0, len(names))
	for _, n := range names {
		server, ok := owners[n]
		if !ok || !o.health.IsDisabled(server) {
			out = append(out, n)
		}
	}
	return out
}

// Start probes every server in the active profile concurrently (bounded by
// config.BackgroundIndexConcurrency), populating the tool cache, the
// semantic and lexical indexes, and the health tracker. The first caller
// of find()/run() never blocks on this: cached results serve immediately
// and warm as probes complete.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	o.lifecycle = LifecycleWarming
	o.mu.Unlock()

	importCtx, importCancel := context.WithTimeout(ctx, config.AutoImportTimeout)
	result := o.importer.Run(importCtx, o.store, o.profileName)
	importCancel()
	if len(result.Imported) > 0 {
		o.logger.Info("auto-imported downstream servers", zap.Strings("servers", result.Imported))
	}

	profile := o.store.GetProfile(o.profileName)
	configHash := profile.ConfigHash()
	o.semantic.ValidateOrReset(configHash)

	names := make([]string, 0, len(profile.Servers))
	for name := range profile.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(config.BackgroundIndexConcurrency)

	for _, name := range names {
		name := name
		cfg := profile.Servers[name]
		group.Go(func() error {
			o.probeServer(gctx, name, cfg, configHash)
			return nil
		})
	}
	_ = group.Wait()

	o.saveToolCache(configHash)

	o.mu.Lock()
	o.lifecycle = LifecycleReady
	o.mu.Unlock()
}

// probeServer connects to one server, lists its tools, and indexes them.
// Failures mark the server unhealthy rather than aborting the whole sweep.
func (o *Orchestrator) probeServer(ctx context.Context, name string, cfg config.ServerConfig, configHash string) {
	probeCtx, cancel := context.WithTimeout(ctx, config.ProbeTimeout)
	defer cancel()

	conn, release, err := o.pool.Acquire(probeCtx, name, cfg)
	if err != nil {
		o.health.MarkUnhealthy(name, err.Error())
		o.logger.Warn("failed to connect during probe", zap.String("server", name), zap.Error(err))
		return
	}
	defer release()

	tools, err := conn.ListTools(probeCtx)
	if err != nil {
		o.health.MarkUnhealthy(name, err.Error())
		o.logger.Warn("failed to list tools during probe", zap.String("server", name), zap.Error(err))
		return
	}

	defs := make([]config.ToolDef, 0, len(tools))
	for _, t := range tools {
		schema, _ := json.Marshal(t.InputSchema)
		defs = append(defs, config.ToolDef{
			RawName:     t.Name,
			DisplayName: config.DisplayNameFor(name, t.Name),
			Description: t.Description,
			InputSchema: schema,
		})
	}

	o.registerTools(name, defs)

	if err := o.lexical.BatchIndex(name, defs); err != nil {
		o.logger.Warn("failed to lexically index server tools", zap.String("server", name), zap.Error(err))
	}
	if err := o.semantic.BatchIndexTools(ctx, defs, configHash); err != nil {
		o.logger.Warn("failed to semantically index server tools", zap.String("server", name), zap.Error(err))
	}

	o.health.MarkHealthy(name)
}

func (o *Orchestrator) registerTools(serverName string, defs []config.ToolDef) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for name, e := range o.tools {
		if e.serverName == serverName {
			delete(o.tools, name)
		}
	}
	for _, def := range defs {
		o.tools[def.DisplayName] = toolEntry{serverName: serverName, def: def}
	}
}

// Find implements the `find` synthetic tool.
func (o *Orchestrator) Find(ctx context.Context, description string, limit int, detailed bool) []discovery.Candidate {
	return o.engine.FindRelevantTools(ctx, description, limit, detailed)
}

// Run implements the `run` synthetic tool: routes to the owning server,
// executes the call, and feeds the outcome back into the Health Tracker.
// meta, when non-nil, is the upstream call's params._meta, forwarded to the
// downstream call under the same key so session correlation survives the
// hop (§4.8 "Transparency of _meta").
func (o *Orchestrator) Run(ctx context.Context, displayName string, args map[string]any, meta json.RawMessage) (config.ToolResult, error) {
	o.mu.RLock()
	entry, ok := o.tools[displayName]
	o.mu.RUnlock()
	if !ok {
		return config.ToolResult{}, gwerrors.New(gwerrors.RoutingNotFound, "unknown tool: "+displayName)
	}

	if o.health.IsDisabled(entry.serverName) {
		return config.ToolResult{}, gwerrors.New(gwerrors.RoutingDisabled, "server "+entry.serverName+" is disabled")
	}

	profile := o.store.GetProfile(o.profileName)
	cfg, ok := profile.Servers[entry.serverName]
	if !ok {
		return config.ToolResult{}, gwerrors.New(gwerrors.RoutingNotFound, "server config missing for "+entry.serverName)
	}

	if missing := missingRequiredParam(entry.def.InputSchema, args); missing != "" {
		return config.ToolResult{Success: false, Error: "missing required parameter: " + missing}, nil
	}

	if len(meta) > 0 {
		forwarded := make(map[string]any, len(args)+1)
		for k, v := range args {
			forwarded[k] = v
		}
		var metaValue any
		if err := json.Unmarshal(meta, &metaValue); err == nil {
			forwarded["_meta"] = metaValue
		}
		args = forwarded
	}

	execCtx, cancel := context.WithTimeout(ctx, config.ExecTimeout)
	defer cancel()

	conn, release, err := o.pool.Acquire(execCtx, entry.serverName, cfg)
	if err != nil {
		o.health.MarkUnhealthy(entry.serverName, err.Error())
		return config.ToolResult{}, gwerrors.Wrap(gwerrors.TransportConnect, "connecting to "+entry.serverName, err)
	}
	defer release()

	result, err := conn.CallTool(execCtx, entry.def.RawName, args)
	if err != nil {
		o.health.MarkUnhealthy(entry.serverName, err.Error())
		return config.ToolResult{}, gwerrors.Wrap(gwerrors.TransportExec, "calling "+displayName, err)
	}

	o.health.MarkHealthy(entry.serverName)
	return result, nil
}

// missingRequiredParam reports the first name listed in the tool's
// inputSchema.required[] that is absent from args, or "" if every required
// parameter is present. Mirrors the teacher's InputSchema["required"]
// reading in internal/mcptools/integration.go, but against encoding/json's
// generic map[string]any decoding rather than mcp-go's typed schema.
func missingRequiredParam(schema json.RawMessage, args map[string]any) string {
	if len(schema) == 0 {
		return ""
	}
	var parsed struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &parsed); err != nil {
		return ""
	}
	for _, name := range parsed.Required {
		if _, ok := args[name]; !ok {
			return name
		}
	}
	return ""
}

// serverSet is the subset of a profile's servers that are currently
// healthy enough to query for resources/prompts.
type serverSet map[string]config.ServerConfig

func (o *Orchestrator) activeServers() serverSet {
	profile := o.store.GetProfile(o.profileName)
	out := make(serverSet, len(profile.Servers))
	for name, cfg := range profile.Servers {
		if !o.health.IsDisabled(name) {
			out[name] = cfg
		}
	}
	return out
}

// GetAllResources aggregates resources advertised by every healthy server.
// It honors ctx's deadline as a soft limit (§5 "Responsiveness discipline"):
// on expiry it returns whatever has been collected so far rather than
// waiting for stragglers, so the Gateway's listing SLA holds even while
// some downstream servers are slow or unreachable.
func (o *Orchestrator) GetAllResources(ctx context.Context) []config.ResourceInfo {
	var (
		mu  sync.Mutex
		out []config.ResourceInfo
	)
	var wg sync.WaitGroup
	for name, cfg := range o.activeServers() {
		wg.Add(1)
		go func(name string, cfg config.ServerConfig) {
			defer wg.Done()
			conn, release, err := o.pool.Acquire(ctx, name, cfg)
			if err != nil {
				return
			}
			defer release()
			resources, err := conn.ListResources(ctx)
			if err != nil {
				return
			}
			mu.Lock()
			for _, r := range resources {
				out = append(out, config.ResourceInfo{URI: r.URI, Name: r.Name, MimeType: r.MIMEType, ServerName: name})
			}
			mu.Unlock()
		}(name, cfg)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	result := make([]config.ResourceInfo, len(out))
	copy(result, out)
	return result
}

// GetAllPrompts aggregates prompts advertised by every healthy server, with
// the same partial-on-deadline behavior as GetAllResources.
func (o *Orchestrator) GetAllPrompts(ctx context.Context) []config.PromptInfo {
	var (
		mu  sync.Mutex
		out []config.PromptInfo
	)
	var wg sync.WaitGroup
	for name, cfg := range o.activeServers() {
		wg.Add(1)
		go func(name string, cfg config.ServerConfig) {
			defer wg.Done()
			conn, release, err := o.pool.Acquire(ctx, name, cfg)
			if err != nil {
				return
			}
			defer release()
			prompts, err := conn.ListPrompts(ctx)
			if err != nil {
				return
			}
			mu.Lock()
			for _, p := range prompts {
				out = append(out, config.PromptInfo{Name: p.Name, Description: p.Description, ServerName: name})
			}
			mu.Unlock()
		}(name, cfg)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	result := make([]config.PromptInfo, len(out))
	copy(result, out)
	return result
}

// ReadResource routes a resource read to the named server and returns its
// contents flattened into text/blob strings, mirroring CallTool's content
// flattening.
func (o *Orchestrator) ReadResource(ctx context.Context, serverName, uri string) ([]config.ToolResultContentBlock, error) {
	profile := o.store.GetProfile(o.profileName)
	cfg, ok := profile.Servers[serverName]
	if !ok {
		return nil, gwerrors.New(gwerrors.RoutingNotFound, "unknown server: "+serverName)
	}
	if o.health.IsDisabled(serverName) {
		return nil, gwerrors.New(gwerrors.RoutingDisabled, "server "+serverName+" is disabled")
	}

	execCtx, cancel := context.WithTimeout(ctx, config.ExecTimeout)
	defer cancel()

	conn, release, err := o.pool.Acquire(execCtx, serverName, cfg)
	if err != nil {
		o.health.MarkUnhealthy(serverName, err.Error())
		return nil, gwerrors.Wrap(gwerrors.TransportConnect, "connecting to "+serverName, err)
	}
	defer release()

	contents, err := conn.ReadResource(execCtx, uri)
	if err != nil {
		o.health.MarkUnhealthy(serverName, err.Error())
		return nil, gwerrors.Wrap(gwerrors.TransportExec, "reading resource "+uri, err)
	}
	o.health.MarkHealthy(serverName)

	blocks := make([]config.ToolResultContentBlock, 0, len(contents))
	for _, c := range contents {
		switch rc := c.(type) {
		case sdkmcp.TextResourceContents:
			blocks = append(blocks, config.ToolResultContentBlock{Type: "text", Text: rc.Text})
		case sdkmcp.BlobResourceContents:
			blocks = append(blocks, config.ToolResultContentBlock{Type: "blob", Data: rc.Blob})
		}
	}
	return blocks, nil
}

// GetPrompt routes a prompt render to the named server, flattening its
// message content to plain text the same way CallTool flattens tool output.
func (o *Orchestrator) GetPrompt(ctx context.Context, serverName, promptName string, args map[string]string) (config.PromptRenderResult, error) {
	profile := o.store.GetProfile(o.profileName)
	cfg, ok := profile.Servers[serverName]
	if !ok {
		return config.PromptRenderResult{}, gwerrors.New(gwerrors.RoutingNotFound, "unknown server: "+serverName)
	}
	if o.health.IsDisabled(serverName) {
		return config.PromptRenderResult{}, gwerrors.New(gwerrors.RoutingDisabled, "server "+serverName+" is disabled")
	}

	execCtx, cancel := context.WithTimeout(ctx, config.ExecTimeout)
	defer cancel()

	conn, release, err := o.pool.Acquire(execCtx, serverName, cfg)
	if err != nil {
		o.health.MarkUnhealthy(serverName, err.Error())
		return config.PromptRenderResult{}, gwerrors.Wrap(gwerrors.TransportConnect, "connecting to "+serverName, err)
	}
	defer release()

	result, err := conn.GetPrompt(execCtx, promptName, args)
	if err != nil {
		o.health.MarkUnhealthy(serverName, err.Error())
		return config.PromptRenderResult{}, gwerrors.Wrap(gwerrors.TransportExec, "getting prompt "+promptName, err)
	}
	o.health.MarkHealthy(serverName)

	messages := make([]config.PromptMessage, 0, len(result.Messages))
	for _, m := range result.Messages {
		if tc, ok := m.Content.(sdkmcp.TextContent); ok {
			messages = append(messages, config.PromptMessage{Role: string(m.Role), Text: tc.Text})
		}
	}
	return config.PromptRenderResult{Description: result.Description, Messages: messages}, nil
}

// Cleanup releases every resource the Orchestrator owns.
func (o *Orchestrator) Cleanup() {
	o.pool.Shutdown()
	_ = o.lexical.Close()
}

// --- tool cache persistence (cache/<profile>.tools.json) ---

type toolCacheDoc struct {
	ConfigHash string                      `json:"configHash"`
	SavedAt    time.Time                   `json:"savedAt"`
	Catalogs   map[string][]config.ToolDef `json:"catalogs"`
}

func (o *Orchestrator) saveToolCache(configHash string) {
	o.mu.RLock()
	catalogs := map[string][]config.ToolDef{}
	for _, e := range o.tools {
		catalogs[e.serverName] = append(catalogs[e.serverName], e.def)
	}
	o.mu.RUnlock()

	doc := toolCacheDoc{ConfigHash: configHash, SavedAt: time.Now(), Catalogs: catalogs}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		o.logger.Warn("failed to marshal tool cache", zap.Error(err))
		return
	}

	path := o.paths.ToolCacheFile(o.profileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		o.logger.Warn("failed to write tool cache", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		o.logger.Warn("failed to rename tool cache", zap.Error(err))
	}
}

// loadToolCache seeds the Orchestrator's in-memory catalog from disk so
// find()/run() have something to serve before the first background sweep
// completes. A config-hash mismatch is tolerated here: Start will
// overwrite stale entries as probes complete.
func (o *Orchestrator) loadToolCache() {
	data, err := os.ReadFile(o.paths.ToolCacheFile(o.profileName))
	if err != nil {
		return
	}
	var doc toolCacheDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		o.logger.Warn("failed to parse tool cache, starting cold", zap.Error(err))
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for serverName, defs := range doc.Catalogs {
		for _, def := range defs {
			o.tools[def.DisplayName] = toolEntry{serverName: serverName, def: def}
		}
	}
}

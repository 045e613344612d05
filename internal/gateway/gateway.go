package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ncpgateway/internal/config"
	"ncpgateway/internal/discovery"
	"ncpgateway/internal/gwerrors"
)

const (
	gatewayName    = "ncp-gateway"
	gatewayVersion = "0.1.0"
	protocolVersion = "2024-11-05"

	// maxConcurrentRequests bounds how many upstream requests this gateway
	// dispatches at once (§5 "worker pool" scheduling), independent of the
	// Connection Pool's own MaxConnections bound.
	maxConcurrentRequests = 32

	maxLineSize = 16 * 1024 * 1024
)

// Router is everything the Gateway needs from the Orchestrator. Kept as a
// narrow consumer interface, in the style of discovery.ToolSource/
// HealthFilter, so the dispatcher can be tested without a live connection
// pool.
type Router interface {
	AllTools() map[string]config.ToolDef
	Find(ctx context.Context, description string, limit int, detailed bool) []discovery.Candidate
	Run(ctx context.Context, displayName string, args map[string]any, meta json.RawMessage) (config.ToolResult, error)
	GetAllResources(ctx context.Context) []config.ResourceInfo
	GetAllPrompts(ctx context.Context) []config.PromptInfo
	ReadResource(ctx context.Context, serverName, uri string) ([]config.ToolResultContentBlock, error)
	GetPrompt(ctx context.Context, serverName, promptName string, args map[string]string) (config.PromptRenderResult, error)
}

// Gateway is the Gateway Protocol Surface (§4.8): a line-delimited
// JSON-RPC dispatcher that fronts a Router with a fixed two-tool catalog.
type Gateway struct {
	router Router
	logger *zap.Logger

	out     io.Writer
	writeMu sync.Mutex

	sem chan struct{}
	wg  sync.WaitGroup
}

// New builds a Gateway over the given Router, writing responses to out.
func New(router Router, logger *zap.Logger, out io.Writer) *Gateway {
	return &Gateway{
		router: router,
		logger: logger.Named("gateway"),
		out:    out,
		sem:    make(chan struct{}, maxConcurrentRequests),
	}
}

// Serve reads line-delimited JSON-RPC requests from in until it hits EOF or
// ctx is canceled, dispatching each on its own goroutine so one slow
// downstream call never blocks the next request's framing or a concurrent
// fast one (§5 "nothing blocks the request loop"). It returns once every
// in-flight handler has finished.
func (g *Gateway) Serve(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			g.wg.Wait()
			return ctx.Err()
		case g.sem <- struct{}{}:
		}

		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			defer func() { <-g.sem }()
			g.handleLine(ctx, line)
		}()
	}

	g.wg.Wait()
	return scanner.Err()
}

// Wait blocks until every dispatched handler has returned. Used by shutdown
// to let in-flight requests drain before the process exits.
func (g *Gateway) Wait() { g.wg.Wait() }

func (g *Gateway) handleLine(ctx context.Context, line []byte) {
	requestID := uuid.NewString()
	logger := g.logger.With(zap.String("request_id", requestID))

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		logger.Debug("malformed JSON-RPC request", zap.Error(err))
		g.writeErrorResponse(nil, newRPCError(gwerrors.ProtocolFraming.JSONRPCCode(), "malformed JSON-RPC request"))
		return
	}
	if req.JSONRPC != jsonrpcVersion {
		logger.Debug("invalid jsonrpc version", zap.String("method", req.Method))
		g.writeErrorResponse(req.ID, newRPCError(gwerrors.ProtocolFraming.JSONRPCCode(), "invalid or missing jsonrpc version"))
		return
	}

	notification := req.ID == nil
	logger.Debug("dispatching request", zap.String("method", req.Method), zap.Bool("notification", notification))

	result, rpcErr := g.dispatch(ctx, req)
	if notification {
		return
	}
	if rpcErr != nil {
		g.writeErrorResponse(req.ID, rpcErr)
		return
	}
	g.writeResult(req.ID, result)
}

func (g *Gateway) dispatch(ctx context.Context, req Request) (any, *RPCError) {
	switch req.Method {
	case "initialize":
		return g.handleInitialize(ctx)
	case "notifications/initialized":
		return nil, nil
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return g.handleToolsList(ctx)
	case "tools/call":
		return g.handleToolsCall(ctx, req.Params)
	case "resources/list":
		return g.handleResourcesList(ctx)
	case "resources/read":
		return g.handleResourcesRead(ctx, req.Params)
	case "prompts/list":
		return g.handlePromptsList(ctx)
	case "prompts/get":
		return g.handlePromptsGet(ctx, req.Params)
	default:
		return nil, newRPCError(gwerrors.ProtocolMethod.JSONRPCCode(), "method not found: "+req.Method)
	}
}

// handleInitialize never awaits anything beyond local data, so it trivially
// honors the 100ms SLA regardless of whether background indexing is
// mid-flight.
func (g *Gateway) handleInitialize(ctx context.Context) (any, *RPCError) {
	_, cancel := context.WithTimeout(ctx, config.InitializeSLA)
	defer cancel()
	return InitializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      ServerInfo{Name: gatewayName, Version: gatewayVersion},
		Capabilities:    Capabilities{},
	}, nil
}

// handleToolsList returns the fixed two-tool catalog — never the downstream
// aggregated one — so upstream context usage stays O(1) regardless of
// fleet size.
func (g *Gateway) handleToolsList(ctx context.Context) (any, *RPCError) {
	_, cancel := context.WithTimeout(ctx, config.ListingSLA)
	defer cancel()
	return ListToolsResult{Tools: syntheticTools}, nil
}

func (g *Gateway) handleToolsCall(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var params CallToolParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, newRPCError(gwerrors.ProtocolParams.JSONRPCCode(), "invalid tools/call params")
	}

	switch params.Name {
	case "find":
		return g.callFind(ctx, params.Arguments)
	case "run":
		return g.callRun(ctx, params.Arguments, params.Meta)
	default:
		return nil, newRPCError(gwerrors.ProtocolMethod.JSONRPCCode(), "unknown tool: "+params.Name)
	}
}

type findArgs struct {
	Description         string  `json:"description"`
	Limit               int     `json:"limit"`
	Depth               int     `json:"depth"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
}

func (g *Gateway) callFind(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	args := findArgs{Limit: 10, Depth: 1}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return errorResult("invalid find arguments: " + err.Error()), nil
		}
	}
	if args.Limit <= 0 {
		args.Limit = 10
	}

	candidates := g.router.Find(ctx, args.Description, args.Limit, args.Depth >= 2)
	if args.ConfidenceThreshold > 0 {
		filtered := candidates[:0]
		for _, c := range candidates {
			if c.Confidence >= args.ConfidenceThreshold {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}

	var text string
	if len(candidates) == 0 {
		text = formatNoMatchGuidance(g.router.AllTools())
	} else {
		text = formatFindResult(candidates, args.Depth)
	}
	return CallToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}, nil
}

// formatNoMatchGuidance is the zero-result branch of find (§7 discovery.empty,
// §8 scenario 1): it always names the "Available tools" catalog, empty or
// not, and points at the add capability so a client with nothing connected
// yet knows what to do next, rather than dead-ending on a bare "not found."
func formatNoMatchGuidance(tools map[string]config.ToolDef) string {
	var b strings.Builder
	b.WriteString("No matching tools found.\n\nAvailable tools: ")
	if len(tools) == 0 {
		b.WriteString("none yet.")
	} else {
		names := make([]string, 0, len(tools))
		for name := range tools {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString(strings.Join(names, ", "))
	}
	b.WriteString("\n\nIf the tool you need isn't listed, add the downstream server " +
		"that provides it using the add capability, then try find again.")
	return b.String()
}

func formatFindResult(candidates []discovery.Candidate, depth int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d candidate(s):\n\n", len(candidates))
	for _, c := range candidates {
		fmt.Fprintf(&b, "- **%s** (confidence %.2f)", c.DisplayName, c.Confidence)
		if depth >= 1 && c.Rationale != "" {
			fmt.Fprintf(&b, " — %s", c.Rationale)
		}
		b.WriteString("\n")
		if depth >= 2 && len(c.Schema) > 0 {
			fmt.Fprintf(&b, "  schema: `%s`\n", string(c.Schema))
		}
	}
	return b.String()
}

type runArgs struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	DryRun     bool           `json:"dry_run"`
}

func (g *Gateway) callRun(ctx context.Context, raw json.RawMessage, meta json.RawMessage) (any, *RPCError) {
	var args runArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return errorResult("invalid run arguments: " + err.Error()), nil
		}
	}
	if strings.TrimSpace(args.Tool) == "" {
		return errorResult(`"tool" is required`), nil
	}

	serverName, rawName, ok := splitDisplayName(args.Tool)
	if !ok {
		return errorResult("invalid tool format, expected \"server:rawName\": " + args.Tool), nil
	}

	if args.DryRun {
		preview, _ := json.Marshal(args.Parameters)
		text := fmt.Sprintf("dry run: would call %q on server %q with parameters %s", rawName, serverName, preview)
		return CallToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}, nil
	}

	result, err := g.router.Run(ctx, args.Tool, args.Parameters, meta)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	blocks := make([]ContentBlock, 0, len(result.Content))
	for _, c := range result.Content {
		blocks = append(blocks, ContentBlock{Type: c.Type, Text: c.Text, Data: c.Data})
	}
	if result.Error != "" {
		blocks = append(blocks, ContentBlock{Type: "text", Text: result.Error})
	}
	return CallToolResult{Content: blocks, IsError: !result.Success}, nil
}

func errorResult(msg string) CallToolResult {
	return CallToolResult{IsError: true, Content: []ContentBlock{{Type: "text", Text: msg}}}
}

// splitDisplayName splits "server:rest" on the first colon. ok is false
// when there is no colon or either side is empty.
func splitDisplayName(s string) (server, rest string, ok bool) {
	idx := strings.IndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

func (g *Gateway) handleResourcesList(ctx context.Context) (any, *RPCError) {
	listCtx, cancel := context.WithTimeout(ctx, config.ListingSLA)
	defer cancel()

	downstream := g.router.GetAllResources(listCtx)
	entries := make([]ResourceEntry, 0, len(builtinResources)+len(downstream))
	entries = append(entries, builtinResources...)
	for _, r := range downstream {
		entries = append(entries, ResourceEntry{
			URI:      config.DisplayNameFor(r.ServerName, r.URI),
			Name:     r.Name,
			MimeType: r.MimeType,
		})
	}
	return ListResourcesResult{Resources: entries}, nil
}

func (g *Gateway) handleResourcesRead(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var params ReadResourceParams
	if err := json.Unmarshal(raw, &params); err != nil || params.URI == "" {
		return nil, newRPCError(gwerrors.ProtocolParams.JSONRPCCode(), `missing or invalid "uri"`)
	}

	if text, ok := builtinResourceContent[params.URI]; ok {
		return ReadResourceResult{Contents: []ContentBlock{{Type: "text", Text: text}}}, nil
	}

	serverName, resourceURI, ok := splitDisplayName(params.URI)
	if !ok {
		return nil, newRPCError(-32603, "Unknown resource: "+params.URI)
	}

	blocks, err := g.router.ReadResource(ctx, serverName, resourceURI)
	if err != nil {
		if gwerrors.Is(err, gwerrors.RoutingNotFound) {
			return nil, newRPCError(-32603, "Unknown resource: "+params.URI)
		}
		return nil, newRPCError(gwerrors.JSONRPCCode(err), err.Error())
	}

	out := make([]ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, ContentBlock{Type: b.Type, Text: b.Text, Data: b.Data})
	}
	return ReadResourceResult{Contents: out}, nil
}

func (g *Gateway) handlePromptsList(ctx context.Context) (any, *RPCError) {
	listCtx, cancel := context.WithTimeout(ctx, config.ListingSLA)
	defer cancel()

	downstream := g.router.GetAllPrompts(listCtx)
	entries := make([]PromptEntry, 0, len(builtinPrompts)+len(downstream))
	entries = append(entries, builtinPrompts...)
	for _, p := range downstream {
		entries = append(entries, PromptEntry{
			Name:        config.DisplayNameFor(p.ServerName, p.Name),
			Description: p.Description,
		})
	}
	return ListPromptsResult{Prompts: entries}, nil
}

func (g *Gateway) handlePromptsGet(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var params GetPromptParams
	if err := json.Unmarshal(raw, &params); err != nil || params.Name == "" {
		return nil, newRPCError(gwerrors.ProtocolParams.JSONRPCCode(), `missing or invalid "name"`)
	}

	if result, ok := builtinPromptContent[params.Name]; ok {
		return result, nil
	}

	serverName, promptName, ok := splitDisplayName(params.Name)
	if !ok {
		return nil, newRPCError(-32603, "Unknown prompt: "+params.Name)
	}

	result, err := g.router.GetPrompt(ctx, serverName, promptName, params.Arguments)
	if err != nil {
		if gwerrors.Is(err, gwerrors.RoutingNotFound) {
			return nil, newRPCError(-32603, "Unknown prompt: "+params.Name)
		}
		return nil, newRPCError(gwerrors.JSONRPCCode(err), err.Error())
	}

	messages := make([]PromptMessage, 0, len(result.Messages))
	for _, m := range result.Messages {
		messages = append(messages, PromptMessage{Role: m.Role, Content: ContentBlock{Type: "text", Text: m.Text}})
	}
	return GetPromptResult{Description: result.Description, Messages: messages}, nil
}

func (g *Gateway) writeResult(id any, result any) {
	g.writeLine(Response{JSONRPC: jsonrpcVersion, ID: id, Result: result})
}

func (g *Gateway) writeErrorResponse(id any, rpcErr *RPCError) {
	g.writeLine(Response{JSONRPC: jsonrpcVersion, ID: id, Error: rpcErr})
}

func (g *Gateway) writeLine(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		g.logger.Error("failed to marshal response", zap.Error(err))
		return
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	_, _ = g.out.Write(data)
	_, _ = g.out.Write([]byte("\n"))
}

// Package pool implements the Connection Pool (§4.6): a bounded,
// LRU-evicting set of live downstream MCP client connections, with
// per-connection execution-count recycling and idle sweeping. Grounded on
// the teacher's internal/upstream.Manager connection lifecycle (connect/
// disconnect bookkeeping, per-server timeouts, parallel health-driven
// reconnection) and on Jint8888-Pocket-Omega's internal/mcp.Client, which
// supplied the mcp-go client wiring the teacher's own client wrapper file
// was not present in the retrieval pack to ground directly.
package pool

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	sdkclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	sdkmcp "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2"

	"ncpgateway/internal/config"
	"ncpgateway/internal/tokencache"
)

// Conn wraps one live downstream connection. Safe for concurrent use.
type Conn struct {
	ServerName string

	mu        sync.Mutex
	inner     sdkclient.MCPClient
	lastUsed  time.Time
	execCount int
	inflight  int
}

func (c *Conn) acquire() {
	c.mu.Lock()
	c.inflight++
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

func (c *Conn) release() {
	c.mu.Lock()
	c.inflight--
	c.execCount++
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// Busy reports whether the connection has in-flight calls, making it
// ineligible for eviction or idle sweeping (§4.6 invariant).
func (c *Conn) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight > 0
}

// NeedsRecycling reports whether the connection has served enough calls
// that it should be closed and reconnected fresh.
func (c *Conn) NeedsRecycling(maxExecutions int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execCount >= maxExecutions
}

// IdleSince reports how long it has been since the connection last served
// a call.
func (c *Conn) IdleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUsed)
}

// ListTools returns the downstream server's tool catalog.
func (c *Conn) ListTools(ctx context.Context) ([]sdkmcp.Tool, error) {
	result, err := c.inner.ListTools(ctx, sdkmcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// ListResources returns the downstream server's resource catalog.
func (c *Conn) ListResources(ctx context.Context) ([]sdkmcp.Resource, error) {
	result, err := c.inner.ListResources(ctx, sdkmcp.ListResourcesRequest{})
	if err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ListPrompts returns the downstream server's prompt catalog.
func (c *Conn) ListPrompts(ctx context.Context) ([]sdkmcp.Prompt, error) {
	result, err := c.inner.ListPrompts(ctx, sdkmcp.ListPromptsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// ReadResource fetches one resource's contents from the downstream server.
func (c *Conn) ReadResource(ctx context.Context, uri string) ([]sdkmcp.ResourceContents, error) {
	req := sdkmcp.ReadResourceRequest{}
	req.Params.URI = uri
	result, err := c.inner.ReadResource(ctx, req)
	if err != nil {
		return nil, err
	}
	return result.Contents, nil
}

// GetPrompt fetches one rendered prompt from the downstream server.
func (c *Conn) GetPrompt(ctx context.Context, name string, args map[string]string) (*sdkmcp.GetPromptResult, error) {
	req := sdkmcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return c.inner.GetPrompt(ctx, req)
}

// CallTool invokes a tool on the downstream server and flattens its content
// blocks into the gateway's own ToolResult shape.
func (c *Conn) CallTool(ctx context.Context, toolName string, args map[string]any) (config.ToolResult, error) {
	req := sdkmcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	result, err := c.inner.CallTool(ctx, req)
	if err != nil {
		return config.ToolResult{}, err
	}

	blocks := make([]config.ToolResultContentBlock, 0, len(result.Content))
	for _, content := range result.Content {
		switch tc := content.(type) {
		case sdkmcp.TextContent:
			blocks = append(blocks, config.ToolResultContentBlock{Type: "text", Text: tc.Text})
		case sdkmcp.ImageContent:
			blocks = append(blocks, config.ToolResultContentBlock{Type: "image", Data: tc.Data})
		}
	}

	return config.ToolResult{Success: !result.IsError, Content: blocks}, nil
}

// Close terminates the underlying transport.
func (c *Conn) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

// dial establishes the transport connection and completes the MCP
// initialize handshake for one server config.
func dial(ctx context.Context, paths *config.Paths, serverName string, cfg config.ServerConfig) (*Conn, error) {
	var inner sdkclient.MCPClient
	var err error

	switch sc := cfg.(type) {
	case *config.SubprocessConfig:
		env := make([]string, 0, len(sc.Env))
		for k, v := range sc.Env {
			env = append(env, k+"="+v)
		}
		inner, err = sdkclient.NewStdioMCPClient(sc.Command, env, sc.Args...)
		if err != nil {
			return nil, fmt.Errorf("pool: start subprocess server %q: %w", serverName, err)
		}

	case *config.RemoteConfig:
		headers, herr := authHeaders(ctx, paths, serverName, sc.Auth)
		if herr != nil {
			return nil, fmt.Errorf("pool: resolve auth for %q: %w", serverName, herr)
		}
		switch sc.Transport {
		case config.TransportSSE:
			cli, cerr := sdkclient.NewSSEMCPClient(sc.URL, sdkclient.WithHeaders(headers))
			if cerr != nil {
				return nil, fmt.Errorf("pool: create sse client %q: %w", serverName, cerr)
			}
			if serr := cli.Start(ctx); serr != nil {
				return nil, fmt.Errorf("pool: start sse client %q: %w", serverName, serr)
			}
			inner = cli
		case config.TransportHTTP:
			cli, cerr := sdkclient.NewStreamableHttpClient(sc.URL, transport.WithHTTPHeaders(headers))
			if cerr != nil {
				return nil, fmt.Errorf("pool: create streamable http client %q: %w", serverName, cerr)
			}
			if serr := cli.Start(ctx); serr != nil {
				return nil, fmt.Errorf("pool: start streamable http client %q: %w", serverName, serr)
			}
			inner = cli
		default:
			return nil, fmt.Errorf("pool: unknown remote transport %q for %q", sc.Transport, serverName)
		}

	default:
		return nil, fmt.Errorf("pool: unknown server config type %T for %q", cfg, serverName)
	}

	initReq := sdkmcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = sdkmcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = sdkmcp.Implementation{Name: "ncp-gateway", Version: "0.1.0"}

	if _, err := inner.Initialize(ctx, initReq); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("pool: initialize server %q: %w", serverName, err)
	}

	return &Conn{ServerName: serverName, inner: inner, lastUsed: time.Now()}, nil
}

// authHeaders resolves an AuthConfig into the header set to attach to every
// outbound request. OAuthDeviceFlowAuth never performs the interactive
// grant itself: it reads whatever token the external collaborator already
// cached under tokens/<serverName>.json, refreshing it via refresh_token
// when it's expired rather than just failing the connection.
func authHeaders(ctx context.Context, paths *config.Paths, serverName string, auth config.AuthConfig) (map[string]string, error) {
	switch a := auth.(type) {
	case nil, config.NoAuth:
		return nil, nil
	case config.BearerAuth:
		return map[string]string{"Authorization": "Bearer " + a.Token}, nil
	case config.APIKeyAuth:
		name := a.HeaderName
		if name == "" {
			name = "X-API-Key"
		}
		return map[string]string{name: a.Key}, nil
	case config.BasicAuth:
		return map[string]string{"Authorization": basicAuthHeader(a.Username, a.Password)}, nil
	case config.OAuthDeviceFlowAuth:
		return oauthHeaders(ctx, paths.TokenFile(serverName), a)
	default:
		return nil, fmt.Errorf("unknown auth config type %T", auth)
	}
}

// oauthHeaders loads the cached device-flow token and, if it's expired and a
// refresh_token is present, exchanges it via oauth2.ReuseTokenSource before
// building the Authorization header. A successful refresh is written back to
// the token cache so the next connection reuses it instead of refreshing
// again.
func oauthHeaders(ctx context.Context, tokenFile string, a config.OAuthDeviceFlowAuth) (map[string]string, error) {
	cached, err := tokencache.Load(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("no cached device-flow token for %q (run device authorization first): %w", tokenFile, err)
	}

	if cached.Expired() && cached.RefreshToken == "" {
		return nil, fmt.Errorf("cached device-flow token for %q has expired and carries no refresh_token", tokenFile)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: a.TokenURL},
		Scopes:       a.Scopes,
	}
	source := oauth2.ReuseTokenSource(cached.AsOAuth2Token(), oauthCfg.TokenSource(ctx, cached.AsOAuth2Token()))
	fresh, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing device-flow token for %q: %w", tokenFile, err)
	}

	if fresh.AccessToken != cached.AccessToken {
		if err := tokencache.Save(tokenFile, tokencache.FromOAuth2Token(fresh)); err != nil {
			return nil, fmt.Errorf("persisting refreshed device-flow token for %q: %w", tokenFile, err)
		}
	}

	tokenType := fresh.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return map[string]string{"Authorization": tokenType + " " + fresh.AccessToken}, nil
}

func basicAuthHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ncpgateway/internal/config"
	"ncpgateway/internal/discovery"
	"ncpgateway/internal/gwerrors"
)

type fakeRouter struct {
	findResult      []discovery.Candidate
	runResult       config.ToolResult
	runErr          error
	runCalledWith   struct {
		displayName string
		args        map[string]any
		meta        json.RawMessage
	}
	resources []config.ResourceInfo
	prompts   []config.PromptInfo
	readErr   error
	promptErr error
	prompt    config.PromptRenderResult
	allTools  map[string]config.ToolDef
}

func (f *fakeRouter) AllTools() map[string]config.ToolDef { return f.allTools }

func (f *fakeRouter) Find(ctx context.Context, description string, limit int, detailed bool) []discovery.Candidate {
	return f.findResult
}

func (f *fakeRouter) Run(ctx context.Context, displayName string, args map[string]any, meta json.RawMessage) (config.ToolResult, error) {
	f.runCalledWith.displayName = displayName
	f.runCalledWith.args = args
	f.runCalledWith.meta = meta
	return f.runResult, f.runErr
}

func (f *fakeRouter) GetAllResources(ctx context.Context) []config.ResourceInfo { return f.resources }
func (f *fakeRouter) GetAllPrompts(ctx context.Context) []config.PromptInfo    { return f.prompts }

func (f *fakeRouter) ReadResource(ctx context.Context, serverName, uri string) ([]config.ToolResultContentBlock, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return []config.ToolResultContentBlock{{Type: "text", Text: "contents of " + serverName + ":" + uri}}, nil
}

func (f *fakeRouter) GetPrompt(ctx context.Context, serverName, promptName string, args map[string]string) (config.PromptRenderResult, error) {
	if f.promptErr != nil {
		return config.PromptRenderResult{}, f.promptErr
	}
	return f.prompt, nil
}

func runLine(t *testing.T, router Router, line string) []Response {
	t.Helper()
	var out bytes.Buffer
	g := New(router, zap.NewNop(), &out)
	err := g.Serve(context.Background(), strings.NewReader(line+"\n"))
	require.NoError(t, err)

	var responses []Response
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestMissingIDIsTreatedAsNotification(t *testing.T) {
	responses := runLine(t, &fakeRouter{}, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Empty(t, responses)
}

func TestInvalidJSONRPCVersionReturnsInvalidRequest(t *testing.T) {
	responses := runLine(t, &fakeRouter{}, `{"jsonrpc":"1.0","id":1,"method":"initialize"}`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, -32600, responses[0].Error.Code)
}

func TestMalformedJSONReturnsInvalidRequest(t *testing.T) {
	responses := runLine(t, &fakeRouter{}, `not json at all`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, -32600, responses[0].Error.Code)
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	responses := runLine(t, &fakeRouter{}, `{"jsonrpc":"2.0","id":1,"method":"bogus/method"}`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, -32601, responses[0].Error.Code)
}

func TestToolsListReturnsExactlyFindAndRun(t *testing.T) {
	responses := runLine(t, &fakeRouter{}, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	var result ListToolsResult
	remarshalInto(t, responses[0].Result, &result)
	require.Len(t, result.Tools, 2)
	names := []string{result.Tools[0].Name, result.Tools[1].Name}
	assert.ElementsMatch(t, []string{"find", "run"}, names)
}

func TestToolsCallUnknownToolReturnsMethodNotFound(t *testing.T) {
	responses := runLine(t, &fakeRouter{}, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"bogus"}}`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, -32601, responses[0].Error.Code)
}

func TestRunDryRunDoesNotCallRouter(t *testing.T) {
	router := &fakeRouter{}
	line := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"run","arguments":{"tool":"fs:read_file","parameters":{"path":"/tmp/a"},"dry_run":true}}}`
	responses := runLine(t, router, line)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	var result CallToolResult
	remarshalInto(t, responses[0].Result, &result)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "fs")
	assert.Contains(t, result.Content[0].Text, "read_file")
	assert.Empty(t, router.runCalledWith.displayName)
}

func TestRunMissingToolArgReturnsErrorContentNotRPCError(t *testing.T) {
	responses := runLine(t, &fakeRouter{}, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"run","arguments":{}}}`)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	var result CallToolResult
	remarshalInto(t, responses[0].Result, &result)
	assert.True(t, result.IsError)
}

func TestRunForwardsMetaToRouter(t *testing.T) {
	router := &fakeRouter{runResult: config.ToolResult{Success: true, Content: []config.ToolResultContentBlock{{Type: "text", Text: "ok"}}}}
	line := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"run","arguments":{"tool":"fs:read_file"},"_meta":{"session":"abc"}}}`
	responses := runLine(t, router, line)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)
	assert.Equal(t, "fs:read_file", router.runCalledWith.displayName)
	assert.JSONEq(t, `{"session":"abc"}`, string(router.runCalledWith.meta))
}

func TestRunPropagatesRoutingErrorAsErrorContent(t *testing.T) {
	router := &fakeRouter{runErr: gwerrors.New(gwerrors.RoutingNotFound, "unknown tool: fs:missing")}
	line := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"run","arguments":{"tool":"fs:missing"}}}`
	responses := runLine(t, router, line)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	var result CallToolResult
	remarshalInto(t, responses[0].Result, &result)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "routing.not-found")
}

func TestFindEmptyDescriptionStillSucceeds(t *testing.T) {
	router := &fakeRouter{findResult: []discovery.Candidate{
		{DisplayName: "fs:read_file", Confidence: 1.0, Rationale: "listed (no query provided)"},
	}}
	line := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"find","arguments":{}}}`
	responses := runLine(t, router, line)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	var result CallToolResult
	remarshalInto(t, responses[0].Result, &result)
	assert.Contains(t, result.Content[0].Text, "fs:read_file")
}

func TestFindFiltersByConfidenceThreshold(t *testing.T) {
	router := &fakeRouter{findResult: []discovery.Candidate{
		{DisplayName: "fs:read_file", Confidence: 0.9},
		{DisplayName: "fs:write_file", Confidence: 0.1},
	}}
	line := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"find","arguments":{"confidenceThreshold":0.5}}}`
	responses := runLine(t, router, line)
	var result CallToolResult
	remarshalInto(t, responses[0].Result, &result)
	assert.Contains(t, result.Content[0].Text, "fs:read_file")
	assert.NotContains(t, result.Content[0].Text, "fs:write_file")
}

func TestFindOnEmptyProfileReturnsAvailableToolsGuidance(t *testing.T) {
	router := &fakeRouter{}
	line := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"find","arguments":{"description":"file operations"}}}`
	responses := runLine(t, router, line)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	var result CallToolResult
	remarshalInto(t, responses[0].Result, &result)
	assert.Contains(t, result.Content[0].Text, "Available tools")
	assert.Contains(t, result.Content[0].Text, "add")
}

func TestResourcesReadMissingURIIsInvalidParams(t *testing.T) {
	responses := runLine(t, &fakeRouter{}, `{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{}}`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, -32602, responses[0].Error.Code)
}

func TestResourcesReadUnknownURIReturnsInternalErrorMentioningUnknown(t *testing.T) {
	line := `{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"not-prefixed"}}`
	responses := runLine(t, &fakeRouter{}, line)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, -32603, responses[0].Error.Code)
	assert.Contains(t, responses[0].Error.Message, "Unknown")
}

func TestResourcesReadBuiltinURIHandledDirectly(t *testing.T) {
	line := `{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"` + usageDocURI + `"}}`
	responses := runLine(t, &fakeRouter{}, line)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	var result ReadResourceResult
	remarshalInto(t, responses[0].Result, &result)
	require.Len(t, result.Contents, 1)
	assert.Contains(t, result.Contents[0].Text, "find")
}

func TestResourcesReadRoutesPrefixedURIToOwningServer(t *testing.T) {
	line := `{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"fs:file:///tmp/a"}}`
	responses := runLine(t, &fakeRouter{}, line)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	var result ReadResourceResult
	remarshalInto(t, responses[0].Result, &result)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "contents of fs:file:///tmp/a", result.Contents[0].Text)
}

func TestResourcesListUnionsBuiltinAndDownstream(t *testing.T) {
	router := &fakeRouter{resources: []config.ResourceInfo{
		{URI: "state.json", Name: "State", ServerName: "fs"},
	}}
	responses := runLine(t, router, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	var result ListResourcesResult
	remarshalInto(t, responses[0].Result, &result)

	var uris []string
	for _, r := range result.Resources {
		uris = append(uris, r.URI)
	}
	assert.Contains(t, uris, usageDocURI)
	assert.Contains(t, uris, "fs:state.json")
}

func TestPromptsGetBuiltinReturnsStaticContent(t *testing.T) {
	responses := runLine(t, &fakeRouter{}, `{"jsonrpc":"2.0","id":1,"method":"prompts/get","params":{"name":"discover-tools"}}`)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	var result GetPromptResult
	remarshalInto(t, responses[0].Result, &result)
	require.Len(t, result.Messages, 1)
}

func TestPromptsGetRoutesPrefixedNameToOwningServer(t *testing.T) {
	router := &fakeRouter{prompt: config.PromptRenderResult{
		Description: "rendered",
		Messages:    []config.PromptMessage{{Role: "user", Text: "hello"}},
	}}
	responses := runLine(t, router, `{"jsonrpc":"2.0","id":1,"method":"prompts/get","params":{"name":"mail:greeting"}}`)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	var result GetPromptResult
	remarshalInto(t, responses[0].Result, &result)
	assert.Equal(t, "rendered", result.Description)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "hello", result.Messages[0].Content.Text)
}

func TestPromptsGetUnknownNameReturnsInternalError(t *testing.T) {
	responses := runLine(t, &fakeRouter{}, `{"jsonrpc":"2.0","id":1,"method":"prompts/get","params":{"name":"no-colon-here"}}`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, -32603, responses[0].Error.Code)
	assert.Contains(t, responses[0].Error.Message, "Unknown")
}

func TestInitializeReturnsServerInfo(t *testing.T) {
	responses := runLine(t, &fakeRouter{}, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	var result InitializeResult
	remarshalInto(t, responses[0].Result, &result)
	assert.Equal(t, gatewayName, result.ServerInfo.Name)
}

func remarshalInto(t *testing.T, v any, out any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

package gateway

// Built-in documentation resources and prompts, served directly without
// routing to any downstream server. These are the fixed half of the union
// §4.8 describes for resources/list and prompts/list; their content answers
// the one question a client needs before it can use find/run effectively.

const usageDocURI = "ncp://docs/usage"
const errorsDocURI = "ncp://docs/errors"

var builtinResources = []ResourceEntry{
	{URI: usageDocURI, Name: "Usage guide", MimeType: "text/markdown"},
	{URI: errorsDocURI, Name: "Error taxonomy", MimeType: "text/markdown"},
}

var builtinResourceContent = map[string]string{
	usageDocURI: "# Using this gateway\n\n" +
		"This server exposes exactly two tools regardless of how many downstream " +
		"MCP servers are connected:\n\n" +
		"- `find` — search the aggregated catalog by natural-language description. " +
		"Returns a ranked list of `server:rawName` candidates with a confidence " +
		"score and rationale.\n" +
		"- `run` — execute a candidate returned by `find`. Pass `tool` as the " +
		"`server:rawName` string, and `parameters` as the arguments for that tool. " +
		"Set `dry_run: true` to preview the resolved route without contacting the " +
		"downstream server.\n\n" +
		"Resources and prompts registered on downstream servers are reachable " +
		"the same way: prefix their name or URI with `<server>:` to route to the " +
		"server that owns them.\n",
	errorsDocURI: "# Error taxonomy\n\n" +
		"| Kind | Meaning |\n|---|---|\n" +
		"| routing.not-found | The requested tool/resource/prompt isn't in the catalog |\n" +
		"| routing.disabled | The owning server has been auto-disabled after repeated failures |\n" +
		"| transport.connect | Could not establish a connection to the downstream server |\n" +
		"| transport.exec | The downstream server returned a failure for this call |\n",
}

var builtinPrompts = []PromptEntry{
	{Name: "discover-tools", Description: "Guidance for finding and running the right downstream tool."},
}

var builtinPromptContent = map[string]GetPromptResult{
	"discover-tools": {
		Description: "How to discover and invoke a downstream tool",
		Messages: []PromptMessage{
			{Role: "user", Content: ContentBlock{Type: "text", Text: "Call find with a short natural-language description of what you need, then call run with the server:rawName it returns."}},
		},
	},
}

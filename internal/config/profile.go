package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Profile is a named, persisted collection of downstream server
// configurations (§3 Core entities).
type Profile struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Servers     map[string]ServerConfig `json:"mcpServers"`
}

// NewProfile returns an empty profile, as created on first run.
func NewProfile(name, description string) *Profile {
	return &Profile{Name: name, Description: description, Servers: map[string]ServerConfig{}}
}

// profileDoc is the on-disk JSON shape: ServerConfig is an interface so it
// needs the discriminated envelope from servertypes.go on the way in/out.
type profileDoc struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Servers     map[string]json.RawMessage `json:"mcpServers"`
}

func (p *Profile) MarshalJSON() ([]byte, error) {
	doc := profileDoc{Name: p.Name, Description: p.Description, Servers: map[string]json.RawMessage{}}
	for name, sc := range p.Servers {
		raw, err := MarshalServerConfig(sc)
		if err != nil {
			return nil, err
		}
		doc.Servers[name] = raw
	}
	return json.Marshal(doc)
}

func (p *Profile) UnmarshalJSON(data []byte) error {
	var doc profileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	p.Name = doc.Name
	p.Description = doc.Description
	p.Servers = make(map[string]ServerConfig, len(doc.Servers))
	for name, raw := range doc.Servers {
		sc, err := UnmarshalServerConfig(raw)
		if err != nil {
			return err
		}
		p.Servers[name] = sc
	}
	return nil
}

// ConfigHash is a stable hash of the profile's server set, used to validate
// the tool cache and the embedding cache (invariant 4: rebuilt when
// configHash no longer matches).
func (p *Profile) ConfigHash() string {
	names := make([]string, 0, len(p.Servers))
	for name := range p.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		raw, err := MarshalServerConfig(p.Servers[name])
		if err != nil {
			continue
		}
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(raw)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ToolDef describes one callable tool as advertised by a downstream server.
type ToolDef struct {
	RawName     string          `json:"rawName"`
	DisplayName string          `json:"displayName"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// DisplayNameFor builds the globally unique "<server>:<rawName>" identifier.
func DisplayNameFor(serverName, rawName string) string {
	return serverName + ":" + rawName
}

// ToolCatalog is the per-server snapshot of its advertised tools.
type ToolCatalog struct {
	ServerName   string    `json:"serverName"`
	Tools        []ToolDef `json:"tools"`
	LastProbedAt int64     `json:"lastProbedAt"`
	ProbeStatus  string    `json:"probeStatus"`
}

// ToolResult is the outcome of a run() call.
type ToolResult struct {
	Success bool                     `json:"success"`
	Content []ToolResultContentBlock `json:"content,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// ToolResultContentBlock is one piece of a ToolResult's content sequence.
type ToolResultContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

// ResourceInfo describes one downstream-advertised resource.
type ResourceInfo struct {
	URI        string `json:"uri"`
	Name       string `json:"name"`
	MimeType   string `json:"mimeType,omitempty"`
	ServerName string `json:"serverName"`
}

// PromptInfo describes one downstream-advertised prompt.
type PromptInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ServerName  string `json:"serverName,omitempty"`
}

// PromptMessage is one turn of a rendered prompt.
type PromptMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// PromptRenderResult is the outcome of a prompts/get call, flattened to
// plain text the way ToolResultContentBlock flattens tool output.
type PromptRenderResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

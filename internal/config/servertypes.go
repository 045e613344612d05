package config

import (
	"encoding/json"
	"fmt"
)

// ServerKind discriminates the two ServerConfig arms. Modeled as a tagged
// variant (interface + two concrete structs), never as a class hierarchy,
// per Design Notes §9 ("Dynamic dispatch on ServerConfig").
type ServerKind string

const (
	KindSubprocess ServerKind = "subprocess"
	KindRemote     ServerKind = "remote"
)

// ServerConfig is the launch recipe for one downstream tool server.
type ServerConfig interface {
	Kind() ServerKind
	Validate() error
}

// SubprocessConfig launches a downstream server as a child process
// communicating over piped stdio.
type SubprocessConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

func (s *SubprocessConfig) Kind() ServerKind { return KindSubprocess }

func (s *SubprocessConfig) Validate() error {
	return ValidateSubprocessCommand(s.Command, s.Args)
}

// RemoteTransport selects how a RemoteConfig is reached.
type RemoteTransport string

const (
	TransportHTTP RemoteTransport = "http"
	TransportSSE  RemoteTransport = "sse"
)

// RemoteConfig reaches a downstream server over HTTP or SSE.
type RemoteConfig struct {
	URL       string          `json:"url"`
	Transport RemoteTransport `json:"transport"`
	Auth      AuthConfig      `json:"auth,omitempty"`
}

func (r *RemoteConfig) Kind() ServerKind { return KindRemote }

func (r *RemoteConfig) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("remote server: url is required")
	}
	u, err := parseURLScheme(r.URL)
	if err != nil {
		return fmt.Errorf("remote server: %w", err)
	}
	if u != "http" && u != "https" {
		return fmt.Errorf("remote server: url scheme must be http or https, got %q", u)
	}
	if r.Transport != TransportHTTP && r.Transport != TransportSSE {
		return fmt.Errorf("remote server: transport must be %q or %q, got %q", TransportHTTP, TransportSSE, r.Transport)
	}
	return nil
}

func parseURLScheme(raw string) (string, error) {
	for i, c := range raw {
		if c == ':' {
			if i == 0 {
				return "", fmt.Errorf("invalid url %q", raw)
			}
			return raw[:i], nil
		}
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.') {
			break
		}
	}
	return "", fmt.Errorf("invalid url %q: no scheme", raw)
}

// --- AuthConfig tagged variant ---

// AuthKind discriminates the AuthConfig arms.
type AuthKind string

const (
	AuthNone     AuthKind = "none"
	AuthBearer   AuthKind = "bearer"
	AuthAPIKey   AuthKind = "apiKey"
	AuthBasic    AuthKind = "basic"
	AuthOAuthDev AuthKind = "oauth-device-flow"
)

// AuthConfig is applied to every outbound request against a RemoteConfig
// server. The variants are plain data; internal/pool turns each into
// request headers, either directly (Bearer, APIKey, Basic, None) or from a
// cached/refreshed token (OAuthDeviceFlowAuth).
type AuthConfig interface {
	Kind() AuthKind
}

type NoAuth struct{}

func (NoAuth) Kind() AuthKind { return AuthNone }

type BearerAuth struct {
	Token string `json:"token"`
}

func (BearerAuth) Kind() AuthKind { return AuthBearer }

type APIKeyAuth struct {
	HeaderName string `json:"headerName"`
	Key        string `json:"key"`
}

func (APIKeyAuth) Kind() AuthKind { return AuthAPIKey }

type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (BasicAuth) Kind() AuthKind { return AuthBasic }

// OAuthDeviceFlowAuth describes the client registration needed to run (and
// later refresh) the standard OAuth 2.0 device-authorization grant. The
// interactive device-flow UI itself is an external collaborator's concern
// (explicitly out of scope); the core only ever consumes an already-resolved
// token cached under tokens/<serverName>.json.
type OAuthDeviceFlowAuth struct {
	ClientID      string   `json:"clientId"`
	ClientSecret  string   `json:"clientSecret,omitempty"`
	DeviceAuthURL string   `json:"deviceAuthUrl"`
	TokenURL      string   `json:"tokenUrl"`
	Scopes        []string `json:"scopes,omitempty"`
}

func (OAuthDeviceFlowAuth) Kind() AuthKind { return AuthOAuthDev }

// --- JSON (de)serialization with discriminator fields ---
//
// ServerConfig and AuthConfig are interfaces, so encoding/json cannot
// unmarshal into them directly. Profile marshaling funnels every
// ServerConfig/AuthConfig through the envelope helpers below, which read a
// "protocol"/"type" discriminator the way the teacher's flat ServerConfig
// struct used a single Protocol string field to mean the same thing.

type serverConfigEnvelope struct {
	Protocol string          `json:"protocol"`
	Command  string          `json:"command,omitempty"`
	Args     []string        `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	URL      string          `json:"url,omitempty"`
	Transport RemoteTransport `json:"transport,omitempty"`
	Auth     json.RawMessage `json:"auth,omitempty"`
}

// MarshalServerConfig renders a ServerConfig to its discriminated JSON form.
func MarshalServerConfig(sc ServerConfig) ([]byte, error) {
	switch v := sc.(type) {
	case *SubprocessConfig:
		return json.Marshal(serverConfigEnvelope{
			Protocol: "stdio",
			Command:  v.Command,
			Args:     v.Args,
			Env:      v.Env,
		})
	case *RemoteConfig:
		var authRaw json.RawMessage
		if v.Auth != nil {
			b, err := MarshalAuthConfig(v.Auth)
			if err != nil {
				return nil, err
			}
			authRaw = b
		}
		return json.Marshal(serverConfigEnvelope{
			Protocol:  string(v.Transport),
			URL:       v.URL,
			Transport: v.Transport,
			Auth:      authRaw,
		})
	default:
		return nil, fmt.Errorf("unknown ServerConfig implementation %T", sc)
	}
}

// UnmarshalServerConfig parses the discriminated JSON form back into a
// concrete ServerConfig implementation.
func UnmarshalServerConfig(data []byte) (ServerConfig, error) {
	var env serverConfigEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	switch env.Protocol {
	case "", "stdio":
		return &SubprocessConfig{Command: env.Command, Args: env.Args, Env: env.Env}, nil
	case string(TransportHTTP), string(TransportSSE):
		rc := &RemoteConfig{URL: env.URL, Transport: RemoteTransport(env.Protocol)}
		if len(env.Auth) > 0 {
			auth, err := UnmarshalAuthConfig(env.Auth)
			if err != nil {
				return nil, err
			}
			rc.Auth = auth
		} else {
			rc.Auth = NoAuth{}
		}
		return rc, nil
	default:
		return nil, fmt.Errorf("unknown server protocol %q", env.Protocol)
	}
}

func MarshalAuthConfig(a AuthConfig) ([]byte, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var merged map[string]interface{}
	if err := json.Unmarshal(body, &merged); err != nil {
		merged = map[string]interface{}{}
	}
	merged["type"] = string(a.Kind())
	return json.Marshal(merged)
}

func UnmarshalAuthConfig(data []byte) (AuthConfig, error) {
	var disc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &disc); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	switch AuthKind(disc.Type) {
	case "", AuthNone:
		return NoAuth{}, nil
	case AuthBearer:
		var a BearerAuth
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case AuthAPIKey:
		var a APIKeyAuth
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case AuthBasic:
		var a BasicAuth
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case AuthOAuthDev:
		var a OAuthDeviceFlowAuth
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", disc.Type)
	}
}

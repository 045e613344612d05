package config

import (
	"os"
	"path/filepath"
)

// Environment variables consumed by the core (external interfaces, §6).
const (
	EnvProfile             = "NCP_PROFILE"
	EnvConfigPath          = "NCP_CONFIG_PATH"
	EnvDebug               = "NCP_DEBUG"
	EnvDisableBackgroundInit = "NCP_DISABLE_BACKGROUND_INIT"
	EnvWorkingDir          = "NCP_WORKING_DIR"
)

// DefaultProfileName is the profile selected when NCP_PROFILE is unset.
const DefaultProfileName = "all"

// Paths resolves the on-disk layout rooted at a config directory, typically
// ~/.ncp per the persisted state layout table.
type Paths struct {
	Root string
}

// ResolveRoot determines the config root: NCP_CONFIG_PATH if set, otherwise
// ~/.ncp. It does not create the directory; callers call EnsureDirs.
func ResolveRoot() (string, error) {
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ncp"), nil
}

// NewPaths builds a Paths rooted at root.
func NewPaths(root string) *Paths { return &Paths{Root: root} }

func (p *Paths) ProfilesDir() string { return filepath.Join(p.Root, "profiles") }
func (p *Paths) CacheDir() string    { return filepath.Join(p.Root, "cache") }
func (p *Paths) TokensDir() string   { return filepath.Join(p.Root, "tokens") }
func (p *Paths) LogsDir() string     { return filepath.Join(p.Root, "logs") }

func (p *Paths) ProfileFile(name string) string {
	return filepath.Join(p.ProfilesDir(), name+".json")
}

func (p *Paths) ToolCacheFile(profile string) string {
	return filepath.Join(p.CacheDir(), profile+".tools.json")
}

func (p *Paths) EmbeddingsCacheFile() string {
	return filepath.Join(p.CacheDir(), "embeddings.json")
}

func (p *Paths) HealthFile() string {
	return filepath.Join(p.Root, "health.json")
}

func (p *Paths) TokenFile(serverName string) string {
	return filepath.Join(p.TokensDir(), serverName+".json")
}

func (p *Paths) LockFile() string {
	return filepath.Join(p.Root, "gateway.pid")
}

// EnsureDirs creates every directory the persisted layout needs.
func (p *Paths) EnsureDirs() error {
	for _, dir := range []string{p.Root, p.ProfilesDir(), p.CacheDir(), p.TokensDir(), p.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// ProfileNameFromEnv returns NCP_PROFILE or DefaultProfileName.
func ProfileNameFromEnv() string {
	if v := os.Getenv(EnvProfile); v != "" {
		return v
	}
	return DefaultProfileName
}

// DebugFromEnv reports whether NCP_DEBUG is "true". The entrypoint uses it
// to turn on debug-level logging; file logging does not depend on it (in
// MCP mode logs always go to the file under logs/).
func DebugFromEnv() bool {
	return os.Getenv(EnvDebug) == "true"
}

// BackgroundInitDisabledFromEnv reports whether NCP_DISABLE_BACKGROUND_INIT
// was set, used by deterministic tests that don't want a background probe
// sweep racing the assertions.
func BackgroundInitDisabledFromEnv() bool {
	v := os.Getenv(EnvDisableBackgroundInit)
	return v == "true" || v == "1"
}

// WorkingDirFromEnv returns NCP_WORKING_DIR, or "" if unset (meaning
// subprocess servers inherit the gateway's own working directory).
func WorkingDirFromEnv() string {
	return os.Getenv(EnvWorkingDir)
}

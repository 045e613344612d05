package autoimport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ncpgateway/internal/config"
)

func newTestStore(t *testing.T) (*config.Store, *config.Paths) {
	t.Helper()
	paths := config.NewPaths(t.TempDir())
	require.NoError(t, paths.EnsureDirs())
	return config.NewStore(paths, zap.NewNop()), paths
}

type fakeIntrospector struct {
	name    string
	servers map[string]config.ServerConfig
	ok      bool
	err     error
}

func (f *fakeIntrospector) Name() string { return f.name }
func (f *fakeIntrospector) Detect(ctx context.Context) (map[string]config.ServerConfig, bool, error) {
	return f.servers, f.ok, f.err
}

func TestImportAddsNewServers(t *testing.T) {
	store, _ := newTestStore(t)
	ins := &fakeIntrospector{
		name: "cursor",
		ok:   true,
		servers: map[string]config.ServerConfig{
			"fs": &config.SubprocessConfig{Command: "fs-server"},
		},
	}

	im := New([]Introspector{ins}, config.DefaultAutoImportDenylist, zap.NewNop())
	result := im.Run(context.Background(), store, "default")

	assert.Equal(t, []string{"fs"}, result.Imported)
	assert.Empty(t, result.Skipped)

	profile := store.GetProfile("default")
	_, ok := profile.Servers["fs"]
	assert.True(t, ok)
}

func TestImportSkipsAlreadyPresentServers(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.AddServer("default", "fs", &config.SubprocessConfig{Command: "fs-server"})
	require.NoError(t, err)

	ins := &fakeIntrospector{
		name: "cursor",
		ok:   true,
		servers: map[string]config.ServerConfig{
			"fs": &config.SubprocessConfig{Command: "different-binary"},
		},
	}

	im := New([]Introspector{ins}, config.DefaultAutoImportDenylist, zap.NewNop())
	result := im.Run(context.Background(), store, "default")

	assert.Empty(t, result.Imported)
	assert.Equal(t, []string{"fs"}, result.Skipped)
}

func TestImportSkipsDenylistedNames(t *testing.T) {
	store, _ := newTestStore(t)
	ins := &fakeIntrospector{
		name: "cursor",
		ok:   true,
		servers: map[string]config.ServerConfig{
			"ncp-gateway": &config.SubprocessConfig{Command: "self"},
		},
	}

	im := New([]Introspector{ins}, config.DefaultAutoImportDenylist, zap.NewNop())
	result := im.Run(context.Background(), store, "default")

	assert.Empty(t, result.Imported)
	assert.Equal(t, []string{"ncp-gateway"}, result.Skipped)
}

func TestImportIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ins := &fakeIntrospector{
		name: "cursor",
		ok:   true,
		servers: map[string]config.ServerConfig{
			"fs": &config.SubprocessConfig{Command: "fs-server"},
		},
	}
	im := New([]Introspector{ins}, config.DefaultAutoImportDenylist, zap.NewNop())

	first := im.Run(context.Background(), store, "default")
	assert.Equal(t, []string{"fs"}, first.Imported)

	second := im.Run(context.Background(), store, "default")
	assert.Empty(t, second.Imported)
	assert.Equal(t, []string{"fs"}, second.Skipped)
}

func TestImportToleratesOneIntrospectorErroringOut(t *testing.T) {
	store, _ := newTestStore(t)
	good := &fakeIntrospector{name: "cursor", ok: true, servers: map[string]config.ServerConfig{
		"fs": &config.SubprocessConfig{Command: "fs-server"},
	}}
	bad := &fakeIntrospector{name: "broken", err: assert.AnError}

	im := New([]Introspector{good, bad}, config.DefaultAutoImportDenylist, zap.NewNop())
	result := im.Run(context.Background(), store, "default")

	assert.Equal(t, []string{"fs"}, result.Imported)
	require.Contains(t, result.Errors, "broken")
}

func TestCursorIntrospectorDetectsAbsentConfigAsNotOK(t *testing.T) {
	ins := &CursorIntrospector{ConfigPath: filepath.Join(t.TempDir(), "missing.json")}
	servers, ok, err := ins.Detect(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, servers)
}

func TestCursorIntrospectorParsesSubprocessAndRemoteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	doc := `{
		"mcpServers": {
			"fs": {"command": "fs-server", "args": ["--root", "/tmp"]},
			"remote-sse": {"url": "https://example.com/sse"},
			"remote-http": {"url": "https://example.com/mcp"}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	ins := &CursorIntrospector{ConfigPath: path}
	servers, ok, err := ins.Detect(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, servers, 3)

	fs, ok := servers["fs"].(*config.SubprocessConfig)
	require.True(t, ok)
	assert.Equal(t, "fs-server", fs.Command)

	sse, ok := servers["remote-sse"].(*config.RemoteConfig)
	require.True(t, ok)
	assert.Equal(t, config.TransportSSE, sse.Transport)

	httpRemote, ok := servers["remote-http"].(*config.RemoteConfig)
	require.True(t, ok)
	assert.Equal(t, config.TransportHTTP, httpRemote.Transport)
}

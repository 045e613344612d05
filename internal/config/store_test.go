package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	paths := NewPaths(dir)
	require.NoError(t, paths.EnsureDirs())
	return NewStore(paths, zap.NewNop())
}

func TestAddServerRoundTrip(t *testing.T) {
	s := newTestStore(t)

	cfg := &SubprocessConfig{Command: "uvx", Args: []string{"mcp-server-fs"}}
	res, err := s.AddServer("all", "fs", cfg)
	require.NoError(t, err)
	require.Equal(t, AddServerOK, res)

	got := s.GetProfile("all")
	require.Contains(t, got.Servers, "fs")
	assert.Equal(t, cfg, got.Servers["fs"])
}

func TestAddServerAlreadyExists(t *testing.T) {
	s := newTestStore(t)
	cfg := &SubprocessConfig{Command: "uvx"}

	res, err := s.AddServer("all", "fs", cfg)
	require.NoError(t, err)
	require.Equal(t, AddServerOK, res)

	res, err = s.AddServer("all", "fs", cfg)
	require.NoError(t, err)
	assert.Equal(t, AddServerAlreadyExists, res)
}

func TestAddServerInvalidNeverPersisted(t *testing.T) {
	s := newTestStore(t)

	bad := &SubprocessConfig{Command: "node; rm -rf /"}
	res, err := s.AddServer("all", "evil", bad)
	assert.Error(t, err)
	assert.Equal(t, AddServerInvalid, res)

	_, statErr := os.Stat(s.paths.ProfileFile("all"))
	assert.True(t, os.IsNotExist(statErr), "profile file must not be created on validation failure")
}

func TestRemoveServer(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddServer("all", "fs", &SubprocessConfig{Command: "uvx"})
	require.NoError(t, err)

	require.NoError(t, s.RemoveServer("all", "fs"))
	got := s.GetProfile("all")
	assert.NotContains(t, got.Servers, "fs")

	// Removing an absent server is a no-op, not an error.
	assert.NoError(t, s.RemoveServer("all", "does-not-exist"))
}

func TestGetProfileMissingFileReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	p := s.GetProfile("brand-new")
	assert.Equal(t, "brand-new", p.Name)
	assert.Empty(t, p.Servers)
}

func TestListProfiles(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateProfile("work", "")
	require.NoError(t, err)
	_, err = s.CreateProfile("personal", "")
	require.NoError(t, err)

	names, err := s.ListProfiles()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"work", "personal"}, names)
}

func TestProfileConfigHashStableAcrossOrdering(t *testing.T) {
	p1 := NewProfile("all", "")
	p1.Servers["a"] = &SubprocessConfig{Command: "x"}
	p1.Servers["b"] = &SubprocessConfig{Command: "y"}

	p2 := NewProfile("all", "")
	p2.Servers["b"] = &SubprocessConfig{Command: "y"}
	p2.Servers["a"] = &SubprocessConfig{Command: "x"}

	assert.Equal(t, p1.ConfigHash(), p2.ConfigHash())

	p2.Servers["a"] = &SubprocessConfig{Command: "z"}
	assert.NotEqual(t, p1.ConfigHash(), p2.ConfigHash())
}

func TestProfileFilePath(t *testing.T) {
	paths := NewPaths("/tmp/ncp-root")
	assert.Equal(t, filepath.Join("/tmp/ncp-root", "profiles", "all.json"), paths.ProfileFile("all"))
}

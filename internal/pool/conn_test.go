package pool

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ncpgateway/internal/config"
	"ncpgateway/internal/tokencache"
)

func TestAuthHeadersBearer(t *testing.T) {
	headers, err := authHeaders(context.Background(), config.NewPaths(t.TempDir()), "fs", config.BearerAuth{Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", headers["Authorization"])
}

func TestAuthHeadersAPIKeyDefaultsHeaderName(t *testing.T) {
	headers, err := authHeaders(context.Background(), config.NewPaths(t.TempDir()), "fs", config.APIKeyAuth{Key: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "secret", headers["X-API-Key"])
}

func TestAuthHeadersNoAuth(t *testing.T) {
	headers, err := authHeaders(context.Background(), config.NewPaths(t.TempDir()), "fs", config.NoAuth{})
	require.NoError(t, err)
	assert.Nil(t, headers)
}

func TestOAuthHeadersReturnsCachedTokenWithoutRefreshWhenStillValid(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	require.NoError(t, paths.EnsureDirs())
	tokenFile := paths.TokenFile("fs")
	require.NoError(t, tokencache.Save(tokenFile, tokencache.Token{
		AccessToken: "live-token",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	headers, err := authHeaders(context.Background(), paths, "fs", config.OAuthDeviceFlowAuth{
		ClientID: "client", TokenURL: "http://127.0.0.1:0/unreachable",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer live-token", headers["Authorization"])
}

func TestOAuthHeadersExpiredWithoutRefreshTokenFails(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	require.NoError(t, paths.EnsureDirs())
	tokenFile := paths.TokenFile("fs")
	require.NoError(t, tokencache.Save(tokenFile, tokencache.Token{
		AccessToken: "stale-token",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}))

	_, err := authHeaders(context.Background(), paths, "fs", config.OAuthDeviceFlowAuth{
		ClientID: "client", TokenURL: "http://127.0.0.1:0/unreachable",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh_token")
}

func TestOAuthHeadersMissingCacheFails(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	require.NoError(t, paths.EnsureDirs())

	_, err := authHeaders(context.Background(), paths, "fs", config.OAuthDeviceFlowAuth{ClientID: "client"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), filepath.Base(paths.TokenFile("fs")))
}

package tokencache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fs.json")
	want := Token{AccessToken: "abc", TokenType: "Bearer", RefreshToken: "xyz", ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second)}

	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
}

func TestExpired(t *testing.T) {
	assert.False(t, Token{}.Expired())
	assert.True(t, Token{ExpiresAt: time.Now().Add(-time.Minute)}.Expired())
	assert.False(t, Token{ExpiresAt: time.Now().Add(time.Minute)}.Expired())
}

func TestOAuth2TokenConversionRoundTrip(t *testing.T) {
	orig := Token{AccessToken: "abc", TokenType: "Bearer", RefreshToken: "xyz", ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second)}
	back := FromOAuth2Token(orig.AsOAuth2Token())
	assert.Equal(t, orig.AccessToken, back.AccessToken)
	assert.Equal(t, orig.RefreshToken, back.RefreshToken)
	assert.True(t, orig.ExpiresAt.Equal(back.ExpiresAt))
}

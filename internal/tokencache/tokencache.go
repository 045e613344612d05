// Package tokencache reads and refreshes the OAuth device-flow tokens
// written to tokens/<serverName>.json. The core never performs the
// interactive device-authorization grant itself (that's an external
// collaborator's concern, per OAuthDeviceFlowAuth's doc comment); it only
// ever consumes an already-resolved token here and, once it holds a
// refresh_token, keeps that token current using golang.org/x/oauth2's
// standard refresh machinery.
package tokencache

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
)

// Token is the cached OAuth token shape written under tokens/<serverName>.json.
type Token struct {
	AccessToken  string    `json:"accessToken"`
	TokenType    string    `json:"tokenType"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the token is past its expiry (zero ExpiresAt
// means "no known expiry", treated as not expired).
func (t Token) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// AsOAuth2Token converts to the shape oauth2.ReuseTokenSource expects.
// Returning an expired oauth2.Token (rather than omitting Expiry) is what
// tells ReuseTokenSource to call through to the wrapped TokenSource instead
// of handing the stale access token back unchanged.
func (t Token) AsOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}

// FromOAuth2Token converts a refreshed oauth2.Token back to the cached shape.
func FromOAuth2Token(t *oauth2.Token) Token {
	return Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.Expiry,
	}
}

// Load reads the cached token for a server. A missing file is reported as
// an error so callers can distinguish "never authenticated" from a stale
// token, since the two need different remediation.
func Load(path string) (Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Token{}, err
	}
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return Token{}, fmt.Errorf("tokencache: parse %q: %w", path, err)
	}
	return t, nil
}

// Save atomically writes a (refreshed) token back to the cache file.
func Save(path string, t Token) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("tokencache: marshal %q: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("tokencache: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("tokencache: rename %q: %w", tmp, err)
	}
	return nil
}

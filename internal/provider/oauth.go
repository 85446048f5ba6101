package provider

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// anthropicOAuthTokenURL is Anthropic's Claude-Code OAuth token endpoint,
// used only to refresh a token nearing expiry; the initial token always
// comes from ANTHROPIC_OAUTH_TOKEN.
const anthropicOAuthTokenURL = "https://console.anthropic.com/v1/oauth/token"

// anthropicClaudeCodeIdentity is the ephemeral-cached system block Anthropic
// requires in front of every OAuth-authenticated request so usage is
// attributed to the Claude Code client rather than a bare API key.
const anthropicClaudeCodeIdentity = "You are Claude Code, Anthropic's official CLI for Claude."

// anthropicOAuthCredential resolves an ANTHROPIC_OAUTH_TOKEN into a bearer
// token usable on the current request, refreshing it through x/oauth2 when
// a refresh token is available and the token is within refreshSkew of
// expiry. The token's expiry, when present, is read from its JWT "exp"
// claim without verifying the signature: Anthropic's API is the verifier,
// this client only needs to know when to refresh.
type anthropicOAuthCredential struct {
	source oauth2.TokenSource
}

const refreshSkew = 2 * time.Minute

func newAnthropicOAuthCredential(rawToken string) *anthropicOAuthCredential {
	tok := &oauth2.Token{AccessToken: rawToken}
	if exp, ok := jwtExpiry(rawToken); ok {
		tok.Expiry = exp
	}

	cfg := oauth2.Config{
		ClientID: os.Getenv("ANTHROPIC_OAUTH_CLIENT_ID"),
		Endpoint: oauth2.Endpoint{TokenURL: anthropicOAuthTokenURL},
	}

	if refreshToken := os.Getenv("ANTHROPIC_OAUTH_REFRESH_TOKEN"); refreshToken != "" {
		tok.RefreshToken = refreshToken
		tok.Expiry = tok.Expiry.Add(-refreshSkew)
		return &anthropicOAuthCredential{source: cfg.TokenSource(context.Background(), tok)}
	}
	return &anthropicOAuthCredential{source: oauth2.StaticTokenSource(tok)}
}

// Token returns a live bearer token, refreshing via the OAuth token
// endpoint first if the current one is stale and a refresh token exists.
func (c *anthropicOAuthCredential) Token() (string, error) {
	tok, err := c.source.Token()
	if err != nil {
		return "", fmt.Errorf("anthropic oauth: %w", err)
	}
	return tok.AccessToken, nil
}

func jwtExpiry(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// anthropicCredentials is the outcome of resolving Anthropic's credential
// priority order: ANTHROPIC_OAUTH_TOKEN (sent as authToken, identity block
// prepended) takes precedence over ANTHROPIC_API_KEY.
type anthropicCredentials struct {
	AuthToken     string
	APIKey        string
	PrependIdentity bool
}

func resolveAnthropicCredentials() (anthropicCredentials, error) {
	if oauthTok := os.Getenv("ANTHROPIC_OAUTH_TOKEN"); oauthTok != "" {
		cred := newAnthropicOAuthCredential(oauthTok)
		tok, err := cred.Token()
		if err != nil {
			return anthropicCredentials{}, err
		}
		return anthropicCredentials{AuthToken: tok, PrependIdentity: true}, nil
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return anthropicCredentials{APIKey: key}, nil
	}
	return anthropicCredentials{}, fmt.Errorf("anthropic: no credentials (set ANTHROPIC_OAUTH_TOKEN or ANTHROPIC_API_KEY)")
}

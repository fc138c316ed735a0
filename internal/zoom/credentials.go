// Package zoom provides Zoom API authentication and the recording provider client
package zoom

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/curtbushko/zoom-to-vault/internal/config"
)

// DefaultCredentialTTL is the fixed lifetime given to every issued credential,
// regardless of the expires_in the token endpoint reports.
const DefaultCredentialTTL = time.Hour

// Credential is an issued bearer token with an absolute expiry. It is never
// mutated after issue; a refresh replaces it.
type Credential struct {
	AccessToken string
	TokenType   string
	Scopes      []string
	ExpiresAt   time.Time
}

// ValidAt reports whether the credential may still be used at now
func (c *Credential) ValidAt(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

// AuthorizationHeader returns the value for the Authorization header
func (c *Credential) AuthorizationHeader() string {
	tokenType := c.TokenType
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}
	return tokenType + " " + c.AccessToken
}

// TokenResponse represents the response from the OAuth token endpoint
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
	Error       string `json:"error,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// AuthError represents a failed credential exchange
type AuthError struct {
	Type   string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error %s: %s (%v)", e.Type, e.Reason, e.Err)
	}
	return fmt.Sprintf("auth error %s: %s", e.Type, e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TokenFetchFunc performs one exchange against the token endpoint
type TokenFetchFunc func(ctx context.Context) (*TokenResponse, error)

// CredentialSource issues credentials to API callers
type CredentialSource interface {
	Get(ctx context.Context) (*Credential, error)
	Invalidate()
}

// CredentialCache holds the current credential and refreshes it through the
// injected fetch function once it expires. Failed fetches are never cached.
// Concurrent callers may refresh twice; the last stored credential wins.
type CredentialCache struct {
	fetch   TokenFetchFunc
	now     func() time.Time
	ttl     time.Duration
	current atomic.Pointer[Credential]
}

// CacheOption configures a CredentialCache
type CacheOption func(*CredentialCache)

// WithClock overrides the clock used for expiry decisions
func WithClock(now func() time.Time) CacheOption {
	return func(c *CredentialCache) {
		c.now = now
	}
}

// WithTTL overrides the fixed credential lifetime
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CredentialCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewCredentialCache creates an empty cache backed by fetch
func NewCredentialCache(fetch TokenFetchFunc, opts ...CacheOption) *CredentialCache {
	c := &CredentialCache{
		fetch: fetch,
		now:   time.Now,
		ttl:   DefaultCredentialTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached credential while it is valid, otherwise fetches a new one
func (c *CredentialCache) Get(ctx context.Context) (*Credential, error) {
	now := c.now()
	if cred := c.current.Load(); cred != nil && cred.ValidAt(now) {
		return cred, nil
	}

	resp, err := c.fetch(ctx)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, &AuthError{Type: "request_failed", Reason: "failed to get access token", Err: err}
	}
	if resp == nil || resp.AccessToken == "" {
		return nil, &AuthError{Type: "empty_token", Reason: "token endpoint returned no access token"}
	}

	cred := &Credential{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		ExpiresAt:   now.Add(c.ttl),
	}
	if resp.Scope != "" {
		cred.Scopes = strings.Fields(resp.Scope)
	}

	c.current.Store(cred)
	return cred, nil
}

// Invalidate drops the cached credential so the next Get refreshes
func (c *CredentialCache) Invalidate() {
	c.current.Store(nil)
}

// NewServerToServerFetcher returns a fetch function performing the Server-to-Server
// OAuth account_credentials grant. In "basic" mode the client authenticates with
// HTTP Basic; in "jwt" mode it sends an HS256 client assertion signed with the secret.
func NewServerToServerFetcher(cfg config.ZoomConfig, httpClient *http.Client) TokenFetchFunc {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = "https://zoom.us/oauth/token"
	}

	return func(ctx context.Context) (*TokenResponse, error) {
		data := url.Values{}
		data.Set("grant_type", "account_credentials")
		data.Set("account_id", cfg.AccountID)

		var authorization string
		if cfg.AuthMode == "jwt" {
			assertion, err := clientAssertion(cfg, tokenURL, time.Now())
			if err != nil {
				return nil, &AuthError{Type: "jwt_generation", Reason: "failed to sign client assertion", Err: err}
			}
			data.Set("client_id", cfg.ClientID)
			data.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
			data.Set("client_assertion", assertion)
		} else {
			raw := cfg.ClientID + ":" + cfg.ClientSecret
			authorization = "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
		if err != nil {
			return nil, &AuthError{Type: "request_creation", Reason: "failed to create OAuth request", Err: err}
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, &AuthError{Type: "request_failed", Reason: "failed to get access token", Err: err}
		}
		defer resp.Body.Close()

		var tokenResponse TokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
			return nil, &AuthError{
				Type:   "response_parsing",
				Reason: fmt.Sprintf("failed to parse token response (HTTP %d)", resp.StatusCode),
				Err:    err,
			}
		}

		if tokenResponse.Error != "" {
			return nil, &AuthError{Type: tokenResponse.Error, Reason: tokenResponse.Reason}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &AuthError{
				Type:   "http_error",
				Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, tokenResponse.Reason),
			}
		}

		return &tokenResponse, nil
	}
}

// clientAssertion signs the RFC 7523 assertion used in jwt mode
func clientAssertion(cfg config.ZoomConfig, audience string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    cfg.ClientID,
		Subject:   cfg.ClientID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.ClientSecret))
}

// ValidateScopes validates that the credential carries all required scopes
func ValidateScopes(cred *Credential, requiredScopes []string) error {
	if len(requiredScopes) == 0 {
		return nil
	}

	granted := make(map[string]bool, len(cred.Scopes))
	for _, scope := range cred.Scopes {
		granted[scope] = true
	}

	var missing []string
	for _, required := range requiredScopes {
		if !granted[required] {
			missing = append(missing, required)
		}
	}

	if len(missing) > 0 {
		return &AuthError{
			Type:   "insufficient_scope",
			Reason: fmt.Sprintf("missing required scopes: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

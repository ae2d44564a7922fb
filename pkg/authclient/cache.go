package authclient

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
)

// TokenCache holds the access token in memory only. It is an explicitly
// owned object rather than package state so each client (and each test) gets
// its own scope.
type TokenCache struct {
	mu    sync.Mutex
	token string
	exp   time.Time
}

func NewTokenCache() *TokenCache {
	return &TokenCache{}
}

// Get returns the cached token, if any. Expired tokens are still returned;
// the server is the authority and the pipeline handles the resulting 401.
func (c *TokenCache) Get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", false
	}
	return c.token, true
}

// ExpiresAt returns the expiry recorded with the cached token.
func (c *TokenCache) ExpiresAt() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || c.exp.IsZero() {
		return time.Time{}, false
	}
	return c.exp, true
}

func (c *TokenCache) Set(token string, exp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.exp = exp
}

func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.exp = time.Time{}
}

// accessTokenExpiry reads the exp claim from a JWT payload without verifying
// the signature. The client holds no key; it only needs the expiry to
// schedule proactive refreshes.
func accessTokenExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, errors.New("malformed access token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, err
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.Exp <= 0 {
		return time.Time{}, errors.New("access token has no expiry")
	}
	return time.Unix(claims.Exp, 0).UTC(), nil
}

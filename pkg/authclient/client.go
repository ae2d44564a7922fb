package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// User is the server's identity projection.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type authResponse struct {
	User        User   `json:"user"`
	AccessToken string `json:"accessToken"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type meResponse struct {
	User User `json:"user"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to a gate auth server. The refresh token lives only in the
// cookie jar; the access token only in the TokenCache.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *TokenCache

	// refreshGroup collapses concurrent refresh attempts into one call.
	refreshGroup singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient supplies a custom HTTP client. A cookie jar is attached if
// the client has none, since the refresh cookie must survive between calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenCache supplies a shared token cache.
func WithTokenCache(cache *TokenCache) Option {
	return func(c *Client) { c.cache = cache }
}

// New builds a Client for the given base URL (e.g. "https://api.example.com").
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("authclient: empty base URL")
	}

	c := &Client{
		baseURL: baseURL,
		cache:   NewTokenCache(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("authclient: cookie jar: %w", err)
		}
		c.http.Jar = jar
	}

	return c, nil
}

// Cache exposes the token cache, mainly for the lifecycle controller.
func (c *Client) Cache() *TokenCache { return c.cache }

// Transport returns an http.RoundTripper implementing the authenticated
// request pipeline: bearer attach, single-flight refresh on 401, one retry.
func (c *Client) Transport(base http.RoundTripper) http.RoundTripper {
	return &pipelineTransport{base: base, client: c}
}

// Register creates an account and establishes a session.
func (c *Client) Register(ctx context.Context, email, password, name string) (User, error) {
	var out authResponse
	err := c.postJSON(ctx, "/auth/register", map[string]string{
		"email":    email,
		"password": password,
		"name":     name,
	}, &out)
	if err != nil {
		return User{}, err
	}
	c.cacheAccessToken(out.AccessToken)
	return out.User, nil
}

// Login authenticates and establishes a session.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	var out authResponse
	err := c.postJSON(ctx, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return User{}, err
	}
	c.cacheAccessToken(out.AccessToken)
	return out.User, nil
}

// Refresh rotates the refresh cookie and caches the new access token.
// Concurrent callers share one network call; on failure the cache is cleared
// and every caller receives the same error.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	v, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// refreshAfterFailure is the pipeline entry point: it coalesces with other
// refresh attempts and skips the network entirely when another caller has
// already replaced the token that just failed.
func (c *Client) refreshAfterFailure(ctx context.Context, failedToken string) (string, error) {
	v, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		if tok, ok := c.cache.Get(); ok && tok != failedToken {
			return tok, nil
		}
		return c.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) doRefresh(ctx context.Context) (string, error) {
	var out refreshResponse
	if err := c.postJSON(ctx, "/auth/refresh", struct{}{}, &out); err != nil {
		c.cache.Clear()
		return "", err
	}
	c.cacheAccessToken(out.AccessToken)
	return out.AccessToken, nil
}

// Logout revokes the current session server-side and clears the local token.
func (c *Client) Logout(ctx context.Context) error {
	err := c.postJSON(ctx, "/auth/logout", nil, &messageResponse{})
	c.cache.Clear()
	return err
}

// LogoutAll revokes every session of the current user.
func (c *Client) LogoutAll(ctx context.Context) error {
	err := c.postJSON(ctx, "/auth/logout_all", nil, &messageResponse{})
	c.cache.Clear()
	return err
}

// Me fetches the authenticated user's profile. Without a cached access token
// it returns ErrNotAuthenticated without touching the network.
func (c *Client) Me(ctx context.Context) (User, error) {
	if _, ok := c.cache.Get(); !ok {
		return User{}, ErrNotAuthenticated
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/me", nil)
	if err != nil {
		return User{}, err
	}
	var out meResponse
	if err := c.do(req, &out); err != nil {
		return User{}, err
	}
	return out.User, nil
}

func (c *Client) cacheAccessToken(token string) {
	if token == "" {
		return
	}
	exp, err := accessTokenExpiry(token)
	if err != nil {
		exp = time.Time{}
	}
	c.cache.Set(token, exp)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if tok, ok := c.cache.Get(); ok {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	ae := &APIError{Status: resp.StatusCode}
	var env errorEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err == nil {
		ae.Code = env.Error.Code
		ae.Message = env.Error.Message
	}
	return ae
}

package authclient

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// pipelineTransport is the authenticated request pipeline: attach the cached
// bearer token, and on a 401 coalesce into the client's single refresh call
// and retry the request exactly once with the fresh token.
//
// Auth endpoints themselves are passed through untouched so a failing login
// or refresh can never recurse into another refresh.
type pipelineTransport struct {
	base   http.RoundTripper
	client *Client
}

func (t *pipelineTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	usedToken, _ := t.client.cache.Get()

	first := cloneRequest(req)
	if usedToken != "" {
		first.Header.Set("Authorization", "Bearer "+usedToken)
	}

	resp, err := base.RoundTrip(first)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || isAuthEndpoint(req.URL.Path) {
		return resp, nil
	}

	// A body that cannot be replayed cannot be retried.
	if req.Body != nil && req.GetBody == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ErrBodyNotReplayable)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	tok, err := t.client.refreshAfterFailure(req.Context(), usedToken)
	if err != nil {
		return nil, err
	}

	retry := cloneRequest(req)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+tok)

	return base.RoundTrip(retry)
}

// isAuthEndpoint reports whether the path is one of the credential-handling
// routes excluded from refresh-and-retry.
func isAuthEndpoint(path string) bool {
	switch {
	case strings.HasSuffix(path, "/auth/login"),
		strings.HasSuffix(path, "/auth/register"),
		strings.HasSuffix(path, "/auth/refresh"),
		strings.HasSuffix(path, "/auth/logout"),
		strings.HasSuffix(path, "/auth/logout_all"):
		return true
	}
	return false
}

func cloneRequest(req *http.Request) *http.Request {
	cp := req.Clone(req.Context())
	return cp
}

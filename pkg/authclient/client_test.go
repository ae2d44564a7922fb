package authclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeAuthServer mimics the gate auth surface closely enough for client
// tests: bearer-checked protected routes, a rotating refresh cookie, and a
// counted refresh endpoint.
type fakeAuthServer struct {
	mu           sync.Mutex
	access       string
	refresh      string
	seq          int
	refreshCalls int
	logoutCalls  int
	refreshFail  bool
	accessTTL    time.Duration

	srv *httptest.Server
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()

	f := &fakeAuthServer{accessTTL: 15 * time.Minute}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.issueSession(w)
		writeBody(w, map[string]any{
			"user":        map[string]any{"id": "u1", "email": "a@x.com", "name": "A", "role": "USER"},
			"accessToken": f.currentAccess(),
		})
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.refreshCalls++
		fail := f.refreshFail
		valid := false
		if ck, err := r.Cookie("refreshToken"); err == nil && ck.Value == f.refresh {
			valid = true
		}
		f.mu.Unlock()

		if fail || !valid {
			writeFakeError(w, http.StatusUnauthorized, "unknown_or_revoked_token")
			return
		}
		f.issueSession(w)
		writeBody(w, map[string]any{"accessToken": f.currentAccess()})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logoutCalls++
		f.access = ""
		f.refresh = ""
		f.mu.Unlock()
		writeBody(w, map[string]any{"message": "logged out"})
	})
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if !f.checkBearer(r) {
			writeFakeError(w, http.StatusUnauthorized, "expired_token")
			return
		}
		writeBody(w, map[string]any{
			"user": map[string]any{"id": "u1", "email": "a@x.com", "name": "A", "role": "USER"},
		})
	})
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		if !f.checkBearer(r) {
			writeFakeError(w, http.StatusUnauthorized, "expired_token")
			return
		}
		writeBody(w, map[string]any{"data": "ok"})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAuthServer) issueSession(w http.ResponseWriter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.access = makeTestAccessToken(time.Now().Add(f.accessTTL), f.seq)
	f.refresh = fmt.Sprintf("refresh-%d", f.seq)
	http.SetCookie(w, &http.Cookie{
		Name:  "refreshToken",
		Value: f.refresh,
		Path:  "/auth/refresh",
	})
}

func (f *fakeAuthServer) currentAccess() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access
}

func (f *fakeAuthServer) checkBearer(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access != "" && r.Header.Get("Authorization") == "Bearer "+f.access
}

func (f *fakeAuthServer) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

// expireAccess invalidates the current access token server-side while
// leaving the refresh cookie valid, simulating access expiry.
func (f *fakeAuthServer) expireAccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access = "server-side-rotated"
}

func makeTestAccessToken(exp time.Time, seq int) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, _ := json.Marshal(map[string]any{"exp": exp.Unix(), "jti": seq})
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func writeBody(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeFakeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": code},
	})
}

func newLoggedInClient(t *testing.T, f *fakeAuthServer) *Client {
	t.Helper()
	c, err := New(f.srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Login(context.Background(), "a@x.com", "Abcdef1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	return c
}

func TestLogin_CachesAccessToken(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newLoggedInClient(t, f)

	tok, ok := c.Cache().Get()
	if !ok || tok != f.currentAccess() {
		t.Fatalf("cached token = %q ok=%v", tok, ok)
	}
	exp, ok := c.Cache().ExpiresAt()
	if !ok || time.Until(exp) < 10*time.Minute {
		t.Fatalf("expiry not parsed from token: %v ok=%v", exp, ok)
	}
}

func TestMe_UsesBearer(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newLoggedInClient(t, f)

	u, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if u.ID != "u1" {
		t.Fatalf("user id = %q", u.ID)
	}
}

func TestMe_WithoutTokenReturnsErrNotAuthenticated(t *testing.T) {
	f := newFakeAuthServer(t)
	c, err := New(f.srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = c.Me(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestRefresh_RotatesAndCaches(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newLoggedInClient(t, f)

	old, _ := c.Cache().Get()
	tok, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tok == old {
		t.Fatal("expected a new access token")
	}
	if cached, _ := c.Cache().Get(); cached != tok {
		t.Fatal("cache not updated")
	}
}

func TestRefresh_FailureClearsCache(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newLoggedInClient(t, f)

	f.mu.Lock()
	f.refreshFail = true
	f.mu.Unlock()

	_, err := c.Refresh(context.Background())
	if !IsAuthorizationError(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if _, ok := c.Cache().Get(); ok {
		t.Fatal("cache should be cleared after refresh failure")
	}
}

func TestPipeline_RetriesOnceAfterRefresh(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newLoggedInClient(t, f)

	f.expireAccess()

	hc := &http.Client{Transport: c.Transport(nil)}
	resp, err := hc.Get(f.srv.URL + "/api/data")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := f.refreshCount(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestPipeline_SingleFlight(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newLoggedInClient(t, f)

	f.expireAccess()

	hc := &http.Client{Transport: c.Transport(nil)}

	const n = 16
	errs := make([]error, n)
	statuses := make([]int, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			resp, err := hc.Get(f.srv.URL + "/api/data")
			if err != nil {
				errs[idx] = err
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			statuses[idx] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if statuses[i] != http.StatusOK {
			t.Fatalf("request %d status = %d", i, statuses[i])
		}
	}
	if got := f.refreshCount(); got != 1 {
		t.Fatalf("refresh calls = %d, want exactly 1", got)
	}
}

func TestPipeline_RefreshFailureRejectsAllWaiters(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newLoggedInClient(t, f)

	f.expireAccess()
	f.mu.Lock()
	f.refreshFail = true
	f.mu.Unlock()

	hc := &http.Client{Transport: c.Transport(nil)}

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			resp, err := hc.Get(f.srv.URL + "/api/data")
			if err == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			}
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] == nil {
			t.Fatalf("request %d unexpectedly succeeded", i)
		}
	}
	if _, ok := c.Cache().Get(); ok {
		t.Fatal("cache should be cleared after refresh failure")
	}
}

func TestPipeline_AuthEndpointsPassThrough(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newLoggedInClient(t, f)

	f.mu.Lock()
	f.refreshFail = true
	f.mu.Unlock()

	hc := &http.Client{Transport: c.Transport(nil)}
	resp, err := hc.Post(f.srv.URL+"/auth/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	// The 401 surfaces directly; no recursive refresh happened.
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := f.refreshCount(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestPipeline_NonReplayableBodySkipsRetry(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newLoggedInClient(t, f)

	f.expireAccess()

	// A bare io.Reader leaves req.GetBody nil, so the 401 cannot be retried.
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/data",
		io.LimitReader(strings.NewReader("payload"), 7))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	hc := &http.Client{Transport: c.Transport(nil)}
	_, err = hc.Do(req)
	if !errors.Is(err, ErrBodyNotReplayable) {
		t.Fatalf("err = %v, want ErrBodyNotReplayable", err)
	}
	if got := f.refreshCount(); got != 0 {
		t.Fatalf("refresh calls = %d, want 0", got)
	}
}

func TestAccessTokenExpiry(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	tok := makeTestAccessToken(exp, 1)

	got, err := accessTokenExpiry(tok)
	if err != nil {
		t.Fatalf("accessTokenExpiry: %v", err)
	}
	if !got.Equal(exp.UTC()) {
		t.Fatalf("exp = %v, want %v", got, exp.UTC())
	}

	if _, err := accessTokenExpiry("garbage"); err == nil {
		t.Fatal("expected error for malformed token")
	}
	if _, err := accessTokenExpiry("a.!!!.c"); err == nil {
		t.Fatal("expected error for bad payload encoding")
	}
}

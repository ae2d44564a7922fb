// Package main provides a CI-friendly smoke test for the gate auth server.
//
// It validates:
//   - register -> access token + refresh cookie
//   - me with bearer token
//   - refresh rotation (old cookie replaced, new access token)
//   - events websocket handshake + hello.ack
//   - logout_all -> session.revoked.all pushed on the events feed
//   - dead cookie rejected on a final refresh attempt
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	eventsSubprotocol = "gate.events.v1"
	maxReadBytes      = 1 << 20 // 1MiB
)

type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

type authResponse struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	AccessToken string `json:"accessToken"`
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "gate server base URL")
		origin  = flag.String("origin", "http://localhost:3000", "Origin header for the websocket handshake")
		email   = flag.String("email", fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano()), "Account email")
		passwd  = flag.String("password", "Smoke-test-pw1", "Account password")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -base: %v", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		fatalf("cookiejar: %v", err)
	}
	hc := &http.Client{Jar: jar, Timeout: *timeout}

	root := context.Background()

	// register
	var reg authResponse
	mustPostJSON(root, hc, *baseURL+"/auth/register", map[string]string{
		"email":    *email,
		"password": *passwd,
		"name":     "Smoke Test",
	}, "", http.StatusCreated, &reg)
	if strings.TrimSpace(reg.AccessToken) == "" {
		fatalf("register: missing accessToken")
	}
	if *verbose {
		fmt.Printf("registered: user=%s email=%s\n", reg.User.ID, reg.User.Email)
	}

	// me
	var me struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	mustGetJSON(root, hc, *baseURL+"/auth/me", reg.AccessToken, http.StatusOK, &me)
	if me.User.ID != reg.User.ID {
		fatalf("me: user id mismatch: got=%s want=%s", me.User.ID, reg.User.ID)
	}

	// refresh rotation
	var rot struct {
		AccessToken string `json:"accessToken"`
	}
	mustPostJSON(root, hc, *baseURL+"/auth/refresh", struct{}{}, "", http.StatusOK, &rot)
	if rot.AccessToken == "" || rot.AccessToken == reg.AccessToken {
		fatalf("refresh: expected a fresh access token")
	}

	// events feed
	conn := mustConnectEvents(root, *baseURL, *origin, rot.AccessToken, *timeout)
	defer closeWS(conn)

	hello := mustReadEnvelope(root, conn, *timeout)
	if hello.Type != "hello.ack" {
		fatalf("expected hello.ack, got %q", hello.Type)
	}
	if *verbose {
		fmt.Printf("events connected: %s\n", string(hello.Payload))
	}

	// logout_all must push a revocation event
	var msg struct {
		Message string `json:"message"`
	}
	mustPostJSON(root, hc, *baseURL+"/auth/logout_all", nil, rot.AccessToken, http.StatusOK, &msg)

	evt := mustReadEnvelope(root, conn, *timeout)
	if evt.Type != "session.revoked.all" {
		fatalf("expected session.revoked.all, got %q", evt.Type)
	}

	// the cookie is dead now
	status := postStatus(root, hc, *baseURL+"/auth/refresh")
	if status != http.StatusUnauthorized {
		fatalf("refresh after logout_all: status=%d want=401", status)
	}

	fmt.Printf("OK: user=%s event=%s\n", reg.User.ID, evt.Type)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func wsURLFor(base, accessToken string) string {
	wsBase := strings.Replace(base, "http", "ws", 1)
	return wsBase + "/auth/events?access_token=" + url.QueryEscape(accessToken)
}

func mustConnectEvents(parent context.Context, base, origin, accessToken string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURLFor(base, accessToken), &websocket.DialOptions{
		Subprotocols: []string{eventsSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("events connect: %v", err)
	}

	if resp != nil {
		got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
		if got != "" && got != eventsSubprotocol {
			fatalf("subprotocol mismatch: got=%q want=%q", got, eventsSubprotocol)
		}
	}

	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustReadEnvelope(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("events read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		fatalf("events decode: %v", err)
	}
	return env
}

func mustPostJSON(parent context.Context, hc *http.Client, target string, body any, bearer string, wantStatus int, out any) {
	ctx, cancel := context.WithTimeout(parent, hc.Timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, rdr)
	if err != nil {
		fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := hc.Do(req)
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != wantStatus {
		fatalf("POST %s: status=%d want=%d body=%s", target, resp.StatusCode, wantStatus, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			fatalf("POST %s: decode: %v", target, err)
		}
	}
}

func mustGetJSON(parent context.Context, hc *http.Client, target, bearer string, wantStatus int, out any) {
	ctx, cancel := context.WithTimeout(parent, hc.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := hc.Do(req)
	if err != nil {
		fatalf("GET %s: %v", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != wantStatus {
		fatalf("GET %s: status=%d want=%d body=%s", target, resp.StatusCode, wantStatus, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			fatalf("GET %s: decode: %v", target, err)
		}
	}
}

func postStatus(parent context.Context, hc *http.Client, target string) int {
	ctx, cancel := context.WithTimeout(parent, hc.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		fatalf("new request: %v", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "smoke: "+format+"\n", args...)
	os.Exit(1)
}

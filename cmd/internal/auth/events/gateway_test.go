package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"gate/cmd/internal/auth/session"
)

func newTestGateway(t *testing.T) (*Gateway, *Hub, *session.Service) {
	t.Helper()

	t.Setenv("GATE_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1")

	cfg := session.DefaultConfig()
	cfg.SigningSecret = "0123456789abcdef0123456789abcdef"
	mgr, err := session.NewHS256Manager(cfg)
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}
	svc := session.NewService(cfg, session.NewMemoryStore(), mgr)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(log, 16)
	svc.SetNotifier(hub)

	return NewGateway(log, hub, svc), hub, svc
}

func startTestServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/auth/events", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func dialEvents(t *testing.T, baseHTTPURL, origin, bearerToken string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/auth/events"

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if strings.TrimSpace(bearerToken) != "" {
		h.Set("Authorization", "Bearer "+bearerToken)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   h,
	})
}

func readEnvelopeWS(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func TestGateway_RejectsBadToken(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	ts := startTestServer(t, gw)

	_, resp, err := dialEvents(t, ts.URL, "http://localhost", "not-a-valid-token")
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestGateway_RejectsMissingOrigin(t *testing.T) {
	gw, _, svc := newTestGateway(t)
	ts := startTestServer(t, gw)

	issued, err := svc.Issue(context.Background(), time.Now().UTC(), "u1", "USER", session.DeviceContext{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, resp, err := dialEvents(t, ts.URL, "", issued.AccessToken)
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestGateway_RejectsDisallowedOrigin(t *testing.T) {
	gw, _, svc := newTestGateway(t)
	ts := startTestServer(t, gw)

	issued, err := svc.Issue(context.Background(), time.Now().UTC(), "u1", "USER", session.DeviceContext{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, resp, err := dialEvents(t, ts.URL, "http://evil.example", issued.AccessToken)
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestGateway_PushesRevocation(t *testing.T) {
	gw, _, svc := newTestGateway(t)
	ts := startTestServer(t, gw)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "u1", "USER", session.DeviceContext{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	conn, _, err := dialEvents(t, ts.URL, "http://localhost", issued.AccessToken)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	hello := readEnvelopeWS(t, conn)
	if hello.Type != TypeHelloAck {
		t.Fatalf("expected hello.ack first, got %s", hello.Type)
	}
	var ack HelloAckPayload
	if err := json.Unmarshal(hello.Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.SessionID != issued.SessionID {
		t.Fatalf("ack session mismatch: %q", ack.SessionID)
	}

	if err := svc.Revoke(ctx, now, issued.SessionID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	env := readEnvelopeWS(t, conn)
	if env.Type != TypeSessionRevoked {
		t.Fatalf("expected session.revoked, got %s", env.Type)
	}
	var p SessionRevokedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.SessionID != issued.SessionID {
		t.Fatalf("payload session mismatch: %q", p.SessionID)
	}
}

func TestGateway_PushesLogoutAll(t *testing.T) {
	gw, _, svc := newTestGateway(t)
	ts := startTestServer(t, gw)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "u1", "USER", session.DeviceContext{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	conn, _, err := dialEvents(t, ts.URL, "http://localhost", issued.AccessToken)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if env := readEnvelopeWS(t, conn); env.Type != TypeHelloAck {
		t.Fatalf("expected hello.ack first, got %s", env.Type)
	}

	if err := svc.RevokeAll(ctx, now, "u1"); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}

	env := readEnvelopeWS(t, conn)
	if env.Type != TypeLogoutAll {
		t.Fatalf("expected session.revoked.all, got %s", env.Type)
	}
}

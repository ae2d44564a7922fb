package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gate/cmd/identity"
	"gate/cmd/internal/auth/session"
	"gate/cmd/internal/metrics"
)

// Handler wires HTTP auth endpoints to identity/session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	users    identity.Store
	sessions *session.Service
	metrics  *metrics.Metrics

	// pool backs the audit log and login throttling; nil disables both
	// (memory mode).
	pool *pgxpool.Pool

	// auditTable is the quoted schema-qualified audit_log identifier.
	auditTable string

	dummyHash string
}

// NewHandler constructs an auth Handler. The pool may be nil when running
// without a database.
func NewHandler(log *slog.Logger, cfg Config, users identity.Store, sessions *session.Service, pool *pgxpool.Pool, m *metrics.Metrics) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if users == nil {
		return nil, errors.New("auth: nil identity store")
	}
	if sessions == nil {
		return nil, errors.New("auth: nil session service")
	}
	if m == nil {
		m = metrics.New(false)
	}

	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "gate"
	}

	h := &Handler{
		log:        log,
		cfg:        cfg,
		users:      users,
		sessions:   sessions,
		metrics:    m,
		pool:       pool,
		auditTable: pgx.Identifier{schema, "audit_log"}.Sanitize(),
	}

	// Dummy hash for timing-resistant login checks.
	if hash, err := identity.HashPassword("Dummy-password-4-timing-only"); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/auth/me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	res, err := h.users.CreateUser(ctx, identity.CreateUserInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Now:      now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			h.metrics.RecordAuthFailure("register", "email_exists")
			writeError(w, http.StatusConflict, "credential_error", "email already registered")
		case identity.IsInvalidInput(err):
			h.metrics.RecordAuthFailure("register", "invalid_input")
			writeError(w, http.StatusBadRequest, "validation_error", "invalid email, name, or password")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	issued, err := h.sessions.Issue(ctx, now, res.User.ID, string(res.User.Role), session.DeviceContext{UserAgent: ua, IP: ip})
	if err != nil {
		h.log.Error("auth.register.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.insertAudit(ctx, "auth.register", &res.User.ID, &issued.SessionID, ip, ua, nil)
	h.metrics.RecordAuth("register", "success")

	h.setRefreshCookie(w, issued.RefreshToken, issued.RefreshExp)
	writeJSON(w, http.StatusCreated, authResponse{
		User:        toUserResponse(res.User),
		AccessToken: issued.AccessToken,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	password := req.Password
	if email == "" || password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	identifier := identity.NormalizeEmail(email)

	// IP-based throttling before any DB lookup.
	if blocked, retryAfter, err := h.checkLoginIPThrottle(ctx, ip, now); err != nil {
		h.log.Error("auth.login.throttle_ip.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		h.auditLoginRateLimited(ctx, nil, ip, ua, identifier, retryAfter)
		h.metrics.RecordAuthFailure("login", "rate_limited")
		writeRateLimited(w, retryAfter)
		return
	}

	userAuth, err := h.users.GetUserAuthByEmail(ctx, email)
	if err != nil {
		// Timing resistance: perform a dummy verify when user is missing.
		if h.dummyHash != "" {
			_, _ = identity.VerifyPassword(password, h.dummyHash)
		}
		h.auditLoginFailed(ctx, nil, ip, ua, identifier, "not_found")
		h.metrics.RecordAuthFailure("login", "not_found")
		writeError(w, http.StatusUnauthorized, "credential_error", "invalid credentials")
		return
	}

	// Per-user progressive lockout.
	if blocked, retryAfter, err := h.checkLoginUserThrottle(ctx, userAuth.User.ID, now); err != nil {
		h.log.Error("auth.login.throttle_user.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		h.auditLoginRateLimited(ctx, &userAuth.User.ID, ip, ua, identifier, retryAfter)
		h.metrics.RecordAuthFailure("login", "rate_limited")
		writeRateLimited(w, retryAfter)
		return
	}

	okPw, err := identity.VerifyPassword(password, userAuth.PasswordHash)
	if err != nil || !okPw {
		h.auditLoginFailed(ctx, &userAuth.User.ID, ip, ua, identifier, "bad_password")
		h.metrics.RecordAuthFailure("login", "bad_password")
		writeError(w, http.StatusUnauthorized, "credential_error", "invalid credentials")
		return
	}

	issued, err := h.sessions.Issue(ctx, now, userAuth.User.ID, string(userAuth.User.Role), session.DeviceContext{UserAgent: ua, IP: ip})
	if err != nil {
		h.log.Error("auth.login.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLoginSuccess(ctx, &userAuth.User.ID, issued.SessionID, ip, ua, identifier)
	h.metrics.RecordAuth("login", "success")

	h.setRefreshCookie(w, issued.RefreshToken, issued.RefreshExp)
	writeJSON(w, http.StatusOK, authResponse{
		User:        toUserResponse(userAuth.User),
		AccessToken: issued.AccessToken,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	refreshToken, ok := h.refreshTokenFromCookie(r)
	if !ok {
		// No cookie set in the response on this path.
		writeError(w, http.StatusUnauthorized, "missing_credential", "refresh cookie is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	issued, err := h.sessions.Rotate(ctx, now, refreshToken, session.DeviceContext{UserAgent: ua, IP: ip})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshReuseDetected):
			h.auditRefreshReuse(ctx, ip, ua)
			h.metrics.RecordRotation("reuse_detected")
			h.clearRefreshCookie(w)
			writeError(w, http.StatusUnauthorized, "refresh_reuse_detected", "refresh token reuse detected")
		case errors.Is(err, session.ErrSessionExpired):
			h.metrics.RecordRotation("expired")
			h.clearRefreshCookie(w)
			writeError(w, http.StatusUnauthorized, "unknown_or_revoked_token", "session not active")
		case errors.Is(err, session.ErrSessionRevoked):
			h.metrics.RecordRotation("revoked")
			h.clearRefreshCookie(w)
			writeError(w, http.StatusUnauthorized, "unknown_or_revoked_token", "session not active")
		case errors.Is(err, session.ErrSessionNotFound):
			h.metrics.RecordRotation("not_found")
			h.clearRefreshCookie(w)
			writeError(w, http.StatusUnauthorized, "unknown_or_revoked_token", "session not active")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.auditRefreshSuccess(ctx, issued.SessionID, ip, ua)
	h.metrics.RecordRotation("rotated")

	h.setRefreshCookie(w, issued.RefreshToken, issued.RefreshExp)
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: issued.AccessToken})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	// The refresh cookie is path-scoped to the refresh endpoint and is not
	// sent here; the bearer token's session claim identifies the session to
	// kill. A presented cookie (same-path deployments) is honored too.
	if err := h.sessions.Revoke(ctx, now, claims.SessionID); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if tok, ok := h.refreshTokenFromCookie(r); ok {
		if err := h.sessions.RevokeByRefreshToken(ctx, now, tok); err != nil {
			h.log.Error("auth.logout.cookie_revoke.fail", "err", err)
		}
	}

	h.auditLogout(ctx, claims.UserID, claims.SessionID, ip, ua)
	h.metrics.RecordAuth("logout", "success")

	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	if err := h.sessions.RevokeAll(ctx, now, claims.UserID); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLogoutAll(ctx, claims.UserID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.metrics.RecordAuth("logout_all", "success")

	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out everywhere"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "user not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

// ---- helpers ----

// requireAuth proves the bearer access token. Verification is stateless:
// signature and expiry only, no session lookup.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "authorization_error", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.VerifyAccess(token, time.Now().UTC())
	if err != nil {
		code := "invalid_signature"
		if errors.Is(err, session.ErrTokenExpired) {
			code = "expired_token"
		}
		writeError(w, http.StatusUnauthorized, code, "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

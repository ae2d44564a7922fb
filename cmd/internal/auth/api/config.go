package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Schema is the Postgres schema holding the audit log (default "gate").
	Schema string

	// Refresh cookie transport. The path is scoped to the refresh endpoint
	// so the cookie is never sent to unrelated routes.
	RefreshCookieName string
	CookiePath        string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite

	// CORS. Credentialed cookies forbid wildcard origins, so the allowlist
	// is explicit.
	AllowedOrigins []string

	// Login throttling.
	LoginIPMax    int
	LoginIPWindow time.Duration

	LoginUserWindow time.Duration

	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:   envBool("GATE_AUTH_TRUST_PROXY", false),
		MaxBodyBytes: envInt64("GATE_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB

		Schema: envString("GATE_DB_SCHEMA", "gate"),

		RefreshCookieName: envString("GATE_AUTH_REFRESH_COOKIE_NAME", "refreshToken"),
		CookiePath:        envString("GATE_AUTH_COOKIE_PATH", "/auth/refresh"),
		CookieDomain:      envString("GATE_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:      envBool("GATE_AUTH_COOKIE_SECURE", false),
		CookieSameSite:    parseSameSite(envString("GATE_AUTH_COOKIE_SAMESITE", "lax")),

		AllowedOrigins: envCSV("GATE_AUTH_ALLOWED_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000"),

		LoginIPMax:    envInt("GATE_AUTH_LOGIN_IP_MAX", 20),
		LoginIPWindow: envDuration("GATE_AUTH_LOGIN_IP_WINDOW", 5*time.Minute),

		LoginUserWindow: envDuration("GATE_AUTH_LOGIN_USER_WINDOW", 15*time.Minute),

		LockoutShortThreshold:  envInt("GATE_AUTH_LOGIN_LOCKOUT_SHORT_THRESHOLD", 5),
		LockoutShortDuration:   envDuration("GATE_AUTH_LOGIN_LOCKOUT_SHORT_DURATION", 5*time.Minute),
		LockoutLongThreshold:   envInt("GATE_AUTH_LOGIN_LOCKOUT_LONG_THRESHOLD", 10),
		LockoutLongDuration:    envDuration("GATE_AUTH_LOGIN_LOCKOUT_LONG_DURATION", 30*time.Minute),
		LockoutSevereThreshold: envInt("GATE_AUTH_LOGIN_LOCKOUT_SEVERE_THRESHOLD", 20),
		LockoutSevereDuration:  envDuration("GATE_AUTH_LOGIN_LOCKOUT_SEVERE_DURATION", 2*time.Hour),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.LoginIPMax <= 0 {
		cfg.LoginIPMax = 20
	}
	if strings.TrimSpace(cfg.RefreshCookieName) == "" {
		cfg.RefreshCookieName = "refreshToken"
	}
	if strings.TrimSpace(cfg.CookiePath) == "" {
		cfg.CookiePath = "/auth/refresh"
	}

	return cfg
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSV(key, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

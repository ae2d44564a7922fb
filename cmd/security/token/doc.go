// Package token provides refresh-token hashing primitives for gate.
//
// The plain refresh token is never persisted; the session store keys on the
// digest produced here. Two modes exist:
//   - SHA-256(token) when no HMAC key is configured (dev default).
//   - HMAC-SHA256(token, key) when GATE_TOKEN_HMAC_KEY is set.
//
// Output is always a 64-char hex string suitable for storage and
// constant-time comparison.
package token

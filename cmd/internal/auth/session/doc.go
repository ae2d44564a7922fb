// Package session implements gate's token lifecycle: short-lived JWT access
// tokens and opaque rotating refresh tokens tracked server-side by hash.
//
// Rotation is single-use: presenting a refresh token invalidates it and
// produces a successor atomically. Presenting an already-rotated token is
// treated as reuse and revokes every session of the owning user.
package session

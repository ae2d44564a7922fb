// Package authclient is the client half of the gate two-token protocol.
//
// It keeps the short-lived access token in volatile memory only, relies on
// the HTTP cookie jar for the rotating refresh token, coalesces concurrent
// refresh attempts into a single network call, and runs a session lifecycle
// controller that refreshes proactively and mirrors logout across
// cooperating clients.
package authclient

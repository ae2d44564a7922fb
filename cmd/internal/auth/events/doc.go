// Package events pushes session lifecycle notifications to connected
// clients over WebSocket.
//
// A client subscribes with a valid access token and receives an event when
// its session (or all sessions of its user) is revoked, so open tabs can
// drop cached credentials immediately instead of waiting for the next
// failed request.
package events

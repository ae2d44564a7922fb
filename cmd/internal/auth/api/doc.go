// Package api exposes the HTTP auth gateway: register, login, refresh,
// logout, logout_all, and me.
//
// Access tokens travel in the Authorization header; the refresh token
// travels only in an HTTP-only cookie scoped to the refresh endpoint and
// never appears in a response body.
package api

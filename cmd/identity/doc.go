// Package identity owns user records and credential verification for gate.
//
// The auth gateway treats this package as the credential verifier: it creates
// users at registration and checks email/password pairs at login. Session
// state lives elsewhere (cmd/internal/auth/session); identity stores no
// tokens.
package identity

package events

import (
	"encoding/json"
	"time"
)

// Version is the wire version of the events protocol.
const Version = 1

// Event types pushed by the server.
const (
	TypeHelloAck       = "hello.ack"
	TypeSessionRevoked = "session.revoked"
	TypeLogoutAll      = "session.revoked.all"
)

// Envelope is the framing for every pushed event.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloAckPayload confirms the subscription.
type HelloAckPayload struct {
	SessionID string `json:"sessionId"`
}

// SessionRevokedPayload reports a single revoked session.
type SessionRevokedPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// LogoutAllPayload reports revocation of every session of the user.
type LogoutAllPayload struct {
	Reason string `json:"reason"`
}

func newEnvelope(typ string, payload any, ts time.Time) Envelope {
	raw, _ := json.Marshal(payload)
	return Envelope{V: Version, Type: typ, TS: ts, Payload: raw}
}

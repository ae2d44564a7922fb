package session

import "github.com/oklog/ulid/v2"

func newSessionID() string {
	return ulid.Make().String()
}

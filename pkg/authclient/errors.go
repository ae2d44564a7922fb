package authclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotAuthenticated means no usable credential is available and the
	// caller should route the user to login.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrBodyNotReplayable means a request failed authorization but its body
	// cannot be re-sent, so the refresh-and-retry step was abandoned.
	ErrBodyNotReplayable = errors.New("request body not replayable")
)

// APIError is a decoded server error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%q", e.Status, e.Code, e.Message)
}

// IsAuthorizationError reports whether err represents a 401 from the server.
func IsAuthorizationError(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status == http.StatusUnauthorized
	}
	return false
}

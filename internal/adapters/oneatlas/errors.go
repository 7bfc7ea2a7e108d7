package oneatlas

import (
	"errors"
	"fmt"
)

// ErrNoExpiry is returned when a token response carries neither expires_in
// nor a readable exp claim.
var ErrNoExpiry = errors.New("token has no expiry")

// ErrStalled is returned when a download receives no data for the client timeout.
var ErrStalled = errors.New("download stalled")

// AuthError reports a failed token exchange. It aborts the run.
type AuthError struct {
	Audience Audience
	Status   int
	Body     string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authenticate %s: %v", e.Audience, e.Err)
	}
	return fmt.Sprintf("authenticate %s: status %d: %s", e.Audience, e.Status, e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RequestError reports a non-2xx API response. It fails the current site only.
type RequestError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// IsAuth reports whether err is, or wraps, an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

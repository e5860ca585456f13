package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means no session token is stored; nothing was sent.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrSessionExpired means the backend rejected the token with 401 or
	// the token's exp claim passed. The session has been cleared.
	ErrSessionExpired = errors.New("session expired")
	// ErrValidation marks input rejected locally before any network call.
	ErrValidation = errors.New("validation failed")
	// ErrReadOnlyRole is returned for any attempt to modify SuperAdmin.
	ErrReadOnlyRole = errors.New("role is read-only")
	// ErrInvalidCredentials is returned by Login when the backend refuses
	// the username/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ErrorResponse is the error body returned by the backend.
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e ErrorResponse) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// APIError is a non-2xx response other than 401.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("backend error: HTTP %d: %s", e.Status, e.Message)
}

// IsAuthError reports whether err is fatal to the current view and must
// end in a redirect to the login page.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrSessionExpired)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}

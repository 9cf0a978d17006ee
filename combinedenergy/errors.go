package combinedenergy

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors
var (
	// ErrInvalidConfig indicates invalid client configuration
	ErrInvalidConfig = errors.New("invalid combined energy configuration")
	// ErrTransport indicates a network level failure talking to the API
	ErrTransport = errors.New("combined energy transport error")
	// ErrAuthentication indicates rejected credentials or an exhausted re-login
	ErrAuthentication = errors.New("combined energy authentication failed")
	// ErrInstallationNotFound indicates the installation is not linked to the account
	ErrInstallationNotFound = errors.New("installation not found for account")
	// ErrUpstreamFormat indicates a response that does not match the expected schema
	ErrUpstreamFormat = errors.New("unexpected response format from combined energy")
	// ErrPermissionDenied indicates the user cannot access the requested resource
	ErrPermissionDenied = errors.New("current user does not have access to the specified resource")
	// ErrInvalidRange indicates an empty or negative readings range
	ErrInvalidRange = errors.New("a positive time range must be provided")
	// ErrInvalidIncrement indicates a non-positive sample increment
	ErrInvalidIncrement = errors.New("increment must be a positive number of seconds")
	// ErrIteratorDone is returned by ReadingsIterator.Next once a finite range is exhausted
	ErrIteratorDone = errors.New("no more readings")
)

// APIError represents a non-success response from the Combined Energy API
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("combined energy API error: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound checks if the error indicates a not found response
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsUnauthorized checks if the error indicates an authentication failure
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsServerError checks if the upstream reported an internal failure
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// Is lets errors.Is(err, ErrPermissionDenied) match a 403 response.
func (e *APIError) Is(target error) bool {
	return target == ErrPermissionDenied && e.StatusCode == http.StatusForbidden
}

// TransportError wraps failures raised by the HTTP transport
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("timeout occurred while connecting to the Combined Energy API (%s %s): %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("error occurred while communicating with the Combined Energy API (%s %s): %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Timeout reports whether the failure was a deadline or network timeout.
func (e *TransportError) Timeout() bool {
	return isTimeout(e.Err)
}

// AuthError describes why a login or re-login failed
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuthentication }

// FormatError is returned when a payload cannot be decoded into its model
type FormatError struct {
	Endpoint string
	Body     string
	Err      error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unexpected response format from %s: %v", e.Endpoint, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == ErrUpstreamFormat }

// truncateBody keeps error messages readable when the upstream returns HTML pages.
func truncateBody(body []byte) string {
	const maxBody = 512
	if len(body) > maxBody {
		return string(body[:maxBody]) + "..."
	}
	return string(body)
}

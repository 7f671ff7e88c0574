package crm

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated means no credential is cached. Runtime calls fail
	// fast with this error and never attempt a network login.
	ErrNotAuthenticated = errors.New("crm not authenticated (token missing)")

	// ErrTokenExpired means the CRM answered 401 with the cached credential.
	// The cache is not invalidated in-process; the agent must be restarted.
	ErrTokenExpired = errors.New("crm token expired, restart the agent to re-authenticate")

	// ErrAuthTimeout means a caller gave up waiting for a concurrent login.
	ErrAuthTimeout = errors.New("authentication timeout")
)

// AuthError wraps a failed login attempt
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crm login failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("crm login failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError is a non-401 4xx/5xx response from the CRM
type UpstreamError struct {
	StatusCode int
	Body       string // truncated
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("crm api error: status %d", e.StatusCode)
}

// RequestError is a transport-level failure (timeout, connection refused)
type RequestError struct {
	Method   string
	Endpoint string
	Timeout  bool
	Err      error
}

func (e *RequestError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("crm request timed out: %s %s", e.Method, e.Endpoint)
	}
	return fmt.Sprintf("crm request failed: %s %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

package domainsearch

import (
	"errors"
	"fmt"
)

// Sentinel values for errors.Is checks against the typed errors below.
var (
	ErrAuth          = errors.New("domain search: authentication failed")
	ErrProtocol      = errors.New("domain search: unexpected provider response")
	ErrSearchFailed  = errors.New("domain search: task failed")
	ErrSearchTimeout = errors.New("domain search: task did not complete in time")
)

// AuthError reports missing credentials or a rejection by the provider's token endpoint.
type AuthError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("domain search auth error (status %d): %s", e.StatusCode, e.Message)
	}
	return "domain search auth error: " + e.Message
}

// Is matches ErrAuth.
func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// ProtocolError reports a provider response the client cannot use.
type ProtocolError struct {
	Op         string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("domain search %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("domain search %s: %s", e.Op, e.Message)
}

// Is matches ErrProtocol.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// SearchFailedError carries the terminal status reported for a task.
type SearchFailedError struct {
	TaskHash string
	Status   string
}

// Error implements the error interface.
func (e *SearchFailedError) Error() string {
	return fmt.Sprintf("domain search task %s ended with status %q", e.TaskHash, e.Status)
}

// Is matches ErrSearchFailed.
func (e *SearchFailedError) Is(target error) bool { return target == ErrSearchFailed }

// SearchTimeoutError is returned when polling gave up before the task completed,
// either because the attempt budget ran out or the caller's deadline passed.
type SearchTimeoutError struct {
	TaskHash string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *SearchTimeoutError) Error() string {
	msg := fmt.Sprintf("domain search task %s not completed after %d poll attempts", e.TaskHash, e.Attempts)
	if e.TaskHash == "" {
		msg = "domain search not started before the deadline"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrSearchTimeout.
func (e *SearchTimeoutError) Is(target error) bool { return target == ErrSearchTimeout }

// Unwrap exposes the context error, if any.
func (e *SearchTimeoutError) Unwrap() error { return e.Err }

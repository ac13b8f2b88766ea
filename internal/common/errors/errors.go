// Package errors provides the standardized error taxonomy of the dispatcher.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Dispatch path. These never escape a (recipient, channel) unit of work.
	ErrCodeRecipientResolutionFailed ErrorCode = "RECIPIENT_RESOLUTION_FAILED"
	ErrCodeTransportFailed           ErrorCode = "TRANSPORT_FAILED"
	ErrCodeTransportTimeout          ErrorCode = "TRANSPORT_TIMEOUT"
	ErrCodeRetryExhausted            ErrorCode = "RETRY_EXHAUSTED"

	// Preference writes: the one user-facing validation path.
	ErrCodePreferenceConflict ErrorCode = "PREFERENCE_CONFLICT"

	// Plumbing
	ErrCodeInvalidEvent             ErrorCode = "INVALID_EVENT"
	ErrCodeQueueFull                ErrorCode = "QUEUE_FULL"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeIndexingFailed           ErrorCode = "INDEXING_FAILED"
	ErrCodeInternal                 ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches on error code so callers can compare against a bare
// &StandardError{Code: ...} value.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewRecipientResolutionError reports that an event references a course, group
// or user that no longer exists.
func NewRecipientResolutionError(scope, id string, cause error) *StandardError {
	details := fmt.Sprintf("%s %s", scope, id)
	if cause != nil {
		details = fmt.Sprintf("%s: %v", details, cause)
	}
	return newError(ErrCodeRecipientResolutionFailed, "Recipient resolution failed", details, false, cause)
}

// NewTransportError wraps a channel adapter failure. It is stored on the
// delivery record and the record becomes eligible for retry.
func NewTransportError(channel string, cause error) *StandardError {
	return newError(ErrCodeTransportFailed, fmt.Sprintf("%s transport failed", channel), errString(cause), true, cause)
}

// NewTransportTimeoutError reports a transport call that exceeded its deadline.
func NewTransportTimeoutError(channel string, timeout time.Duration) *StandardError {
	return newError(ErrCodeTransportTimeout, fmt.Sprintf("%s transport timed out", channel),
		fmt.Sprintf("no response within %s", timeout), true, nil)
}

// NewRetryExhaustedError marks a record as terminally failed.
func NewRetryExhaustedError(recordID string, retries int) *StandardError {
	return newError(ErrCodeRetryExhausted, "Retry budget exhausted",
		fmt.Sprintf("record %s after %d retries", recordID, retries), false, nil)
}

// NewPreferenceConflictError rejects a malformed or duplicate preference write.
func NewPreferenceConflictError(details string) *StandardError {
	return newError(ErrCodePreferenceConflict, "Invalid notification preference", details, false, nil)
}

// NewInvalidEventError rejects an inbound event payload.
func NewInvalidEventError(details string) *StandardError {
	return newError(ErrCodeInvalidEvent, "Invalid notification event", details, false, nil)
}

// NewQueueFullError reports that the fan-out queue cannot take more events.
func NewQueueFullError(capacity int) *StandardError {
	return newError(ErrCodeQueueFull, "Fan-out queue is full",
		fmt.Sprintf("capacity %d", capacity), true, nil)
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection error", errString(err), true, err)
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(queryName string, err error) *StandardError {
	return newError(ErrCodeQueryExecutionFailed, "Database query execution error",
		fmt.Sprintf("query: %s, error: %s", queryName, errString(err)), true, err)
}

// NewIndexingFailedError reports a failure writing to the operator failure index.
func NewIndexingFailedError(err error) *StandardError {
	return newError(ErrCodeIndexingFailed, "Failure index write failed", errString(err), true, err)
}

// Code extracts the ErrorCode of err, or ErrCodeInternal for foreign errors.
func Code(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err is a retryable StandardError.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && Code(err) == code
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

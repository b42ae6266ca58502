package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PoolError is the single error type surfaced by the pool and its collaborators.
// Kind carries the classification; the remaining fields are diagnostic context.
type PoolError struct {
	Kind       Kind          `json:"kind"`
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	Address    string        `json:"address,omitempty"`
	Generation uint64        `json:"generation,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`

	// Command and Result are set for KindCommand.
	Command map[string]interface{} `json:"command,omitempty"`
	Result  map[string]interface{} `json:"result,omitempty"`

	Cause error `json:"-"`
}

// New creates an error of the given kind.
func New(kind Kind, message string) *PoolError {
	return &PoolError{
		Kind:    kind,
		Code:    CodeForKind(kind),
		Message: message,
	}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *PoolError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, cause error, message string) *PoolError {
	e := New(kind, message)
	e.Cause = cause

	return e
}

// Error implements the error interface.
func (e *PoolError) Error() string {
	var b strings.Builder

	if e.Address != "" {
		b.WriteString("[")
		b.WriteString(e.Address)
		b.WriteString("] ")
	}

	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)

	if e.Generation > 0 || e.Elapsed > 0 {
		b.WriteString(" (")

		if e.Generation > 0 {
			fmt.Fprintf(&b, "generation=%d", e.Generation)
		}

		if e.Elapsed > 0 {
			if e.Generation > 0 {
				b.WriteString(", ")
			}

			fmt.Fprintf(&b, "elapsed=%s", e.Elapsed)
		}

		b.WriteString(")")
	}

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap returns the underlying cause of the error.
func (e *PoolError) Unwrap() error {
	return e.Cause
}

// Is matches on Kind so that sentinel values work with errors.Is.
func (e *PoolError) Is(target error) bool {
	t, ok := target.(*PoolError)
	if !ok {
		return false
	}

	return e.Kind == t.Kind
}

// WithAddress sets the server address the error relates to.
func (e *PoolError) WithAddress(address string) *PoolError {
	e.Address = address

	return e
}

// WithGeneration sets the pool generation observed when the error occurred.
func (e *PoolError) WithGeneration(generation uint64) *PoolError {
	e.Generation = generation

	return e
}

// WithElapsed sets how long the caller waited before failing.
func (e *PoolError) WithElapsed(elapsed time.Duration) *PoolError {
	e.Elapsed = elapsed

	return e
}

// Info returns the registered definition for the error code.
func (e *PoolError) Info() ErrorInfo {
	info, ok := GetErrorInfo(e.Code)
	if !ok {
		info = errorDefinitions[CMN_INT_UNKNOWN]
	}

	return info
}

// NewCommandError builds a KindCommand error from a server reply. The code,
// code name and message are read from the "code", "codeName" and "errmsg"
// fields of the result.
func NewCommandError(command, result map[string]interface{}, cause error) *PoolError {
	message := "command failed"
	if msg, ok := result["errmsg"].(string); ok && msg != "" {
		message = msg
	}

	e := New(KindCommand, message)
	e.Command = command
	e.Result = result
	e.Cause = cause

	return e
}

// CommandCode returns the numeric server code of a command error, or 0.
func (e *PoolError) CommandCode() int {
	switch v := e.Result["code"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// CodeName returns the symbolic server code of a command error, or "".
func (e *PoolError) CodeName() string {
	name, _ := e.Result["codeName"].(string)

	return name
}

// KindOf returns the kind of the first PoolError in the chain, or KindUnknown.
func KindOf(err error) Kind {
	var poolErr *PoolError
	if errors.As(err, &poolErr) {
		return poolErr.Kind
	}

	return KindUnknown
}

// IsKind reports whether err carries a PoolError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var poolErr *PoolError
	if errors.As(err, &poolErr) {
		return poolErr.Info().Recoverable
	}

	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var poolErr *PoolError
	if errors.As(err, &poolErr) {
		return poolErr.Code
	}

	return CMN_INT_UNKNOWN
}

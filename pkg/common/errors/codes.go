// Package errors provides the tagged error type shared by the connection pool and its adapters.
package errors

import (
	"net/http"
)

// Retry-after hints (in seconds).
const (
	// ShortRetryAfter for conditions that usually clear within one wait cycle.
	ShortRetryAfter = 1
	// StandardRetryAfter for a server that is expected to recover after a heartbeat.
	StandardRetryAfter = 5
	// LongRetryAfter for establishment failures that need the server to come back.
	LongRetryAfter = 10
)

// ErrorCode represents a unique error code for the pool.
type ErrorCode string

// Kind classifies a pool error. Callers match on Kind, never on the concrete type.
type Kind string

const (
	KindConfiguration       Kind = "CONFIGURATION"
	KindPoolClosed          Kind = "POOL_CLOSED"
	KindPoolPaused          Kind = "POOL_PAUSED"
	KindWaitQueueFull       Kind = "WAIT_QUEUE_FULL"
	KindWaitQueueTimeout    Kind = "WAIT_QUEUE_TIMEOUT"
	KindConnectionEstablish Kind = "CONNECTION_ESTABLISH"
	KindCommand             Kind = "COMMAND"
	KindUnknown             Kind = "UNKNOWN"
)

const (
	// Common errors.
	CMN_INT_UNKNOWN ErrorCode = "CMN_INT_001" // Unknown internal error

	// Configuration errors.
	POOL_CFG_INVALID ErrorCode = "POOL_CFG_001" // Invalid pool settings

	// Lifecycle errors.
	POOL_STATE_CLOSED ErrorCode = "POOL_STATE_001" // Pool closed
	POOL_STATE_PAUSED ErrorCode = "POOL_STATE_002" // Pool paused by clear

	// Backpressure errors.
	POOL_WAIT_FULL    ErrorCode = "POOL_WAIT_001" // Wait queue at capacity
	POOL_WAIT_TIMEOUT ErrorCode = "POOL_WAIT_002" // Wait queue timeout

	// Connection errors.
	POOL_CONN_ESTABLISH ErrorCode = "POOL_CONN_001" // Physical open failed

	// Command errors.
	POOL_CMD_FAILED ErrorCode = "POOL_CMD_001" // Server rejected a command
)

// ErrorInfo contains detailed information about an error code.
type ErrorInfo struct {
	Code        ErrorCode `json:"code"`
	Kind        Kind      `json:"kind"`
	Message     string    `json:"message"`
	HTTPStatus  int       `json:"http_status"`
	Recoverable bool      `json:"recoverable"`
	RetryAfter  int       `json:"retry_after,omitempty"` // Seconds to wait before retry
}

// errorDefinitions maps error codes to their definitions.
var errorDefinitions = map[ErrorCode]ErrorInfo{
	CMN_INT_UNKNOWN: {
		Code:       CMN_INT_UNKNOWN,
		Kind:       KindUnknown,
		Message:    "An unknown internal error occurred",
		HTTPStatus: http.StatusInternalServerError,
	},
	POOL_CFG_INVALID: {
		Code:       POOL_CFG_INVALID,
		Kind:       KindConfiguration,
		Message:    "Invalid connection pool settings",
		HTTPStatus: http.StatusBadRequest,
	},
	POOL_STATE_CLOSED: {
		Code:       POOL_STATE_CLOSED,
		Kind:       KindPoolClosed,
		Message:    "Connection pool is closed",
		HTTPStatus: http.StatusServiceUnavailable,
	},
	POOL_STATE_PAUSED: {
		Code:        POOL_STATE_PAUSED,
		Kind:        KindPoolPaused,
		Message:     "Connection pool is paused",
		HTTPStatus:  http.StatusServiceUnavailable,
		Recoverable: true,
		RetryAfter:  StandardRetryAfter,
	},
	POOL_WAIT_FULL: {
		Code:        POOL_WAIT_FULL,
		Kind:        KindWaitQueueFull,
		Message:     "Connection pool wait queue is full",
		HTTPStatus:  http.StatusTooManyRequests,
		Recoverable: true,
		RetryAfter:  ShortRetryAfter,
	},
	POOL_WAIT_TIMEOUT: {
		Code:        POOL_WAIT_TIMEOUT,
		Kind:        KindWaitQueueTimeout,
		Message:     "Timed out waiting for a connection",
		HTTPStatus:  http.StatusGatewayTimeout,
		Recoverable: true,
		RetryAfter:  ShortRetryAfter,
	},
	POOL_CONN_ESTABLISH: {
		Code:        POOL_CONN_ESTABLISH,
		Kind:        KindConnectionEstablish,
		Message:     "Failed to establish connection",
		HTTPStatus:  http.StatusBadGateway,
		Recoverable: true,
		RetryAfter:  LongRetryAfter,
	},
	POOL_CMD_FAILED: {
		Code:       POOL_CMD_FAILED,
		Kind:       KindCommand,
		Message:    "Command failed",
		HTTPStatus: http.StatusBadGateway,
	},
}

// kindCodes maps each kind to its registered code.
var kindCodes = map[Kind]ErrorCode{
	KindConfiguration:       POOL_CFG_INVALID,
	KindPoolClosed:          POOL_STATE_CLOSED,
	KindPoolPaused:          POOL_STATE_PAUSED,
	KindWaitQueueFull:       POOL_WAIT_FULL,
	KindWaitQueueTimeout:    POOL_WAIT_TIMEOUT,
	KindConnectionEstablish: POOL_CONN_ESTABLISH,
	KindCommand:             POOL_CMD_FAILED,
	KindUnknown:             CMN_INT_UNKNOWN,
}

// GetErrorInfo returns the error information for a given error code.
func GetErrorInfo(code ErrorCode) (ErrorInfo, bool) {
	info, exists := errorDefinitions[code]

	return info, exists
}

// CodeForKind returns the registered code of a kind.
func CodeForKind(kind Kind) ErrorCode {
	if code, ok := kindCodes[kind]; ok {
		return code
	}

	return CMN_INT_UNKNOWN
}

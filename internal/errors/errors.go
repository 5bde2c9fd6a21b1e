// Package errors provides standardized error codes for the host.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (protocol, eval, plot, storage)
//   - error: The specific error type within that domain
//
// Codes are stable and appear in log records and in the error strings
// returned to the client for failed evaluations.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Protocol domain - message engine failures. Violations are fatal.
	CodeProtocolViolation    = "protocol.violation"    // Malformed or unexpected message
	CodeProtocolDisconnected = "protocol.disconnected" // Peer went away
	CodeProtocolShutdown     = "protocol.shutdown"     // Shutdown requested

	// Eval domain - evaluation bridge
	CodeEvalEncoding = "eval.encoding" // Result cannot be projected to JSON or raw bytes
	CodeEvalBlocked  = "eval.blocked"  // Blocking callback while callbacks are disallowed

	// Plot domain - virtual graphics devices
	CodePlotRender         = "plot.render"           // Backing device or replay failure
	CodePlotDeviceNotFound = "plot.device_not_found" // Unknown device id
	CodePlotNotFound       = "plot.not_found"        // Unknown plot id on a device
	CodePlotInvalidSize    = "plot.invalid_size"     // Non-positive device size or resolution

	// Transport domain - framing and connections
	CodeTransportClosed        = "transport.closed"          // Connection closed
	CodeTransportFrameTooLarge = "transport.frame_too_large" // Frame exceeds limit

	// Storage domain - database and persistence errors
	CodeStorageOpenFailed   = "storage.open_failed"    // Database open failed
	CodeStorageQueryFailed  = "storage.query_failed"   // Database query failed
	CodeStorageBlobNotFound = "storage.blob_not_found" // Blob id does not exist

	// Config domain
	CodeConfigInvalid = "config.invalid" // Config value out of range

	// Auth domain
	CodeAuthDenied = "auth.denied" // Missing or wrong bearer token

	// Server domain - WebSocket listener
	CodeServerHandshakeFailed = "server.handshake_failed" // Upgrade or version check failed

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal error
)

// CodedError wraps an error with a stable error code.
type CodedError struct {
	Code    string // Stable error code (e.g., "protocol.violation")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors.

// Violation creates a "protocol.violation" error. The host treats these as fatal.
func Violation(format string, args ...any) *CodedError {
	return New(CodeProtocolViolation, fmt.Sprintf(format, args...))
}

// Encoding creates an "eval.encoding" error.
func Encoding(format string, args ...any) *CodedError {
	return New(CodeEvalEncoding, fmt.Sprintf(format, args...))
}

// RenderFailed creates a "plot.render" error.
func RenderFailed(step string, cause error) *CodedError {
	return Wrap(CodePlotRender, step, cause)
}

// DeviceNotFound creates a "plot.device_not_found" error.
func DeviceNotFound(id string) *CodedError {
	return New(CodePlotDeviceNotFound, fmt.Sprintf("plot device %s not found", id))
}

// PlotNotFound creates a "plot.not_found" error.
func PlotNotFound(deviceID, plotID string) *CodedError {
	return New(CodePlotNotFound, fmt.Sprintf("plot %s not found on device %s", plotID, deviceID))
}

// BlobNotFound creates a "storage.blob_not_found" error.
func BlobNotFound(id int64) *CodedError {
	return New(CodeStorageBlobNotFound, fmt.Sprintf("blob %d not found", id))
}

// InvalidConfig creates a "config.invalid" error.
func InvalidConfig(field, reason string) *CodedError {
	return New(CodeConfigInvalid, fmt.Sprintf("%s: %s", field, reason))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}

// Package domain defines the core value types shared by meshstore layers.
package domain

import (
	"errors"
	"fmt"
)

// DomainError is an error carrying a stable, machine-readable code.
//
// Two DomainErrors match under errors.Is when their codes are equal, so
// callers compare against the package-level sentinels regardless of the
// details or cause attached at the failure site.
type DomainError struct {
	Code    string // Error code (e.g., "MS-STOR-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// Detailf is WithDetails with fmt.Sprintf formatting.
func (e *DomainError) Detailf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// Wrap returns a copy of the error wrapping the given cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Storage Errors (STOR)
// ============================================================================

var (
	// ErrNotFound indicates no live record exists for the identifier.
	ErrNotFound = NewDomainError("MS-STOR-4040", "record not found")

	// ErrCorruptRecord indicates a checksum or layout violation on disk.
	ErrCorruptRecord = NewDomainError("MS-STOR-4220", "corrupt record")

	// ErrPayloadTooLarge indicates the payload exceeds the configured maximum.
	ErrPayloadTooLarge = NewDomainError("MS-STOR-4130", "payload too large")

	// ErrInvalidIdentifier indicates an empty or oversized identifier.
	ErrInvalidIdentifier = NewDomainError("MS-STOR-4000", "invalid identifier")

	// ErrEngineClosed indicates the engine has been shut down.
	ErrEngineClosed = NewDomainError("MS-STOR-5030", "engine closed")

	// ErrIO indicates a filesystem or mapping failure.
	ErrIO = NewDomainError("MS-STOR-5000", "io error")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid option or argument.
	ErrInvalidArgument = NewDomainError("MS-ARG-1001", "invalid argument")
)

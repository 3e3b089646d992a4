package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound         = errors.New("resource not found")
	ErrProtocolNotFound = fmt.Errorf("%w: protocol", ErrNotFound)
	ErrResultNotFound   = fmt.Errorf("%w: analysis result", ErrNotFound)

	// Analysis errors
	ErrInsufficientData   = errors.New("insufficient data for analysis")
	ErrComputationTimeout = errors.New("analysis computation exceeded time budget")
	ErrInvalidResult      = errors.New("analysis result failed validation")

	// Validation errors
	ErrMalformedDataPoint = errors.New("malformed data point")

	// Export errors
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrExportNotReady    = errors.New("no analysis result available for export")

	// Collaborator errors
	ErrStoreUnavailable = errors.New("data point store unavailable")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewValidationError(field string, reason string) error {
	return fmt.Errorf("%w: field %s: %s", ErrMalformedDataPoint, field, reason)
}

func NewUnsupportedFormatError(format string) error {
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

func NewTimeoutError(budget string) error {
	return fmt.Errorf("%w (budget %s)", ErrComputationTimeout, budget)
}

func NewStoreError(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInsufficientDataError(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

func IsTimeoutError(err error) bool {
	return errors.Is(err, ErrComputationTimeout)
}

func IsCallerError(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrExportNotReady)
}

func IsRetryableError(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

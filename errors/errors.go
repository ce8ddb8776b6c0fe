// Package errors provides standardized error handling patterns for message
// center components. It includes error classification, standard error
// variables for the bus error taxonomy, and helper functions for consistent
// error wrapping across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or misuse
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for the bus error taxonomy
var (
	// Registration errors
	ErrDuplicateModule     = errors.New("module already registered")
	ErrUnknownModule       = errors.New("module not registered")
	ErrInvalidRegistration = errors.New("invalid module registration")

	// Message errors
	ErrInvalidMessage = errors.New("invalid message")
	ErrTargetNotFound = errors.New("target module not found")
	ErrMessageExpired = errors.New("message expired")

	// Delivery and request errors
	ErrDeliveryFailed = errors.New("delivery failed")
	ErrRequestTimeout = errors.New("request timeout")

	// Lifecycle errors
	ErrCenterClosed = errors.New("message center destroyed")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// TimeoutError reports that a correlated request was not settled within its
// deadline. It carries the timeout that was enforced so callers can
// distinguish configured deadlines.
type TimeoutError struct {
	CorrelationID string
	Timeout       time.Duration
}

// Error implements the error interface
func (te *TimeoutError) Error() string {
	return fmt.Sprintf("request %s timed out after %s", te.CorrelationID, te.Timeout)
}

// Is reports whether target is ErrRequestTimeout, so callers can use
// errors.Is without knowing the concrete type.
func (te *TimeoutError) Is(target error) bool {
	return target == ErrRequestTimeout
}

// DeliveryError reports a failure delivering a message to one recipient.
// Fan-out delivery isolates these per recipient.
type DeliveryError struct {
	ModuleID string
	Err      error
}

// Error implements the error interface
func (de *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to module %s failed: %v", de.ModuleID, de.Err)
}

// Unwrap returns the underlying handler error
func (de *DeliveryError) Unwrap() error {
	return de.Err
}

// Is reports whether target is ErrDeliveryFailed
func (de *DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailed
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Check for classified error
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	// Check for known transient errors
	if errors.Is(err, ErrRequestTimeout) ||
		errors.Is(err, ErrDeliveryFailed) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Check error message for common transient patterns
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"temporary",
		"unavailable",
		"busy",
		"retry",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	// Check for classified error
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrCenterClosed)
}

// IsInvalid checks if an error is due to invalid input or misuse
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	// Check for classified error
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	// Check for known invalid errors
	if errors.Is(err, ErrInvalidMessage) ||
		errors.Is(err, ErrDuplicateModule) ||
		errors.Is(err, ErrUnknownModule) ||
		errors.Is(err, ErrInvalidRegistration) ||
		errors.Is(err, ErrMessageExpired) ||
		errors.Is(err, ErrTargetNotFound) {
		return true
	}

	return false
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient // Default for nil
	}

	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// newClassified creates a new classified error
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

package errors

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Error types for classification of supervisor failures

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeController  ErrorType = "controller"
	ErrorTypeRegistry    ErrorType = "registry"
	ErrorTypeHealthCheck ErrorType = "health_check"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}

	// Stack holds the goroutine stack captured at classification time.
	// Populated only for unknown errors, where the origin matters more
	// than the message.
	Stack string
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewControllerError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeController, message, cause)
}

func NewRegistryError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeRegistry, message, cause)
}

func NewHealthCheckError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeHealthCheck, message, cause)
}

// NewUnknownError wraps an unclassified failure, preserving the full
// goroutine stack for diagnosis.
func NewUnknownError(message string, cause error) *DomainError {
	err := NewDomainError(ErrorTypeUnknown, message, cause)
	err.Stack = string(debug.Stack())
	return err
}

// Classify returns err as a DomainError, wrapping anything unclassified
// as an unknown error.
func Classify(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return NewUnknownError("unclassified failure", err)
}

// Error checking helpers
func IsControllerError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypeController
}

func IsRegistryError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypeRegistry
}

func IsHealthCheckError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypeHealthCheck
}

func IsUnknownError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypeUnknown
}

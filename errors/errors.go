package errors

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
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

// Standard error variables for common conditions
var (
	// Graph construction errors
	ErrDuplicateID       = errors.New("node id already exists")
	ErrUnknownID         = errors.New("node id not found")
	ErrUnknownDependency = errors.New("dependency id not found")
	ErrCycleDetected     = errors.New("dependency cycle detected")
	ErrNotALeaf          = errors.New("node is not a leaf")
	ErrLeafDependency    = errors.New("leaf node cannot take dependencies")
	ErrHasDependents     = errors.New("node has dependents")

	// Subscription and delivery errors
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionClosed   = errors.New("subscription closed")
	ErrQueueFull            = errors.New("delivery queue full")

	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStopped = errors.New("component already stopped")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Connection and configuration errors
	ErrNoConnection  = errors.New("no connection available")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ComputeError reports a compute function failure during a propagation
// pass. The pass is aborted at the failing node; changes already applied
// earlier in the pass stand.
type ComputeError struct {
	NodeID string
	Err    error
}

// Error implements the error interface
func (ce *ComputeError) Error() string {
	return fmt.Sprintf("compute failed for node %q: %v", ce.NodeID, ce.Err)
}

// Unwrap returns the underlying compute failure
func (ce *ComputeError) Unwrap() error {
	return ce.Err
}

// NewComputeError wraps a compute function failure with the failing node id
func NewComputeError(nodeID string, err error) *ComputeError {
	return &ComputeError{NodeID: nodeID, Err: err}
}

// AsComputeError extracts a ComputeError from an error chain
func AsComputeError(err error) (*ComputeError, bool) {
	var ce *ComputeError
	ok := errors.As(err, &ce)
	return ce, ok
}

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

// IsInvalid checks if an error is due to invalid input. All graph
// construction errors are invalid: the mutation was rejected and the graph
// is unchanged.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrDuplicateID) ||
		errors.Is(err, ErrUnknownID) ||
		errors.Is(err, ErrUnknownDependency) ||
		errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrNotALeaf) ||
		errors.Is(err, ErrLeafDependency) ||
		errors.Is(err, ErrHasDependents) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig)
}

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	return errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrShuttingDown)
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return false
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
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

// Is reports whether any error in err's chain matches target.
// Re-exported so callers do not need both this package and the standard
// library errors package imported.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

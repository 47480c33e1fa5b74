// Package errors provides standardized error handling for the firmware bridge.
//
// # Overview
//
// The package implements a three-class error classification system: Transient
// (temporary, retryable), Invalid (bad input or configuration, non-retryable),
// and Fatal (unrecoverable, stop processing).
//
// Classification drives the two-phase error model of the bridge: specification
// and schema errors are Invalid and abort startup, while runtime wire errors
// are contained to the offending packet and only ever logged.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Component", "Method", "action")  // For retryable errors
//	errors.WrapInvalid(err, "Component", "Method", "action")    // For validation errors
//	errors.WrapFatal(err, "Component", "Method", "action")      // For unrecoverable errors
//
// The generic Wrap() function preserves the original error's classification:
//
//	errors.Wrap(err, "Component", "Method", "action")  // Preserves original class
//
// # Integration with errors.As/Is
//
// All error types support standard library error inspection:
//
//	var ce *errors.ClassifiedError
//	if errors.As(err, &ce) {
//	    log.Printf("Component: %s, Class: %s", ce.Component, ce.Class)
//	}
//
//	wrapped := errors.Wrap(errors.ErrConnectionTimeout, "Service", "Connect", "dial")
//	if errors.IsTransient(wrapped) {  // true - classification preserved
//	    // Retry logic
//	}
//
// Context errors (context.DeadlineExceeded, context.Canceled) are classified
// Transient, so context-based timeouts are handled like network timeouts.
//
// # Retry Configuration
//
// The package includes retry support with exponential backoff that feeds the
// pkg/retry framework:
//
//	config := errors.DefaultRetryConfig()
//	if config.ShouldRetry(err, attempt) {
//	    time.Sleep(config.BackoffDelay(attempt))
//	    // retry operation
//	}
//
// # Thread Safety
//
// All classification and wrapping operations are thread-safe. Error variables
// are immutable and safe for concurrent access.
package errors

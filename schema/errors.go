package schema

import (
	"fmt"

	"github.com/osu-uwrt/riptide-fw-bridge/errors"
)

// SchemaError reports a spec model that cannot be compiled into a wire
// schema. Compilation errors are fatal: the daemon refuses to start.
type SchemaError struct {
	msg string
}

func (e *SchemaError) Error() string { return e.msg }

// Unwrap classifies schema errors as invalid configuration.
func (e *SchemaError) Unwrap() error { return errors.ErrInvalidConfig }

func schemaErrorf(format string, args ...any) *SchemaError {
	return &SchemaError{msg: fmt.Sprintf(format, args...)}
}

// DecodeError reports an inbound packet that did not decode against
// the compiled envelope. The packet is dropped without a response.
type DecodeError struct {
	cause error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("envelope decode failed: %v", e.cause) }

func (e *DecodeError) Unwrap() []error { return []error{e.cause, errors.ErrParsingFailed} }

// SerializeError reports an outbound envelope that could not be
// serialized. The send is aborted; nothing reaches the wire.
type SerializeError struct {
	cause error
}

func (e *SerializeError) Error() string { return fmt.Sprintf("envelope serialize failed: %v", e.cause) }

func (e *SerializeError) Unwrap() []error { return []error{e.cause, errors.ErrInvalidData} }

// ConversionError reports a payload value outside the enum domain
// compiled for its field.
type ConversionError struct {
	Message string
	Field   string
	Value   int64
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("value %d is outside the enum domain of field %q in message %q", e.Value, e.Field, e.Message)
}

func (e *ConversionError) Unwrap() error { return errors.ErrInvalidData }

package blambda

import (
	"fmt"
	"reflect"

	"github.com/cockroachdb/errors"
)

// invokeError is the wire shape the Runtime API expects on the error and
// init/error endpoints.
type invokeError struct {
	Message string `json:"errorMessage"`
	Type    string `json:"errorType"`
}

// HandlerError lets a handler control the errorType reported to the control
// plane. Any other error is reported under its dynamic type name.
type HandlerError struct {
	// Name becomes the errorType; it typically reads like an identifier,
	// e.g. "BadInput".
	Name string
	// Err carries the underlying cause and renders the errorMessage.
	Err error
}

// NewHandlerError constructs a named handler error with a formatted message.
func NewHandlerError(name, format string, args ...any) *HandlerError {
	return &HandlerError{Name: name, Err: errors.Newf(format, args...)}
}

// Error implements the error interface.
func (e *HandlerError) Error() string { return e.Err.Error() }

// ErrorName returns the reported errorType.
func (e *HandlerError) ErrorName() string { return e.Name }

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *HandlerError) Unwrap() error { return e.Err }

// namedError is implemented by errors that choose their reported errorType.
type namedError interface{ ErrorName() string }

// errorName derives the errorType for an error: an ErrorName implementation
// anywhere in the chain wins, otherwise the dynamic type name of the value.
func errorName(err error) string {
	var named namedError
	if errors.As(err, &named) {
		return named.ErrorName()
	}
	return typeName(err)
}

// typeName reflects the unqualified type name of v, or "error" when the
// type is anonymous.
func typeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "error"
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return "error"
}

// newInvokeError renders an error into its wire shape.
func newInvokeError(err error) *invokeError {
	return &invokeError{Message: err.Error(), Type: errorName(err)}
}

// panicError wraps a value recovered from a panicking handler so it can be
// reported like any other handler error.
type panicError struct {
	value any
}

// Error implements the error interface.
func (e *panicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.value)
}

// ErrorName reports the type of the panic value rather than panicError
// itself, matching what callers expect to see in the errorType field.
func (e *panicError) ErrorName() string {
	if err, ok := e.value.(error); ok {
		return errorName(err)
	}
	return typeName(e.value)
}

// Package julea implements the client- and server-side building blocks of a
// JULEA-compatible storage daemon: the wire protocol (package wire), the
// generic SQL-backed structured-data engine (package enginesql), the server
// dispatch loop (package juleaserver) and the client batch engine (package
// batchclient).
//
// This file collects the sentinel and typed errors shared across those
// packages, following the taxonomy laid out for the system: transport errors
// (fatal to a connection), protocol errors (reported once, connection stays
// up), backend errors (object/kv and db-specific), and engine errors.
package julea

import (
	"errors"
	"fmt"
)

// Transport errors are fatal for the connection that produced them; the peer
// closes the socket without attempting a reply.
var (
	ErrShortRead       = errors.New("julea: short read")
	ErrBadMagic        = errors.New("julea: bad magic number")
	ErrLengthMismatch  = errors.New("julea: declared length does not match payload")
	ErrOversize        = errors.New("julea: payload exceeds configured maximum")
	ErrConnectionLost  = errors.New("julea: connection lost")
	ErrMalformedMessage = errors.New("julea: malformed message")
)

// Protocol errors are reported once, as a single-operation error reply; the
// connection is otherwise unaffected.
var (
	ErrUnknownOpcode    = errors.New("julea: unknown opcode")
	ErrWrongBackendHere = errors.New("julea: this daemon does not host the requested backend")
	ErrTypeMismatch     = errors.New("julea: reader expected a different primitive type")
	ErrMalformedBson    = errors.New("julea: malformed bson-compatible document")
	ErrBsonInvalidType  = errors.New("julea: unrecognised bson element type")
)

// Backend object/kv errors.
var (
	ErrNotFound      = errors.New("julea: not found")
	ErrAlreadyExists = errors.New("julea: already exists")
	ErrIoError       = errors.New("julea: backend io error")
	ErrOutOfSpace    = errors.New("julea: backend out of space")
)

// Backend-db errors.
var (
	ErrSchemaNotFound         = errors.New("julea: schema not found")
	ErrSchemaEmpty            = errors.New("julea: schema empty")
	ErrDbTypeInvalid          = errors.New("julea: db type invalid")
	ErrOperatorInvalid        = errors.New("julea: selector operator invalid")
	ErrComparatorInvalid      = errors.New("julea: selector comparator invalid")
	ErrVariableNotFound       = errors.New("julea: variable not found")
	ErrNoVariableSet          = errors.New("julea: no variable set")
	ErrSelectorEmpty          = errors.New("julea: selector empty")
	ErrIteratorNoMoreElements = errors.New("julea: iterator exhausted")
	ErrThreadingError         = errors.New("julea: threading error")
)

// Engine errors.
var (
	// ErrBatchPoisoned is returned by every call on a batch after its first
	// abort, until Execute is called and consumes it.
	ErrBatchPoisoned = errors.New("julea: batch poisoned by a previous error")
)

// DriverError wraps a DBMS driver failure with its driver-reported code, in
// the spirit of the teacher's sqlgraph constraint-error classification: the
// code is opaque (SQLSTATE, MySQL error number, or backend-specific string)
// and is preserved so callers can match on it without re-parsing error text.
type DriverError struct {
	Code string
	Text string
	Err  error
}

// Error returns the error string.
func (e *DriverError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("julea: driver error [%s]: %s", e.Code, e.Text)
	}
	return fmt.Sprintf("julea: driver error: %s", e.Text)
}

// Unwrap returns the underlying driver error.
func (e *DriverError) Unwrap() error {
	return e.Err
}

// NewDriverError returns a new DriverError.
func NewDriverError(code, text string, err error) *DriverError {
	return &DriverError{Code: code, Text: text, Err: err}
}

// IsDriverError returns true if err is (or wraps) a DriverError.
func IsDriverError(err error) bool {
	var e *DriverError
	return errors.As(err, &e)
}

// NotFoundError carries the namespace/name pair that was looked up, letting
// callers render a precise message without parsing Error().
type NotFoundError struct {
	Kind string // "object", "key", "schema", ...
	Name string
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("julea: %s %q not found", e.Kind, e.Name)
}

// Is reports whether target is ErrNotFound, so errors.Is(err, ErrNotFound)
// works on a *NotFoundError without a type switch.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError returns a new NotFoundError for the given kind and name.
func NewNotFoundError(kind, name string) *NotFoundError {
	return &NotFoundError{Kind: kind, Name: name}
}

// IsNotFound returns true if err is (or wraps) a not-found condition.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// OperationError reports which operation, among the N in a message, failed,
// letting the server dispatch loop build a per-operation error reply slot
// (§7: "Backend errors bubble to the dispatch handler, which serialises them
// into the per-operation reply slot").
type OperationError struct {
	Index int // position of the failing operation within its message/batch
	Op    string
	Err   error
}

// Error returns the error string.
func (e *OperationError) Error() string {
	return fmt.Sprintf("julea: operation %d (%s): %v", e.Index, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// NewOperationError returns a new OperationError.
func NewOperationError(index int, op string, err error) *OperationError {
	return &OperationError{Index: index, Op: op, Err: err}
}

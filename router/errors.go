package router

import (
	"errors"
	"fmt"

	"cineshelf/locator"
)

// ErrNotImplemented is returned, wrapped, by operations the router accepts
// but does not support.
var ErrNotImplemented = errors.New("not implemented")

// UnknownLocatorError reports a locator shape outside the supported set, or
// a supported shape used with an operation that does not accept it. It
// indicates a programming error in the caller.
type UnknownLocatorError struct {
	Locator locator.Locator
	Op      string
}

func (e *UnknownLocatorError) Error() string {
	return fmt.Sprintf("router %s: unknown locator %s", e.Op, e.Locator)
}

// WriteError reports an insert for which the store returned no row id.
type WriteError struct {
	Locator locator.Locator
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("router insert: failed to add a record into %s", e.Locator)
}

// NotImplementedError names the unsupported operation.
type NotImplementedError struct {
	Op string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("router %s: %v", e.Op, ErrNotImplemented)
}

func (e *NotImplementedError) Unwrap() error { return ErrNotImplemented }

package storage

import "fmt"

// StoreError reports a failure of the underlying database: the connection
// could not be opened, a statement failed, or a constraint was violated.
type StoreError struct {
	Op    string
	Table Table
	Err   error
}

func (e *StoreError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// MappingError reports a row whose shape does not match its table.
type MappingError struct {
	Table  Table
	Column string
	Reason string
}

func (e *MappingError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("mapping %s: %s", e.Table, e.Reason)
	}
	return fmt.Sprintf("mapping %s.%s: %s", e.Table, e.Column, e.Reason)
}

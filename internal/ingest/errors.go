package ingest

import "fmt"

// MappingError rejects a single upstream record. Sibling records are unaffected.
type MappingError struct {
	Field string
	Value string
	Err   error
}

func (e *MappingError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid departure record: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid departure record: %s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// StorageError is a failure of the batch transaction itself. It aborts the
// run and rolls back every write made by it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

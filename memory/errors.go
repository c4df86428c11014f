package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Load when nothing is stored under the key.
	ErrNotFound = errors.New("memory: not found")

	// ErrInvalidKey is returned for an empty namespace or id, or a namespace
	// containing Separator.
	ErrInvalidKey = errors.New("memory: invalid key")

	// ErrInvalidDestination is returned by Load when dst is not a non-nil
	// pointer.
	ErrInvalidDestination = errors.New("memory: load destination must be a non-nil pointer")
)

func invalidKey(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidKey, fmt.Sprintf(format, args...))
}

// SerializationError reports a value that could not be encoded as JSON on
// save ("encode"), or a decrypted entry that is not valid JSON ("decode").
type SerializationError struct {
	Op        string
	Namespace string
	ID        string
	Err       error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("memory: %s %s: %v", e.Op, CompositeKey(e.Namespace, e.ID), e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

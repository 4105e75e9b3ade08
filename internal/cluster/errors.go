package cluster

import (
	"errors"
	"fmt"
)

// Error conditions reported by the clustering core. Callers test them with errors.Is;
// every returned error wraps exactly one of these.
var (
	// ErrInvalidInput is a malformed embedding: wrong length or non-finite values.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound means an operation referenced an unknown group id.
	ErrNotFound = errors.New("group not found")
	// ErrInvalidOperation is a request that can never succeed, such as merging a group into itself.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrDetectionIncomplete means the provider produced a face without a usable embedding.
	ErrDetectionIncomplete = errors.New("detection incomplete")
)

// FaceError is the error of one face in a batch.
type FaceError struct {
	Index int
	Err   error
}

func (e *FaceError) Error() string {
	return fmt.Sprintf("face %d: %v", e.Index, e.Err)
}

func (e *FaceError) Unwrap() error {
	return e.Err
}

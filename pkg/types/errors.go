package types

import (
	"errors"
	"fmt"
)

// Error kinds surfaced across component boundaries. Components wrap these
// with context; only the outermost operation maps them to tool-protocol
// responses.
var (
	// ErrNotFound: no such project, chunk, or symbol. Non-fatal.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists: a conflicting record already exists. Non-fatal.
	ErrAlreadyExists = errors.New("already exists")
	// ErrCorrupt: an index or state file failed schema validation. The
	// owning project is flagged needs-rebuild.
	ErrCorrupt = errors.New("corrupt index")
	// ErrUnavailable: a required subsystem produced no result after retry
	// exhaustion and no degraded fallback applies.
	ErrUnavailable = errors.New("unavailable")
	// ErrCancelled: the caller cancelled the request. Partial mutations
	// are not rolled back; the next catch-up converges.
	ErrCancelled = errors.New("cancelled")
)

// DimensionMismatchError signals an embedder response whose dimension does
// not match the project's frozen dimension. Fatal for the in-flight call;
// the call is not retried and the embedder is not reset.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// TransientError wraps a network, 5xx, or timeout failure that was retried
// per-component policy before surfacing.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

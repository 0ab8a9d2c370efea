package buffer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when the sink is not open.
	ErrInvalidState = errors.New("buffer: sink is not open")
	// ErrQuotaExceeded is returned by sinks that cannot hold more data.
	// Evicting buffered media and retrying may succeed.
	ErrQuotaExceeded = errors.New("buffer: quota exceeded")
	// ErrConcurrentMutation means a mutation was issued while another was
	// still outstanding. It is a programming error.
	ErrConcurrentMutation = errors.New("buffer: source buffer is updating")
	// ErrReleased is returned after Release.
	ErrReleased = errors.New("buffer: released")
)

// SinkError is a failed sink operation.
type SinkError struct {
	Op  string
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("buffer %s: %v", e.Op, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// IsQuotaExceeded reports whether err is a recoverable quota failure.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

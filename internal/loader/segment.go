package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agleyzer/hlsplay/internal/fetch"
	"github.com/agleyzer/hlsplay/internal/segment"
)

// SegmentOptions controls timeouts and retries for one segment fetch.
type SegmentOptions struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// RetryCount is the total number of attempts.
	RetryCount int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// DefaultSegmentOptions returns 10s per attempt, 3 attempts, 1s apart.
func DefaultSegmentOptions() SegmentOptions {
	return SegmentOptions{
		Timeout:    10 * time.Second,
		RetryCount: 3,
		RetryDelay: time.Second,
	}
}

// SegmentNotFoundError is a 404 for a segment, typical when a live playlist
// runs ahead of the origin.
type SegmentNotFoundError struct {
	URI      string
	Sequence int64
	Err      error
}

func (e *SegmentNotFoundError) Error() string {
	return fmt.Sprintf("segment %d not found: %s", e.Sequence, e.URI)
}

func (e *SegmentNotFoundError) Unwrap() error {
	return e.Err
}

// TimeoutError is an attempt that did not complete within its timeout.
type TimeoutError struct {
	URI string
	// After is the attempt timeout that expired.
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("segment fetch timed out after %v: %s", e.After, e.URI)
}

// Timeout lets callers treat it like a net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// Segments downloads media segments with a per-attempt timeout and bounded retries.
type Segments struct {
	client Getter
	opts   SegmentOptions
	logger *slog.Logger
}

// NewSegments creates a segment loader with default options opts.
func NewSegments(client Getter, opts SegmentOptions, logger *slog.Logger) *Segments {
	return &Segments{
		client: client,
		opts:   opts,
		logger: logger,
	}
}

// Load fetches seg with the loader's default options.
func (s *Segments) Load(ctx context.Context, seg segment.Segment) (*segment.Sample, error) {
	return s.LoadSegment(ctx, seg.URL, seg.Sequence, seg.Duration, s.opts)
}

// LoadSegment fetches uri, making up to opts.RetryCount attempts separated
// by opts.RetryDelay. After the last failed attempt it returns that
// attempt's error. sequence and duration are carried through to the sample.
func (s *Segments) LoadSegment(ctx context.Context, uri string, sequence int64, duration float64, opts SegmentOptions) (*segment.Sample, error) {
	attempts := opts.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, opts.RetryDelay); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		data, err := s.attempt(ctx, uri, sequence, opts.Timeout)
		if err == nil {
			return &segment.Sample{
				Data:     data,
				Sequence: sequence,
				Duration: duration,
				Elapsed:  time.Since(start),
			}, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		s.logger.Warn("segment fetch failed",
			"uri", uri,
			"sequence", sequence,
			"attempt", attempt,
			"attempts", attempts,
			"error", err,
		)
	}

	return nil, fmt.Errorf("segment %d failed after %d attempts: %w", sequence, attempts, lastErr)
}

// attempt races one fetch against the timeout. A fetch that loses the race
// is canceled and its result dropped.
func (s *Segments) attempt(ctx context.Context, uri string, sequence int64, timeout time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)

	go func() {
		data, err := s.client.Get(attemptCtx, uri)
		done <- result{data: data, err: err}
	}()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case r := <-done:
		if r.err != nil && fetch.IsNotFound(r.err) {
			return nil, &SegmentNotFoundError{URI: uri, Sequence: sequence, Err: r.err}
		}
		return r.data, r.err
	case <-timeoutC:
		return nil, &TimeoutError{URI: uri, After: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsNotFound reports whether err is a segment 404.
func IsNotFound(err error) bool {
	var nf *SegmentNotFoundError
	return errors.As(err, &nf)
}

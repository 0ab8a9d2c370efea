package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agleyzer/hlsplay/internal/manifest"
)

// Adapter owns one SourceBuffer of a Sink and serializes every mutation
// against it.
type Adapter struct {
	// mu is held from issuing a mutation until its completion is observed.
	mu       sync.Mutex
	pending  *operation
	released atomic.Bool

	sink     Sink
	sb       SourceBuffer
	mimeType string
	format   manifest.ContainerFormat
	logger   *slog.Logger
}

// Open creates the source buffer on sink. The sink must be open. For
// fragmented MP4 the initialization segment at initURL is fetched with
// loader and appended; Open returns only after that append completes.
func Open(ctx context.Context, sink Sink, mimeType string, format manifest.ContainerFormat, initURL string, loader InitLoader, logger *slog.Logger) (*Adapter, error) {
	if state := sink.ReadyState(); state != ReadyOpen {
		return nil, &SinkError{Op: "initialize", Err: fmt.Errorf("%w (state %s)", ErrInvalidState, state)}
	}

	sb, err := sink.AddSourceBuffer(mimeType)
	if err != nil {
		return nil, &SinkError{Op: "initialize", Err: err}
	}

	a := &Adapter{
		sink:     sink,
		sb:       sb,
		mimeType: mimeType,
		format:   format,
		logger:   logger,
	}

	if format == manifest.FragmentedMP4 && initURL != "" {
		data, err := loader.LoadInit(ctx, initURL)
		if err != nil {
			a.Release()
			return nil, fmt.Errorf("load initialization segment: %w", err)
		}
		if err := a.Append(ctx, data); err != nil {
			a.Release()
			return nil, fmt.Errorf("append initialization segment: %w", err)
		}
		logger.Debug("initialization segment appended", "uri", initURL, "bytes", len(data))
	}

	logger.Debug("source buffer created", "mimeType", mimeType, "container", format)
	return a, nil
}

// MimeType returns the MIME type the source buffer was created with.
func (a *Adapter) MimeType() string {
	return a.mimeType
}

// Append appends data and waits for the sink to finish.
func (a *Adapter) Append(ctx context.Context, data []byte) error {
	return a.mutate(ctx, "append", func(done func(error)) error {
		return a.sb.AppendBuffer(data, done)
	})
}

// Remove evicts media in [start, end) and waits for the sink to finish.
func (a *Adapter) Remove(ctx context.Context, start, end float64) error {
	if end <= start {
		return nil
	}
	return a.mutate(ctx, "remove", func(done func(error)) error {
		return a.sb.Remove(start, end, done)
	})
}

// Clear removes everything buffered.
func (a *Adapter) Clear(ctx context.Context) error {
	return a.Remove(ctx, 0, math.Inf(1))
}

// Buffered returns the sink's buffered ranges. It does not wait for an
// outstanding mutation.
func (a *Adapter) Buffered() []TimeRange {
	if a.released.Load() {
		return nil
	}
	return a.sb.Buffered()
}

// EndOfStream signals that no more media will be appended, if the sink is
// still open.
func (a *Adapter) EndOfStream(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.released.Load() {
		return ErrReleased
	}
	if err := a.awaitPending(ctx); err != nil {
		return &SinkError{Op: "end of stream", Err: err}
	}
	if a.sink.ReadyState() != ReadyOpen {
		return nil
	}
	if err := a.sink.EndOfStream(); err != nil {
		return &SinkError{Op: "end of stream", Err: err}
	}
	return nil
}

// releaseTimeout bounds how long Release waits for an abandoned mutation.
const releaseTimeout = 5 * time.Second

// Release detaches the source buffer from the sink once any outstanding
// mutation has completed. It is safe to call more than once.
func (a *Adapter) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.released.Swap(true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := a.awaitPending(ctx); err != nil {
		a.logger.Warn("source buffer released with a mutation outstanding", "error", err)
	}

	if err := a.sink.RemoveSourceBuffer(a.sb); err != nil {
		return &SinkError{Op: "release", Err: err}
	}
	return nil
}

func (a *Adapter) mutate(ctx context.Context, op string, issue func(done func(error)) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.released.Load() {
		return &SinkError{Op: op, Err: ErrReleased}
	}

	// An earlier mutation abandoned by its caller may still be running.
	if err := a.awaitPending(ctx); err != nil {
		return &SinkError{Op: op, Err: err}
	}

	if a.sb.Updating() {
		return &SinkError{Op: op, Err: ErrConcurrentMutation}
	}

	pending := newOperation()
	if err := issue(pending.complete); err != nil {
		return &SinkError{Op: op, Err: err}
	}
	a.pending = pending

	if err := pending.wait(ctx); err != nil {
		if ctx.Err() == nil {
			a.pending = nil
		}
		return &SinkError{Op: op, Err: err}
	}
	a.pending = nil
	return nil
}

// awaitPending waits for an abandoned mutation. Caller must hold mu.
func (a *Adapter) awaitPending(ctx context.Context) error {
	if a.pending == nil {
		return nil
	}
	if err := a.pending.wait(ctx); err != nil && ctx.Err() != nil {
		return err
	}
	a.pending = nil
	return nil
}

// operation resolves once when the sink reports completion.
type operation struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newOperation() *operation {
	return &operation{done: make(chan struct{})}
}

func (o *operation) complete(err error) {
	o.once.Do(func() {
		o.err = err
		close(o.done)
	})
}

func (o *operation) wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

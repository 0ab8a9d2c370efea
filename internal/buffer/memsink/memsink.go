// Package memsink is an in-process media sink. It keeps no decoded media:
// appended data is optionally recorded to a writer, and its position on the
// timeline comes from a Prober.
package memsink

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/agleyzer/hlsplay/internal/buffer"
)

// mergeTolerance joins ranges separated by less than a frame or two.
const mergeTolerance = 0.25

// Option configures a Sink.
type Option func(*Sink)

// WithProber sets how appended data is placed on the timeline.
func WithProber(p Prober) Option {
	return func(s *Sink) { s.prober = p }
}

// WithCapacity limits the bytes held across source buffers. Appends beyond
// it fail with buffer.ErrQuotaExceeded.
func WithCapacity(bytes int) Option {
	return func(s *Sink) { s.capacity = bytes }
}

// WithOutput records every appended byte to w.
func WithOutput(w io.Writer) Option {
	return func(s *Sink) { s.output = w }
}

// WithLatency delays completion of every mutation.
func WithLatency(d time.Duration) Option {
	return func(s *Sink) { s.latency = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// Sink implements buffer.Sink. It starts open.
type Sink struct {
	mu       sync.Mutex
	state    buffer.ReadyState
	buffers  []*SourceBuffer
	prober   Prober
	capacity int
	output   io.Writer
	latency  time.Duration
	logger   *slog.Logger
}

// New creates an open sink. The default prober is TSProber.
func New(opts ...Option) *Sink {
	s := &Sink{
		state:  buffer.ReadyOpen,
		prober: TSProber{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadyState implements buffer.Sink.
func (s *Sink) ReadyState() buffer.ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close moves the sink to the closed state, as when the media element
// detaches.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = buffer.ReadyClosed
}

// AddSourceBuffer implements buffer.Sink.
func (s *Sink) AddSourceBuffer(mimeType string) (buffer.SourceBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != buffer.ReadyOpen {
		return nil, buffer.ErrInvalidState
	}

	sb := &SourceBuffer{sink: s, mimeType: mimeType}
	s.buffers = append(s.buffers, sb)
	return sb, nil
}

// RemoveSourceBuffer implements buffer.Sink.
func (s *Sink) RemoveSourceBuffer(sb buffer.SourceBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, b := range s.buffers {
		if b == sb {
			s.buffers = append(s.buffers[:i], s.buffers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("memsink: source buffer not attached")
}

// EndOfStream implements buffer.Sink.
func (s *Sink) EndOfStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != buffer.ReadyOpen {
		return buffer.ErrInvalidState
	}
	for _, b := range s.buffers {
		if b.Updating() {
			return buffer.ErrConcurrentMutation
		}
	}
	s.state = buffer.ReadyEnded
	return nil
}

// SourceBuffers returns the attached source buffers.
func (s *Sink) SourceBuffers() []*SourceBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*SourceBuffer(nil), s.buffers...)
}

func (s *Sink) heldBytes() int {
	total := 0
	for _, b := range s.buffers {
		total += b.heldBytes()
	}
	return total
}

// chunk is one append. placed is false when the data could not be probed.
type chunk struct {
	rng    buffer.TimeRange
	placed bool
	size   int
}

// slice returns the part of c within [start, end) with its size scaled to
// match.
func (c chunk) slice(start, end float64) chunk {
	size := int(float64(c.size) * (end - start) / (c.rng.End - c.rng.Start))
	return chunk{rng: buffer.TimeRange{Start: start, End: end}, placed: true, size: size}
}

// SourceBuffer implements buffer.SourceBuffer.
type SourceBuffer struct {
	sink     *Sink
	mimeType string

	mu       sync.Mutex
	updating bool
	chunks   []chunk
	appends  int
	removes  int
}

// MimeType returns the type the buffer was created with.
func (b *SourceBuffer) MimeType() string {
	return b.mimeType
}

// Updating implements buffer.SourceBuffer.
func (b *SourceBuffer) Updating() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updating
}

// Appends returns the number of completed appends.
func (b *SourceBuffer) Appends() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appends
}

// AppendBuffer implements buffer.SourceBuffer.
func (b *SourceBuffer) AppendBuffer(data []byte, done func(error)) error {
	b.sink.mu.Lock()
	if b.sink.state == buffer.ReadyEnded {
		// Appending reopens an ended sink.
		b.sink.state = buffer.ReadyOpen
	}
	if b.sink.state != buffer.ReadyOpen {
		b.sink.mu.Unlock()
		return buffer.ErrInvalidState
	}
	if b.sink.capacity > 0 && b.sink.heldBytes()+len(data) > b.sink.capacity {
		b.sink.mu.Unlock()
		return buffer.ErrQuotaExceeded
	}
	b.sink.mu.Unlock()

	b.mu.Lock()
	if b.updating {
		b.mu.Unlock()
		return buffer.ErrConcurrentMutation
	}
	b.updating = true
	b.mu.Unlock()

	payload := append([]byte(nil), data...)
	go b.finishAppend(payload, done)
	return nil
}

func (b *SourceBuffer) finishAppend(data []byte, done func(error)) {
	if b.sink.latency > 0 {
		time.Sleep(b.sink.latency)
	}

	c := chunk{size: len(data)}
	if rng, err := b.sink.prober.Probe(data); err == nil {
		c.rng = rng
		c.placed = true
	} else {
		b.sink.logger.Debug("appended data not placed on timeline", "bytes", len(data), "error", err)
	}

	var err error
	if b.sink.output != nil {
		b.sink.mu.Lock()
		_, err = b.sink.output.Write(data)
		b.sink.mu.Unlock()
		if err != nil {
			err = fmt.Errorf("memsink: record output: %w", err)
		}
	}

	b.mu.Lock()
	if err == nil {
		b.chunks = append(b.chunks, c)
		b.appends++
	}
	b.updating = false
	b.mu.Unlock()

	done(err)
}

// Remove implements buffer.SourceBuffer. Data that was never placed on the
// timeline is dropped only when the removal extends to +Inf.
func (b *SourceBuffer) Remove(start, end float64, done func(error)) error {
	b.mu.Lock()
	if b.updating {
		b.mu.Unlock()
		return buffer.ErrConcurrentMutation
	}
	b.updating = true
	b.mu.Unlock()

	go func() {
		if b.sink.latency > 0 {
			time.Sleep(b.sink.latency)
		}

		b.mu.Lock()
		var kept []chunk
		for _, c := range b.chunks {
			if !c.placed {
				if !math.IsInf(end, 1) {
					kept = append(kept, c)
				}
				continue
			}
			if c.rng.End <= start || c.rng.Start >= end {
				kept = append(kept, c)
				continue
			}
			if c.rng.Start >= start && c.rng.End <= end {
				continue
			}

			// Partial overlap: keep what lies outside [start, end), sizes
			// shrunk in proportion. A removal inside the chunk leaves two.
			if c.rng.Start < start {
				kept = append(kept, c.slice(c.rng.Start, start))
			}
			if c.rng.End > end {
				kept = append(kept, c.slice(end, c.rng.End))
			}
		}
		b.chunks = kept
		b.removes++
		b.updating = false
		b.mu.Unlock()

		done(nil)
	}()
	return nil
}

// Buffered implements buffer.SourceBuffer.
func (b *SourceBuffer) Buffered() []buffer.TimeRange {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ranges []buffer.TimeRange
	for _, c := range b.chunks {
		if c.placed {
			ranges = append(ranges, c.rng)
		}
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	return buffer.Normalize(ranges, mergeTolerance)
}

func (b *SourceBuffer) heldBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, c := range b.chunks {
		total += c.size
	}
	return total
}

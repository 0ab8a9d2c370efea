package player

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/agleyzer/hlsplay/internal/buffer"
	"github.com/agleyzer/hlsplay/internal/buffer/memsink"
	"github.com/agleyzer/hlsplay/internal/loader"
	"github.com/agleyzer/hlsplay/internal/manifest"
	"github.com/agleyzer/hlsplay/internal/segment"
	"github.com/agleyzer/hlsplay/internal/variant"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

const (
	lowURL  = "http://origin/low.m3u8"
	highURL = "http://origin/high.m3u8"
)

func twoLevelMaster() *manifest.Master {
	return &manifest.Master{Variants: []variant.Variant{
		{Bandwidth: 2560000, Resolution: "1280x720", Codecs: "avc1.4d401f,mp4a.40.2", PlaylistURL: highURL},
		{Bandwidth: 1280000, Resolution: "640x360", Codecs: "avc1.4d401f,mp4a.40.2", PlaylistURL: lowURL},
	}}
}

func mediaPlaylist(prefix string, first int64, count int, duration float64, endList bool) *manifest.Media {
	m := &manifest.Media{
		Version:         3,
		TargetDuration:  duration,
		MediaSequence:   first,
		EndList:         endList,
		ContainerFormat: manifest.MPEGTS,
	}
	for i := 0; i < count; i++ {
		seq := first + int64(i)
		m.Segments = append(m.Segments, segment.Segment{
			URL:      fmt.Sprintf("%s/%d.ts", prefix, seq),
			Duration: duration,
			Sequence: seq,
		})
	}
	return m
}

// fakeManifests serves playlists from memory.
type fakeManifests struct {
	mu        sync.Mutex
	master    *manifest.Master
	streamErr error
	media     map[string]*manifest.Media
	loads     map[string]int
}

func newFakeManifests(master *manifest.Master) *fakeManifests {
	return &fakeManifests{
		master: master,
		media:  make(map[string]*manifest.Media),
		loads:  make(map[string]int),
	}
}

func (f *fakeManifests) LoadStream(ctx context.Context, url string) (*loader.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &loader.Stream{Master: f.master}, nil
}

func (f *fakeManifests) LoadMedia(ctx context.Context, url string) (*manifest.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads[url]++
	m, ok := f.media[url]
	if !ok {
		return nil, fmt.Errorf("no playlist at %s", url)
	}
	return m, nil
}

func (f *fakeManifests) set(url string, m *manifest.Media) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media[url] = m
}

func (f *fakeManifests) loadCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[url]
}

// fakeSegments returns bodies whose first 16 bytes carry the segment's
// start and end time, as read by timelineProber.
type fakeSegments struct {
	mu      sync.Mutex
	size    int
	elapsed time.Duration
	failAt  map[int64]error
	loaded  []string

	initOpts   loader.SegmentOptions
	initLoaded bool
}

func newFakeSegments() *fakeSegments {
	return &fakeSegments{
		size:    1000,
		elapsed: time.Microsecond,
		failAt:  make(map[int64]error),
	}
}

func (f *fakeSegments) LoadSegment(ctx context.Context, uri string, sequence int64, duration float64, opts loader.SegmentOptions) (*segment.Sample, error) {
	f.mu.Lock()
	f.loaded = append(f.loaded, uri)
	err := f.failAt[sequence]
	size, elapsed := f.size, f.elapsed
	if sequence < 0 {
		f.initOpts, f.initLoaded = opts, true
	}
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if sequence < 0 {
		// Initialization segments carry no timeline header.
		return &segment.Sample{Data: []byte("init"), Sequence: sequence, Elapsed: elapsed}, nil
	}

	data := make([]byte, max(size, 16))
	start := float64(sequence) * duration
	binary.BigEndian.PutUint64(data[0:8], math.Float64bits(start))
	binary.BigEndian.PutUint64(data[8:16], math.Float64bits(start+duration))
	return &segment.Sample{Data: data, Sequence: sequence, Duration: duration, Elapsed: elapsed}, nil
}

func (f *fakeSegments) initOptions() (loader.SegmentOptions, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initOpts, f.initLoaded
}

func (f *fakeSegments) uris() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loaded...)
}

var timelineProber = memsink.ProberFunc(func(data []byte) (buffer.TimeRange, error) {
	if len(data) < 16 {
		return buffer.TimeRange{}, errors.New("no timeline header")
	}
	return buffer.TimeRange{
		Start: math.Float64frombits(binary.BigEndian.Uint64(data[0:8])),
		End:   math.Float64frombits(binary.BigEndian.Uint64(data[8:16])),
	}, nil
})

// fakePlayhead records seeks.
type fakePlayhead struct {
	mu    sync.Mutex
	t     float64
	seeks []float64
}

func (p *fakePlayhead) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.t
}

func (p *fakePlayhead) Seek(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.t = t
	p.seeks = append(p.seeks, t)
}

func (p *fakePlayhead) set(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.t = t
}

func (p *fakePlayhead) seekLog() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.seeks...)
}

type harness struct {
	ctrl      *Controller
	manifests *fakeManifests
	segments  *fakeSegments
	sink      *memsink.Sink
	playhead  *fakePlayhead
}

func newHarness(t *testing.T, cfg Config, manifests *fakeManifests, sinkOpts ...memsink.Option) *harness {
	t.Helper()

	h := &harness{
		manifests: manifests,
		segments:  newFakeSegments(),
		sink:      memsink.New(append([]memsink.Option{memsink.WithProber(timelineProber)}, sinkOpts...)...),
		playhead:  &fakePlayhead{},
	}

	ctrl, err := New(cfg, h.manifests, h.segments, h.sink, h.playhead, createTestLogger())
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	t.Cleanup(ctrl.Dispose)
	h.ctrl = ctrl
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// failingWriter fails every write after the first n.
type failingWriter struct {
	mu sync.Mutex
	n  int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.n == 0 {
		return 0, errors.New("disk full")
	}
	w.n--
	return len(p), nil
}

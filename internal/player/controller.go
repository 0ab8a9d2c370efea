// Package player implements the playback controller: it selects a variant,
// keeps a lookahead window of segments appended to the media sink in
// sequence order, follows live playlists and reacts to playback stalls.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/agleyzer/hlsplay/internal/abr"
	"github.com/agleyzer/hlsplay/internal/buffer"
	"github.com/agleyzer/hlsplay/internal/loader"
	"github.com/agleyzer/hlsplay/internal/manifest"
	"github.com/agleyzer/hlsplay/internal/segment"
	"github.com/agleyzer/hlsplay/internal/variant"
)

var (
	// ErrDisposed is returned by every operation after Dispose.
	ErrDisposed = errors.New("player: disposed")
	// ErrInvalidLevel is returned for a quality level outside the stream.
	ErrInvalidLevel = errors.New("player: invalid quality level")
	// ErrNotLoaded is returned before a stream has been loaded.
	ErrNotLoaded = errors.New("player: no stream loaded")
	// ErrAlreadyLoaded is returned by a second LoadStream.
	ErrAlreadyLoaded = errors.New("player: stream already loaded")
)

// ManifestLoader fetches and parses playlists.
type ManifestLoader interface {
	LoadStream(ctx context.Context, url string) (*loader.Stream, error)
	LoadMedia(ctx context.Context, url string) (*manifest.Media, error)
}

// SegmentLoader fetches media and initialization segments.
type SegmentLoader interface {
	LoadSegment(ctx context.Context, uri string, sequence int64, duration float64, opts loader.SegmentOptions) (*segment.Sample, error)
}

// initLoader fetches initialization segments with the same timeout and
// retries as media segments.
type initLoader struct {
	segments SegmentLoader
	opts     loader.SegmentOptions
}

func (l initLoader) LoadInit(ctx context.Context, uri string) ([]byte, error) {
	sample, err := l.segments.LoadSegment(ctx, uri, -1, 0, l.opts)
	if err != nil {
		return nil, err
	}
	return sample.Data, nil
}

// Playhead is the presentation position driven by whoever renders the media.
type Playhead interface {
	CurrentTime() float64
	Seek(t float64)
}

// Controller plays one stream into a sink.
type Controller struct {
	cfg       Config
	manifests ManifestLoader
	segments  SegmentLoader
	sink      buffer.Sink
	playhead  Playhead
	base      *slog.Logger
	estimator *abr.Estimator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	kickCh chan struct{}

	disposeOnce sync.Once
	doneOnce    sync.Once
	done        chan struct{}

	mu         sync.Mutex
	logger     *slog.Logger
	state      State
	session    string
	url        string
	variants   []variant.Variant
	bandwidths []int
	levels     []variant.QualityLevel
	active     int
	auto       bool
	switching  bool
	target     int
	media      *manifest.Media
	adapter    *buffer.Adapter
	queue      appendQueue
	// lastAppended is the sequence of the last segment appended to the sink.
	lastAppended int64
	// generation changes whenever the media playlist is replaced by a
	// level switch; results tagged with an older generation are dropped.
	generation uint64
	ended      bool
	fatal      error
	counters   counters
}

type counters struct {
	segmentsAppended int
	bytesDownloaded  int64
	refreshes        int
	switches         int
	evictions        int
}

// New creates a controller. sink must stay exclusively owned by the
// controller until Dispose.
func New(cfg Config, manifests ManifestLoader, segments SegmentLoader, sink buffer.Sink, playhead Playhead, logger *slog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid player config: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:          cfg,
		manifests:    manifests,
		segments:     segments,
		sink:         sink,
		playhead:     playhead,
		base:         logger,
		logger:       logger,
		estimator:    abr.NewEstimator(cfg.BandwidthSampleWindow, float64(cfg.PreferredBitrate)),
		ctx:          ctx,
		cancel:       cancel,
		kickCh:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		state:        StateIdle,
		auto:         true,
		lastAppended: -1,
	}, nil
}

// LoadStream loads the playlist at url, selects the initial level, opens the
// sink and buffers the first segments. Load failures are returned; once it
// succeeds, buffering and live refresh continue in the background until
// Dispose or a fatal sink error.
func (c *Controller) LoadStream(ctx context.Context, url string) error {
	c.mu.Lock()
	switch c.state {
	case StateDisposed:
		c.mu.Unlock()
		return ErrDisposed
	case StateIdle:
	default:
		c.mu.Unlock()
		return ErrAlreadyLoaded
	}
	c.session = uuid.NewString()
	c.logger = c.base.With("session", c.session)
	c.url = url
	c.state = StateLoadingManifest
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(c.ctx, stop)()

	err := c.load(ctx, url)
	if err != nil {
		c.mu.Lock()
		adapter := c.adapter
		c.adapter = nil
		if c.state != StateDisposed {
			c.state = StateIdle
		}
		c.mu.Unlock()
		if adapter != nil {
			adapter.Release()
		}
		if c.ctx.Err() != nil {
			return ErrDisposed
		}
		return err
	}
	return nil
}

func (c *Controller) load(ctx context.Context, url string) error {
	logger := c.log()
	logger.Info("loading stream", "url", url)

	stream, err := c.manifests.LoadStream(ctx, url)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	c.setState(StateSelectingVariant)
	sorted := variant.SortByBandwidth(stream.Master.Variants)
	bandwidths := make([]int, len(sorted))
	for i, v := range sorted {
		bandwidths[i] = v.Bandwidth
	}
	index := abr.Select(bandwidths, c.estimator.Estimate(), c.cfg.BandwidthSafetyFactor)
	selected := sorted[index]

	media := stream.Media
	if media == nil {
		media, err = c.manifests.LoadMedia(ctx, selected.PlaylistURL)
		if err != nil {
			return fmt.Errorf("load media playlist: %w", err)
		}
	}
	logger.Info("variant selected",
		"level", index,
		"bandwidth", selected.Bandwidth,
		"resolution", selected.Resolution,
		"live", media.Live(),
		"segments", len(media.Segments),
	)

	c.setState(StateInitializingSink)
	adapter, err := c.openAdapter(ctx, media, selected)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		adapter.Release()
		return ErrDisposed
	}
	c.variants = sorted
	c.bandwidths = bandwidths
	c.levels = variant.Levels(sorted)
	c.active = index
	c.media = media
	c.adapter = adapter
	c.lastAppended = startCursor(media, 0, c.cfg.LiveSegmentBuffer)
	c.generation++
	c.state = StateBuffering
	c.mu.Unlock()

	if err := c.pass(ctx, true); err != nil {
		return fmt.Errorf("initial buffering: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisposed {
		return ErrDisposed
	}
	c.state = StatePlaying
	c.wg.Add(1)
	go c.run(c.ctx)
	if c.media.Live() {
		c.wg.Add(1)
		go c.refreshLoop(c.ctx)
	}
	c.kick()

	logger.Info("stream loaded", "lastSequence", c.lastAppended)
	return nil
}

func (c *Controller) openAdapter(ctx context.Context, media *manifest.Media, v variant.Variant) (*buffer.Adapter, error) {
	mimeType := buffer.MimeType(media.ContainerFormat, v.Codecs)
	initURI := ""
	if media.Init != nil {
		initURI = media.Init.URI
	}
	inits := initLoader{segments: c.segments, opts: c.cfg.segmentOptions()}
	adapter, err := buffer.Open(ctx, c.sink, mimeType, media.ContainerFormat, initURI, inits, c.log())
	if err != nil {
		return nil, fmt.Errorf("initialize sink: %w", err)
	}
	return adapter, nil
}

// SetQualityLevel pins the level at index, or re-enables automatic selection
// with variant.AutoLevel. Switching happens in the background.
func (c *Controller) SetQualityLevel(level int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadedLocked(); err != nil {
		return err
	}
	if level < variant.AutoLevel || level >= len(c.variants) {
		return fmt.Errorf("%w: %d (have %d levels)", ErrInvalidLevel, level, len(c.variants))
	}

	if level == variant.AutoLevel {
		c.auto = true
		level = abr.Select(c.bandwidths, c.estimator.Estimate(), c.cfg.BandwidthSafetyFactor)
	} else {
		c.auto = false
	}
	c.logger.Info("quality level set", "level", level, "auto", c.auto)

	if level != c.active || (c.switching && level != c.target) {
		c.switching = true
		c.target = level
		c.kick()
	}
	return nil
}

// GetQualityLevels returns the stream's levels, lowest bandwidth first.
func (c *Controller) GetQualityLevels() []variant.QualityLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]variant.QualityLevel(nil), c.levels...)
}

// GetCurrentLevel returns the index of the level being buffered, or
// variant.AutoLevel before a stream is loaded.
func (c *Controller) GetCurrentLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.levels == nil {
		return variant.AutoLevel
	}
	return c.active
}

// AutoLevelEnabled reports whether the level follows the bandwidth estimate.
func (c *Controller) AutoLevelEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auto
}

// HandleStall reports that playback is waiting for data. A buffering pass
// runs right away.
func (c *Controller) HandleStall() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadedLocked(); err != nil {
		return err
	}
	if c.state == StatePlaying {
		c.state = StateBuffering
	}
	c.logger.Debug("playback stalled", "lastSequence", c.lastAppended)
	c.kick()
	return nil
}

// Wait blocks until playback stops. It returns the fatal error that aborted
// playback, or nil after Dispose.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// Dispose stops buffering and live refresh, signals end of stream if the
// sink is still open and releases the source buffer. It is safe to call
// more than once and from any state.
func (c *Controller) Dispose() {
	c.disposeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateDisposed
		c.mu.Unlock()

		c.cancel()
		c.wg.Wait()

		c.mu.Lock()
		adapter := c.adapter
		c.adapter = nil
		c.queue.clear()
		c.lastAppended = -1
		c.switching = false
		logger := c.logger
		c.mu.Unlock()

		if adapter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
			if err := adapter.EndOfStream(ctx); err != nil {
				logger.Warn("end of stream failed", "error", err)
			}
			cancel()
			if err := adapter.Release(); err != nil {
				logger.Warn("release source buffer failed", "error", err)
			}
		}

		logger.Info("player disposed")
		c.finish()
	})
}

// fail aborts playback with a fatal error.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	if c.fatal == nil {
		c.fatal = err
	}
	logger := c.logger
	c.mu.Unlock()

	logger.Error("playback aborted", "error", err)
	c.cancel()
	c.finish()
}

func (c *Controller) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Controller) kick() {
	select {
	case c.kickCh <- struct{}{}:
	default:
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDisposed {
		c.state = s
	}
}

func (c *Controller) log() *slog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// loadedLocked reports why the controller cannot act on a stream. Caller
// must hold mu.
func (c *Controller) loadedLocked() error {
	switch {
	case c.state == StateDisposed:
		return ErrDisposed
	case c.adapter == nil || c.media == nil:
		return ErrNotLoaded
	}
	return nil
}

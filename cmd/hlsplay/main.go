// The hlsplay command plays an HLS stream headlessly: it buffers adaptive
// media into an in-process sink and reports what the player is doing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agleyzer/hlsplay/internal/buffer/memsink"
	"github.com/agleyzer/hlsplay/internal/fetch"
	"github.com/agleyzer/hlsplay/internal/loader"
	"github.com/agleyzer/hlsplay/internal/player"
	"github.com/agleyzer/hlsplay/internal/server"
	"github.com/agleyzer/hlsplay/internal/testorigin"
	"github.com/agleyzer/hlsplay/internal/variant"
)

const (
	version = "1.0.0"

	// tickInterval is how often the simulated playhead moves.
	tickInterval = 250 * time.Millisecond
)

// errPlaybackComplete stops the run once a finished stream has been played.
var errPlaybackComplete = errors.New("playback complete")

// options holds everything run needs besides the logger.
type options struct {
	url          string
	level        int
	duration     time.Duration
	output       string
	statusPort   int
	http3        bool
	maxRPS       int
	timeout      time.Duration
	userAgent    string
	sinkCapacity int
	demo         bool
	player       player.Config
}

func main() {
	defaults := player.DefaultConfig()

	// Parse command-line flags
	var (
		level         = flag.Int("level", variant.AutoLevel, "Quality level index, -1 for automatic selection")
		duration      = flag.Duration("duration", 0, "Stop after this long (e.g., '30s', '5m'). Plays until the end or a signal if not set")
		output        = flag.String("output", "", "Write every appended media byte to this file")
		statusPort    = flag.Int("status-port", 0, "Serve /health and /stats on this port. Disabled if 0")
		useHTTP3      = flag.Bool("http3", false, "Fetch over HTTP/3")
		maxRPS        = flag.Int("max-rps", 0, "Maximum requests per second to the origin. Unlimited if 0")
		timeout       = flag.Duration("timeout", 30*time.Second, "Timeout for a single HTTP request")
		userAgent     = flag.String("user-agent", "hlsplay/"+version, "User-Agent header sent to the origin")
		sinkCapacity  = flag.Int("sink-capacity", 0, "Bytes the sink holds before appends fail. Unlimited if 0")
		initialBuffer = flag.Int("initial-buffer", defaults.InitialBufferSize, "Segments to buffer before playback starts")
		maxBuffer     = flag.Float64("max-buffer", defaults.MaxBufferSize, "Seconds to buffer ahead of the playhead")
		preferred     = flag.Int("preferred-bitrate", defaults.PreferredBitrate, "Bandwidth estimate in bits per second to use before the first download")
		maxLatency    = flag.Float64("live-max-latency", defaults.LiveMaxLatency, "Seconds the playhead may fall behind the live edge")
		liveRefresh   = flag.Duration("live-refresh", defaults.LiveRefreshInterval, "Live playlist refresh interval")
		liveSegments  = flag.Int("live-segment-buffer", defaults.LiveSegmentBuffer, "Segments behind the live edge to start from")
		segTimeout    = flag.Duration("segment-timeout", defaults.SegmentTimeout, "Timeout for one segment download attempt")
		segRetries    = flag.Int("segment-retries", defaults.SegmentRetryCount, "Attempts per segment")
		segRetryDelay = flag.Duration("segment-retry-delay", defaults.SegmentRetryDelay, "Delay between segment attempts")
		demo          = flag.Bool("demo", false, "Play a generated live stream from a local origin instead of a URL")
		verbose       = flag.Bool("verbose", false, "Enable verbose logging")
		showVersion   = flag.Bool("version", false, "Show version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "hlsplay - headless adaptive HLS player v%s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <playlist-url>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Arguments:\n")
		fmt.Fprintf(os.Stderr, "  <playlist-url>    URL of the master or media playlist\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s https://example.com/master.m3u8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --level 0 --duration 1m https://example.com/master.m3u8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --status-port 8080 --output out.ts https://example.com/live.m3u8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --demo --verbose\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("hlsplay v%s\n", version)
		os.Exit(0)
	}

	opts := options{
		level:        *level,
		duration:     *duration,
		output:       *output,
		statusPort:   *statusPort,
		http3:        *useHTTP3,
		maxRPS:       *maxRPS,
		timeout:      *timeout,
		userAgent:    *userAgent,
		sinkCapacity: *sinkCapacity,
		demo:         *demo,
		player: player.Config{
			InitialBufferSize:     *initialBuffer,
			MaxBufferSize:         *maxBuffer,
			PreferredBitrate:      *preferred,
			LiveMaxLatency:        *maxLatency,
			LiveRefreshInterval:   *liveRefresh,
			LiveSegmentBuffer:     *liveSegments,
			LiveRetentionWindow:   defaults.LiveRetentionWindow,
			BandwidthSafetyFactor: defaults.BandwidthSafetyFactor,
			BandwidthSampleWindow: defaults.BandwidthSampleWindow,
			SegmentTimeout:        *segTimeout,
			SegmentRetryCount:     *segRetries,
			SegmentRetryDelay:     *segRetryDelay,
		},
	}

	// Check for playlist URL argument
	if flag.NArg() >= 1 {
		opts.url = flag.Arg(0)
	}
	if err := opts.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	// Setup logger
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	logger.Info("hlsplay starting", "version", version)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("application error", "error", err)
		os.Exit(1)
	}

	logger.Info("hlsplay stopped")
}

// validate checks flag values that the player config does not cover.
func (o *options) validate() error {
	if o.url == "" && !o.demo {
		return errors.New("playlist URL is required")
	}
	if o.url != "" && o.demo {
		return errors.New("--demo does not take a playlist URL")
	}
	if o.level < variant.AutoLevel {
		return fmt.Errorf("level must be -1 or a level index, got %d", o.level)
	}
	if o.statusPort < 0 || o.statusPort > 65535 {
		return errors.New("status port must be between 0 and 65535")
	}
	if o.maxRPS < 0 {
		return errors.New("max-rps cannot be negative")
	}
	if o.sinkCapacity < 0 {
		return errors.New("sink capacity cannot be negative")
	}
	if o.duration < 0 {
		return errors.New("duration cannot be negative")
	}
	return o.player.Validate()
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	var cancel context.CancelFunc
	if opts.duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	url := opts.url
	if opts.demo {
		demoURL, err := startDemoOrigin(gctx, g, logger)
		if err != nil {
			return err
		}
		url = demoURL
	}

	client := fetch.New(fetch.Options{
		Timeout:           opts.timeout,
		RequestsPerSecond: opts.maxRPS,
		HTTP3:             opts.http3,
		UserAgent:         opts.userAgent,
	})
	defer client.Close()

	sinkOpts := []memsink.Option{memsink.WithLogger(logger.With("component", "sink"))}
	if opts.sinkCapacity > 0 {
		sinkOpts = append(sinkOpts, memsink.WithCapacity(opts.sinkCapacity))
	}
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		sinkOpts = append(sinkOpts, memsink.WithOutput(f))
	}
	sink := memsink.New(sinkOpts...)

	playhead := &simPlayhead{}
	ctrl, err := player.New(
		opts.player,
		loader.NewManifests(client, logger.With("component", "manifest")),
		loader.NewSegments(client, loader.DefaultSegmentOptions(), logger.With("component", "segment")),
		sink,
		playhead,
		logger,
	)
	if err != nil {
		return err
	}
	defer ctrl.Dispose()

	if err := ctrl.LoadStream(gctx, url); err != nil {
		cancel()
		g.Wait()
		return fmt.Errorf("failed to load stream: %w", err)
	}

	for i, l := range ctrl.GetQualityLevels() {
		logger.Info("quality level",
			"index", i,
			"bandwidth", l.Bandwidth,
			"resolution", l.Resolution,
			"codecs", l.Codecs,
		)
	}
	if opts.level != variant.AutoLevel {
		if err := ctrl.SetQualityLevel(opts.level); err != nil {
			cancel()
			g.Wait()
			return fmt.Errorf("failed to set level %d: %w", opts.level, err)
		}
	}

	g.Go(func() error {
		return play(gctx, ctrl, playhead, tickInterval, logger)
	})

	g.Go(func() error {
		err := ctrl.Wait(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	if opts.statusPort > 0 {
		srv := server.New(ctrl, opts.statusPort, logger.With("component", "server"))
		logger.Info("status endpoints ready",
			"health", fmt.Sprintf("http://localhost:%d/health", opts.statusPort),
			"stats", fmt.Sprintf("http://localhost:%d/stats", opts.statusPort),
		)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	err = g.Wait()
	logStats(logger, ctrl.Stats())
	ctrl.Dispose()

	switch {
	case errors.Is(err, errPlaybackComplete):
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	}
	return err
}

// play drives playhead in wall-clock time and reports stalls and position
// changes to the controller. It returns errPlaybackComplete once an ended
// stream has been played to its buffered end.
func play(ctx context.Context, ctrl *player.Controller, playhead *simPlayhead, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			stats := ctrl.Stats()
			stalled, resumed := playhead.advance(stats.Buffered, dt)
			if stats.Ended && playhead.remaining(stats.Buffered) <= 0 {
				logger.Info("reached end of stream", "position", playhead.CurrentTime())
				return errPlaybackComplete
			}

			switch {
			case stalled:
				logger.Warn("playback stalled", "position", playhead.CurrentTime())
				if err := ctrl.HandleStall(); err != nil {
					return stopError(err)
				}
			case resumed:
				logger.Info("playback resumed", "position", playhead.CurrentTime())
			}

			if err := ctrl.HandleTimeUpdate(ctx); err != nil {
				if shuttingDown(err) {
					return nil
				}
				logger.Warn("time update failed", "error", err)
			}
		}
	}
}

// shuttingDown reports whether err only means the controller is stopping.
func shuttingDown(err error) bool {
	return errors.Is(err, player.ErrDisposed) || errors.Is(err, context.Canceled)
}

func stopError(err error) error {
	if shuttingDown(err) {
		return nil
	}
	return err
}

// startDemoOrigin serves a generated three-level live stream on a loopback
// port and returns its master playlist URL.
func startDemoOrigin(ctx context.Context, g *errgroup.Group, logger *slog.Logger) (string, error) {
	origin, err := testorigin.New(testorigin.Options{
		Renditions: []testorigin.Rendition{
			{Bandwidth: 400000, Resolution: "426x240", Codecs: "avc1.42e00a"},
			{Bandwidth: 1200000, Resolution: "854x480", Codecs: "avc1.4d401e"},
			{Bandwidth: 3000000, Resolution: "1280x720", Codecs: "avc1.4d401f"},
		},
		Segments:        6,
		SegmentDuration: 2,
		Window:          6,
	}, logger.With("component", "origin"))
	if err != nil {
		return "", fmt.Errorf("failed to create demo origin: %w", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to listen for demo origin: %w", err)
	}
	srv := &http.Server{Handler: origin}

	g.Go(func() error {
		origin.StartAutoAdvance(ctx)
		return nil
	})
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("demo origin: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	url := fmt.Sprintf("http://%s/master.m3u8", ln.Addr())
	logger.Info("demo origin ready", "url", url)
	return url, nil
}

func logStats(logger *slog.Logger, s player.Stats) {
	logger.Info("playback summary",
		"session", s.Session,
		"state", s.State,
		"level", s.Level,
		"lastSequence", s.LastSequence,
		"segmentsAppended", s.SegmentsAppended,
		"bytesDownloaded", s.BytesDownloaded,
		"refreshes", s.Refreshes,
		"switches", s.Switches,
		"evictions", s.Evictions,
		"ended", s.Ended,
	)
}

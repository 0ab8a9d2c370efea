// Package integration provides integration testing utilities for hlsplay.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/agleyzer/hlsplay/internal/buffer/memsink"
	"github.com/agleyzer/hlsplay/internal/fetch"
	"github.com/agleyzer/hlsplay/internal/loader"
	"github.com/agleyzer/hlsplay/internal/player"
	"github.com/agleyzer/hlsplay/internal/server"
	"github.com/agleyzer/hlsplay/internal/testorigin"
)

// TestHarness runs a generated origin and a player fetching from it over
// real HTTP, with the player's status endpoints on a second port.
type TestHarness struct {
	t          *testing.T
	logger     *slog.Logger
	origin     *testorigin.Origin
	httpServer *http.Server
	httpPort   int
	statusPort int
	client     *fetch.Client
	sink       *memsink.Sink
	playhead   *Playhead
	controller *player.Controller
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewTestHarness creates a new test harness.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	return &TestHarness{
		t: t,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		})),
		httpPort:   findAvailablePort(t),
		statusPort: findAvailablePort(t),
		playhead:   &Playhead{},
	}
}

// StartOrigin serves a generated stream on the harness HTTP port.
func (h *TestHarness) StartOrigin(opts testorigin.Options) *testorigin.Origin {
	h.t.Helper()

	origin, err := testorigin.New(opts, h.logger)
	if err != nil {
		h.t.Fatalf("failed to create origin: %v", err)
	}
	h.origin = origin

	h.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", h.httpPort),
		Handler: origin,
	}

	// Start server in goroutine
	go func() {
		if err := h.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.t.Logf("HTTP server error: %v", err)
		}
	}()

	h.waitForServer(h.MasterURL(), 5*time.Second)
	h.t.Logf("origin started on port %d", h.httpPort)
	return origin
}

// MasterURL returns the origin's master playlist URL.
func (h *TestHarness) MasterURL() string {
	return fmt.Sprintf("http://localhost:%d/master.m3u8", h.httpPort)
}

// StartPlayer creates a controller over the real fetch stack, loads the
// origin's master playlist and serves the status endpoints.
func (h *TestHarness) StartPlayer(cfg player.Config, sinkOpts ...memsink.Option) *player.Controller {
	h.t.Helper()

	h.client = fetch.New(fetch.Options{Timeout: 5 * time.Second})
	h.sink = memsink.New(append([]memsink.Option{memsink.WithLogger(h.logger)}, sinkOpts...)...)

	ctrl, err := player.New(
		cfg,
		loader.NewManifests(h.client, h.logger),
		loader.NewSegments(h.client, loader.DefaultSegmentOptions(), h.logger),
		h.sink,
		h.playhead,
		h.logger,
	)
	if err != nil {
		h.t.Fatalf("failed to create controller: %v", err)
	}
	h.controller = ctrl

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})

	srv := server.New(ctrl, h.statusPort, h.logger)
	go func() {
		defer close(h.done)
		if err := srv.Start(ctx); err != nil {
			h.t.Logf("status server error: %v", err)
		}
	}()
	h.waitForServer(fmt.Sprintf("http://localhost:%d/health", h.statusPort), 5*time.Second)

	loadCtx, loadCancel := context.WithTimeout(ctx, 10*time.Second)
	defer loadCancel()
	if err := ctrl.LoadStream(loadCtx, h.MasterURL()); err != nil {
		h.t.Fatalf("failed to load stream: %v", err)
	}
	return ctrl
}

// Sink returns the player's sink.
func (h *TestHarness) Sink() *memsink.Sink {
	return h.sink
}

// Playhead returns the position the player reads.
func (h *TestHarness) Playhead() *Playhead {
	return h.playhead
}

// FetchStats fetches and decodes the /stats endpoint.
func (h *TestHarness) FetchStats() player.Stats {
	h.t.Helper()

	var stats player.Stats
	body, status := h.get(fmt.Sprintf("http://localhost:%d/stats", h.statusPort))
	if status != http.StatusOK {
		h.t.Fatalf("unexpected status code: %d", status)
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		h.t.Fatalf("failed to decode stats: %v", err)
	}
	return stats
}

// FetchHealth fetches the /health endpoint and returns the decoded body and
// status code.
func (h *TestHarness) FetchHealth() (map[string]interface{}, int) {
	h.t.Helper()

	body, status := h.get(fmt.Sprintf("http://localhost:%d/health", h.statusPort))
	var health map[string]interface{}
	if err := json.Unmarshal(body, &health); err != nil {
		h.t.Fatalf("failed to decode health: %v", err)
	}
	return health, status
}

func (h *TestHarness) get(url string) ([]byte, int) {
	h.t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		h.t.Fatalf("failed to fetch %s: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("failed to read body of %s: %v", url, err)
	}
	return body, resp.StatusCode
}

// Cleanup stops all running services.
func (h *TestHarness) Cleanup() {
	h.t.Helper()

	// Stop the player before its origin
	if h.controller != nil {
		h.controller.Dispose()
	}
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
	if h.client != nil {
		h.client.Close()
	}

	// Stop HTTP server
	if h.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.httpServer.Shutdown(ctx)
	}
}

// waitForServer waits for a server to become available.
func (h *TestHarness) waitForServer(url string, timeout time.Duration) {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	h.t.Fatalf("server at %s did not become available within %v", url, timeout)
}

// findAvailablePort finds an available TCP port.
func findAvailablePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

// WaitForCondition polls until a condition is met or timeout occurs.
func (h *TestHarness) WaitForCondition(condition func() bool, timeout time.Duration, description string) {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for !condition() {
		<-ticker.C
		if time.Now().After(deadline) {
			h.t.Fatalf("timeout waiting for condition: %s", description)
		}
	}
}

// Playhead is a playback position that only moves when told to.
type Playhead struct {
	mu       sync.Mutex
	position float64
	seeks    []float64
}

// CurrentTime implements player.Playhead.
func (p *Playhead) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Seek implements player.Playhead.
func (p *Playhead) Seek(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = t
	p.seeks = append(p.seeks, t)
}

// Set moves the position without recording a seek.
func (p *Playhead) Set(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = t
}

// Seeks returns every position the player seeked to.
func (p *Playhead) Seeks() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.seeks...)
}

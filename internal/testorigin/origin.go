// Package testorigin is an in-process HLS origin for tests and local runs.
// It serves a master playlist, one media playlist per rendition and
// MPEG-TS segment bodies whose timestamps match their place on the timeline.
// Live origins slide a fixed window forward one segment at a time.
package testorigin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Rendition is one variant stream served by the origin.
type Rendition struct {
	Bandwidth  int
	Resolution string
	Codecs     string
}

// Options configures an Origin.
type Options struct {
	// Renditions are listed in the master playlist in this order.
	Renditions []Rendition
	// Segments is the VOD length, or the number of segments a live origin
	// publishes before it keeps growing.
	Segments int
	// SegmentDuration is the duration of every segment in seconds.
	SegmentDuration float64
	// Window is the live window size. Zero serves a VOD playlist.
	Window int
	// Throughput, in bits per second, paces segment responses. Zero is
	// unlimited.
	Throughput int
}

// Origin generates playlists and segments. It implements http.Handler.
type Origin struct {
	mu       sync.RWMutex
	opts     Options
	head     int64
	failures map[string]failure
	requests map[string]int
	logger   *slog.Logger
}

type failure struct {
	status int
	count  int
}

// New creates an origin.
func New(opts Options, logger *slog.Logger) (*Origin, error) {
	if len(opts.Renditions) == 0 {
		return nil, fmt.Errorf("cannot create origin with zero renditions")
	}

	if opts.Segments <= 0 {
		return nil, fmt.Errorf("segment count must be positive")
	}

	if opts.SegmentDuration <= 0 {
		return nil, fmt.Errorf("segment duration must be positive")
	}

	if opts.Window < 0 {
		return nil, fmt.Errorf("window size must not be negative")
	}

	if opts.Window > opts.Segments {
		logger.Warn("window size larger than segment count, using all segments", "window", opts.Window)
		opts.Window = opts.Segments
	}

	return &Origin{
		opts:     opts,
		failures: make(map[string]failure),
		requests: make(map[string]int),
		logger:   logger,
	}, nil
}

// Live reports whether the origin serves a sliding window.
func (o *Origin) Live() bool {
	return o.opts.Window > 0
}

// GenerateMaster creates the master playlist.
func (o *Origin) GenerateMaster() string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	for i, r := range o.opts.Renditions {
		b.WriteString("#EXT-X-STREAM-INF:")
		b.WriteString(fmt.Sprintf("BANDWIDTH=%d", r.Bandwidth))

		if r.Resolution != "" {
			b.WriteString(fmt.Sprintf(",RESOLUTION=%s", r.Resolution))
		}

		if r.Codecs != "" {
			b.WriteString(fmt.Sprintf(",CODECS=\"%s\"", r.Codecs))
		}

		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("variant%d/playlist.m3u8\n", i))
	}

	return b.String()
}

// GenerateVariant creates the media playlist of rendition index.
func (o *Origin) GenerateVariant(index int) (string, error) {
	if index < 0 || index >= len(o.opts.Renditions) {
		return "", fmt.Errorf("variant index %d out of range (0-%d)", index, len(o.opts.Renditions)-1)
	}

	first, last := o.window()

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", o.targetDuration()))
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", first))
	if !o.Live() {
		b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	}

	for seq := first; seq <= last; seq++ {
		b.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", o.opts.SegmentDuration))
		b.WriteString(fmt.Sprintf("seg%d.ts\n", seq))
	}

	if !o.Live() {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String(), nil
}

// window returns the first and last published sequence.
func (o *Origin) window() (first, last int64) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.Live() {
		return 0, int64(o.opts.Segments) - 1
	}
	last = o.head + int64(o.opts.Segments) - 1
	return last - int64(o.opts.Window) + 1, last
}

func (o *Origin) targetDuration() int {
	d := int(o.opts.SegmentDuration)
	if float64(d) < o.opts.SegmentDuration {
		d++
	}
	return d
}

// Advance publishes one more live segment and drops the oldest one from the
// window.
func (o *Origin) Advance() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.head++

	o.logger.Debug("advanced window",
		"head", o.head,
		"lastSequence", o.head+int64(o.opts.Segments)-1,
	)
}

// StartAutoAdvance advances the live window every segment duration until
// ctx is done.
func (o *Origin) StartAutoAdvance(ctx context.Context) {
	interval := time.Duration(o.opts.SegmentDuration * float64(time.Second))

	o.logger.Info("starting auto-advance",
		"interval", interval,
		"window", o.opts.Window,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("stopping auto-advance")
			return
		case <-ticker.C:
			o.Advance()
		}
	}
}

// FailNext makes the next count requests for path answer with status.
func (o *Origin) FailNext(path string, count, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[path] = failure{status: status, count: count}
}

// Requests returns how many times path was requested.
func (o *Origin) Requests(path string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.requests[path]
}

// GetStats returns current statistics about the origin.
func (o *Origin) GetStats() map[string]interface{} {
	first, last := o.window()

	return map[string]interface{}{
		"live":             o.Live(),
		"window_size":      o.opts.Window,
		"first_sequence":   first,
		"last_sequence":    last,
		"segment_duration": o.opts.SegmentDuration,
		"variant_count":    len(o.opts.Renditions),
	}
}

// ServeHTTP serves /master.m3u8, /variant{i}/playlist.m3u8 and
// /variant{i}/seg{n}.ts.
func (o *Origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if status, failed := o.record(path); failed {
		http.Error(w, http.StatusText(status), status)
		return
	}

	if path == "/master.m3u8" {
		o.writePlaylist(w, o.GenerateMaster())
		return
	}

	index, file, ok := splitVariantPath(path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case file == "playlist.m3u8":
		content, err := o.GenerateVariant(index)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		o.writePlaylist(w, content)

	case strings.HasPrefix(file, "seg") && strings.HasSuffix(file, ".ts"):
		seq, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(file, "seg"), ".ts"), 10, 64)
		if err != nil || index >= len(o.opts.Renditions) {
			http.NotFound(w, r)
			return
		}
		o.serveSegment(w, r, index, seq)

	default:
		http.NotFound(w, r)
	}
}

func (o *Origin) record(path string) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.requests[path]++
	f, ok := o.failures[path]
	if !ok || f.count == 0 {
		return 0, false
	}
	f.count--
	o.failures[path] = f
	return f.status, true
}

func (o *Origin) writePlaylist(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content))
}

func (o *Origin) serveSegment(w http.ResponseWriter, r *http.Request, index int, seq int64) {
	if first, last := o.window(); seq < first || seq > last {
		// Not published yet, or already rolled out of the window.
		http.NotFound(w, r)
		return
	}

	start := float64(seq) * o.opts.SegmentDuration
	body, err := Segment(start, o.opts.SegmentDuration, o.opts.Renditions[index].Bandwidth)
	if err != nil {
		o.logger.Error("failed to generate segment", "sequence", seq, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if o.opts.Throughput > 0 {
		delay := time.Duration(float64(len(body)*8) / float64(o.opts.Throughput) * float64(time.Second))
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// splitVariantPath parses /variant{i}/{file}.
func splitVariantPath(path string) (int, string, bool) {
	rest, ok := strings.CutPrefix(path, "/variant")
	if !ok {
		return 0, "", false
	}
	num, file, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, "", false
	}
	index, err := strconv.Atoi(num)
	if err != nil || index < 0 {
		return 0, "", false
	}
	return index, file, true
}

package player

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/agleyzer/hlsplay/internal/abr"
	"github.com/agleyzer/hlsplay/internal/buffer"
	"github.com/agleyzer/hlsplay/internal/manifest"
	"github.com/agleyzer/hlsplay/internal/segment"
)

// run executes buffering passes one at a time whenever the controller is
// kicked.
func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kickCh:
		}

		if err := c.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if isFatal(err) {
				c.fail(err)
				return
			}
			c.log().Error("buffering pass failed", "error", err)
		}
	}
}

// cycle performs any pending level switch, then one buffering pass.
func (c *Controller) cycle(ctx context.Context) error {
	for {
		c.mu.Lock()
		switching, target := c.switching, c.target
		c.switching = false
		c.mu.Unlock()

		if !switching {
			return c.pass(ctx, false)
		}
		if err := c.reload(ctx, target); err != nil {
			return err
		}
	}
}

// isFatal reports whether err came from the sink. Quota failures never reach
// here; they are handled by eviction.
func isFatal(err error) bool {
	var sinkErr *buffer.SinkError
	return errors.As(err, &sinkErr)
}

// pass fetches the segments after the append cursor and appends them in
// order. The initial pass takes InitialBufferSize segments; later passes
// stop once MaxBufferSize seconds are buffered or queued ahead of the
// playhead, and take at most LiveSegmentBuffer segments of a live stream.
// Fetches are sequential and the pass stops at the first segment that fails
// or does not fit in the sink.
func (c *Controller) pass(ctx context.Context, initial bool) error {
	c.mu.Lock()
	gen := c.generation
	media := c.media
	adapter := c.adapter
	logger := c.logger
	if media == nil || adapter == nil {
		c.mu.Unlock()
		return nil
	}
	if media.Live() && len(media.Segments) > 0 {
		if first := media.Segments[0].Sequence; c.lastAppended+1 < first {
			logger.Warn("segments rolled off the live playlist before they were fetched",
				"expected", c.lastAppended+1,
				"first", first,
			)
			c.lastAppended = first - 1
			c.queue.dropThrough(c.lastAppended)
		}
	}
	var todo []segment.Segment
	for _, seg := range segment.After(media.Segments, c.lastAppended) {
		if !c.queue.has(seg.Sequence) {
			todo = append(todo, seg)
		}
	}
	c.mu.Unlock()

	// Samples left over from a full sink go first; nothing new is fetched
	// while they still do not fit.
	if blocked, err := c.drain(ctx, gen, adapter); err != nil || blocked {
		return err
	}
	c.mu.Lock()
	queued := c.queue.duration()
	c.mu.Unlock()

	limit, maxAhead := len(todo), math.Inf(1)
	if initial {
		limit = min(limit, c.cfg.InitialBufferSize)
	} else {
		maxAhead = c.cfg.MaxBufferSize
		if media.Live() {
			limit = min(limit, c.cfg.LiveSegmentBuffer)
		}
	}

	ahead := buffer.Ahead(adapter.Buffered(), c.playhead.CurrentTime(), aheadTolerance) + queued
	for _, seg := range todo[:limit] {
		if ahead >= maxAhead {
			break
		}

		sample, err := c.segments.LoadSegment(ctx, seg.URL, seg.Sequence, seg.Duration, c.cfg.segmentOptions())
		if err != nil {
			return err
		}
		ahead += seg.Duration

		switching, current := c.received(gen, sample)
		if !current {
			return nil
		}
		blocked, err := c.drain(ctx, gen, adapter)
		if err != nil || blocked {
			return err
		}
		if switching {
			return nil
		}
	}

	c.mu.Lock()
	if gen == c.generation && c.state == StateBuffering && ahead > 0 {
		c.state = StatePlaying
	}
	c.mu.Unlock()

	return c.endIfComplete(ctx, gen, adapter)
}

// received queues a downloaded sample and feeds the bandwidth estimate. It
// reports whether a level switch is now pending, and whether the sample
// still belongs to the current media playlist.
func (c *Controller) received(gen uint64, sample *segment.Sample) (switching, current bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.state == StateDisposed {
		c.logger.Debug("dropping stale segment", "sequence", sample.Sequence)
		return false, false
	}

	c.estimator.Add(len(sample.Data), sample.Elapsed)
	c.counters.bytesDownloaded += int64(len(sample.Data))
	c.queue.push(sample)

	if c.auto {
		estimate := c.estimator.Estimate()
		index := abr.Select(c.bandwidths, estimate, c.cfg.BandwidthSafetyFactor)
		if index != c.active && !c.switching {
			c.logger.Info("bandwidth estimate changed level",
				"from", c.active,
				"to", index,
				"estimate", int64(estimate),
			)
			c.switching = true
			c.target = index
		}
	}
	return c.switching, true
}

// drain appends queued samples while they are contiguous with the cursor.
// It reports blocked when the sink had no room for the next one, which is
// left queued.
func (c *Controller) drain(ctx context.Context, gen uint64, adapter *buffer.Adapter) (blocked bool, err error) {
	for {
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return false, nil
		}
		sample := c.queue.next(c.lastAppended)
		c.mu.Unlock()

		if sample == nil {
			return false, nil
		}

		appended, err := c.appendSample(ctx, adapter, sample)
		if err != nil {
			return false, err
		}

		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return false, nil
		}
		if !appended {
			c.queue.push(sample)
			c.mu.Unlock()
			return true, nil
		}
		c.lastAppended = sample.Sequence
		c.counters.segmentsAppended++
		if c.state == StateBuffering {
			c.state = StatePlaying
		}
		c.logger.Debug("segment appended", "sequence", sample.Sequence, "bytes", len(sample.Data))
		c.mu.Unlock()
	}
}

// appendSample appends one sample. When the sink is full, media behind the
// playhead is evicted and the append retried once; if the sink is still full
// it reports false so the sample stays queued for the next pass.
func (c *Controller) appendSample(ctx context.Context, adapter *buffer.Adapter, sample *segment.Sample) (bool, error) {
	err := adapter.Append(ctx, sample.Data)
	if err == nil {
		return true, nil
	}
	if !buffer.IsQuotaExceeded(err) {
		return false, err
	}

	logger := c.log()
	logger.Warn("buffer full, evicting played media", "sequence", sample.Sequence)
	if err := c.evict(ctx, adapter); err != nil {
		return false, err
	}

	err = adapter.Append(ctx, sample.Data)
	switch {
	case err == nil:
		return true, nil
	case buffer.IsQuotaExceeded(err):
		logger.Warn("buffer still full after eviction", "sequence", sample.Sequence)
		return false, nil
	default:
		return false, err
	}
}

// evict removes buffered media older than one target duration behind the
// playhead.
func (c *Controller) evict(ctx context.Context, adapter *buffer.Adapter) error {
	c.mu.Lock()
	targetDuration := c.media.TargetDuration
	c.mu.Unlock()

	start := buffer.Start(adapter.Buffered())
	end := c.playhead.CurrentTime() - targetDuration
	if end <= start {
		return nil
	}

	c.mu.Lock()
	c.counters.evictions++
	c.mu.Unlock()
	return adapter.Remove(ctx, start, end)
}

// endIfComplete signals end of stream once every segment of an end-listed
// playlist has been appended.
func (c *Controller) endIfComplete(ctx context.Context, gen uint64, adapter *buffer.Adapter) error {
	c.mu.Lock()
	if gen != c.generation || c.ended || c.media.Live() ||
		c.lastAppended != c.media.LastSequence() || c.queue.len() > 0 {
		c.mu.Unlock()
		return nil
	}
	c.ended = true
	logger := c.logger
	c.mu.Unlock()

	if err := adapter.EndOfStream(ctx); err != nil {
		return err
	}
	logger.Info("all segments appended, end of stream signaled")
	return nil
}

// reload switches to the level at index: the media playlist is refetched,
// queued and buffered media from the old level is discarded, the cursor is
// reset and the buffer refilled around the saved playback position.
func (c *Controller) reload(ctx context.Context, index int) error {
	c.mu.Lock()
	from := c.active
	prev, next := c.variants[from], c.variants[index]
	adapter := c.adapter
	logger := c.logger
	if next.PlaylistURL == prev.PlaylistURL {
		c.active = index
		c.mu.Unlock()
		return nil
	}
	c.state = StateBuffering
	c.mu.Unlock()

	media, err := c.manifests.LoadMedia(ctx, next.PlaylistURL)
	if err != nil {
		return fmt.Errorf("load media playlist for level %d: %w", index, err)
	}
	position := c.playhead.CurrentTime()

	c.mu.Lock()
	c.generation++
	c.active = index
	c.media = media
	c.queue.clear()
	c.lastAppended = startCursor(media, position, c.cfg.LiveSegmentBuffer)
	c.ended = false
	c.counters.switches++
	c.mu.Unlock()

	mimeType := buffer.MimeType(media.ContainerFormat, next.Codecs)
	if mimeType != adapter.MimeType() || media.ContainerFormat == manifest.FragmentedMP4 {
		// A new container or codec, or a new initialization segment, needs a
		// fresh source buffer.
		if err := adapter.Release(); err != nil {
			logger.Warn("release source buffer failed", "error", err)
		}
		adapter, err = c.openAdapter(ctx, media, next)
		if err != nil {
			return &buffer.SinkError{Op: "reinitialize", Err: err}
		}
		c.mu.Lock()
		c.adapter = adapter
		c.mu.Unlock()
	} else if err := adapter.Clear(ctx); err != nil {
		return err
	}

	logger.Info("level switched",
		"from", from,
		"to", index,
		"bandwidth", next.Bandwidth,
		"position", position,
	)

	if err := c.pass(ctx, true); err != nil {
		return err
	}

	seekTo := position
	if ranges := adapter.Buffered(); media.Live() && len(ranges) > 0 && seekTo < buffer.Start(ranges) {
		seekTo = buffer.Start(ranges)
	}
	c.playhead.Seek(seekTo)
	return nil
}

// startCursor returns the append cursor for a freshly loaded playlist: the
// sequence before the first segment to fetch. Live playback starts
// liveBuffer segments behind the edge; VOD starts at the segment covering
// position.
func startCursor(media *manifest.Media, position float64, liveBuffer int) int64 {
	segs := media.Segments
	if len(segs) == 0 {
		return media.MediaSequence - 1
	}
	if media.Live() {
		return segs[max(0, len(segs)-liveBuffer)].Sequence - 1
	}

	var t float64
	for _, seg := range segs {
		if position < t+seg.Duration {
			return seg.Sequence - 1
		}
		t += seg.Duration
	}
	return segs[len(segs)-1].Sequence - 1
}

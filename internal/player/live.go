package player

import (
	"context"
	"fmt"
	"time"

	"github.com/agleyzer/hlsplay/internal/buffer"
	"github.com/agleyzer/hlsplay/internal/manifest"
)

// refreshLoop refetches the live media playlist every LiveRefreshInterval
// until the controller stops or the playlist ends.
func (c *Controller) refreshLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.LiveRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		added, ended, err := c.refresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log().Error("live refresh failed", "error", err)
			continue
		}
		if added > 0 || ended {
			c.kick()
		}
		if ended {
			c.log().Info("live playlist ended")
			return
		}
	}
}

// refresh refetches the active media playlist and returns how many segments
// follow the previously known last sequence.
func (c *Controller) refresh(ctx context.Context) (added int, ended bool, err error) {
	c.mu.Lock()
	gen := c.generation
	url := c.variants[c.active].PlaylistURL
	c.mu.Unlock()

	media, err := c.manifests.LoadMedia(ctx, url)
	if err != nil {
		return 0, false, fmt.Errorf("refresh %s: %w", url, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.state == StateDisposed {
		return 0, false, nil
	}
	added = len(manifest.NewSegments(c.media, media))
	c.media = media
	c.counters.refreshes++
	c.logger.Debug("live playlist refreshed",
		"newSegments", added,
		"lastSequence", media.LastSequence(),
		"endList", media.EndList,
	)
	return added, media.EndList, nil
}

// HandleTimeUpdate reacts to a playback position change. For live streams
// a playhead further than LiveMaxLatency behind the buffered edge jumps to
// half that distance from it, and media older than LiveRetentionWindow
// target durations is removed. A buffering pass is requested when less
// than MaxBufferSize seconds are buffered ahead.
func (c *Controller) HandleTimeUpdate(ctx context.Context) error {
	c.mu.Lock()
	if err := c.loadedLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	live := c.media.Live()
	targetDuration := c.media.TargetDuration
	adapter := c.adapter
	logger := c.logger
	c.mu.Unlock()

	now := c.playhead.CurrentTime()
	ranges := adapter.Buffered()

	if live && len(ranges) > 0 {
		end := buffer.End(ranges)
		if end-now > c.cfg.LiveMaxLatency {
			to := end - c.cfg.LiveMaxLatency/2
			logger.Info("live latency exceeded, seeking forward",
				"position", now,
				"bufferedEnd", end,
				"seekTo", to,
			)
			c.playhead.Seek(to)
			now = to
		}

		start := buffer.Start(ranges)
		if trimTo := now - c.cfg.LiveRetentionWindow*targetDuration; trimTo > start {
			if err := adapter.Remove(ctx, start, trimTo); err != nil {
				return fmt.Errorf("trim live buffer: %w", err)
			}
			logger.Debug("trimmed live buffer", "start", start, "end", trimTo)
		}
	}

	if buffer.Ahead(ranges, now, aheadTolerance) < c.cfg.MaxBufferSize {
		c.kick()
	}
	return nil
}

package player

import (
	"fmt"
	"time"

	"github.com/agleyzer/hlsplay/internal/loader"
)

// Config holds the buffering, live and ABR settings of a Controller.
type Config struct {
	// InitialBufferSize is the number of segments fetched before LoadStream
	// returns, and after every level switch.
	InitialBufferSize int
	// MaxBufferSize is how many seconds ahead of the playhead to keep buffered.
	MaxBufferSize float64
	// PreferredBitrate stands in for the bandwidth estimate (bits per second)
	// until the first download has been measured. Zero means unbounded.
	PreferredBitrate int
	// LiveMaxLatency is the largest distance in seconds the playhead may
	// fall behind the buffered live edge before it is moved forward.
	LiveMaxLatency float64
	// LiveRefreshInterval is how often a live media playlist is refetched.
	LiveRefreshInterval time.Duration
	// LiveSegmentBuffer is how many segments behind the live edge playback
	// starts, and the most segments fetched per live buffering pass.
	LiveSegmentBuffer int
	// LiveRetentionWindow is how much media, in target durations, is kept
	// behind the playhead of a live stream.
	LiveRetentionWindow float64
	// BandwidthSafetyFactor scales the estimate before a level is chosen.
	BandwidthSafetyFactor float64
	// BandwidthSampleWindow is the number of downloads the estimate covers.
	BandwidthSampleWindow int
	// SegmentTimeout bounds a single segment fetch attempt.
	SegmentTimeout time.Duration
	// SegmentRetryCount is the number of attempts per segment.
	SegmentRetryCount int
	// SegmentRetryDelay is the pause between attempts.
	SegmentRetryDelay time.Duration
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	var c Config
	_ = c.Validate()
	return c
}

// Validate checks the configuration and fills zero values with defaults.
func (c *Config) Validate() error {
	if c.InitialBufferSize < 0 {
		return fmt.Errorf("initial buffer size must not be negative, got %d", c.InitialBufferSize)
	}
	if c.MaxBufferSize < 0 {
		return fmt.Errorf("max buffer size must not be negative, got %v", c.MaxBufferSize)
	}
	if c.PreferredBitrate < 0 {
		return fmt.Errorf("preferred bitrate must not be negative, got %d", c.PreferredBitrate)
	}
	if c.LiveMaxLatency < 0 {
		return fmt.Errorf("live max latency must not be negative, got %v", c.LiveMaxLatency)
	}
	if c.BandwidthSafetyFactor < 0 || c.BandwidthSafetyFactor > 1 {
		return fmt.Errorf("bandwidth safety factor must be within (0, 1], got %v", c.BandwidthSafetyFactor)
	}
	if c.SegmentRetryCount < 0 {
		return fmt.Errorf("segment retry count must not be negative, got %d", c.SegmentRetryCount)
	}

	// Set defaults
	if c.InitialBufferSize == 0 {
		c.InitialBufferSize = 3
	}
	if c.MaxBufferSize == 0 {
		c.MaxBufferSize = 30
	}
	if c.LiveMaxLatency == 0 {
		c.LiveMaxLatency = 30
	}
	if c.LiveRefreshInterval == 0 {
		c.LiveRefreshInterval = 2 * time.Second
	}
	if c.LiveSegmentBuffer == 0 {
		c.LiveSegmentBuffer = 3
	}
	if c.LiveRetentionWindow == 0 {
		c.LiveRetentionWindow = 3
	}
	if c.BandwidthSafetyFactor == 0 {
		c.BandwidthSafetyFactor = 0.7
	}
	if c.BandwidthSampleWindow == 0 {
		c.BandwidthSampleWindow = 5
	}
	if c.SegmentTimeout == 0 {
		c.SegmentTimeout = 10 * time.Second
	}
	if c.SegmentRetryCount == 0 {
		c.SegmentRetryCount = 3
	}
	if c.SegmentRetryDelay == 0 {
		c.SegmentRetryDelay = time.Second
	}

	return nil
}

func (c *Config) segmentOptions() loader.SegmentOptions {
	return loader.SegmentOptions{
		Timeout:    c.SegmentTimeout,
		RetryCount: c.SegmentRetryCount,
		RetryDelay: c.SegmentRetryDelay,
	}
}

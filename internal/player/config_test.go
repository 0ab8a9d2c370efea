package player

import (
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	c := DefaultConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"InitialBufferSize", c.InitialBufferSize, 3},
		{"MaxBufferSize", c.MaxBufferSize, 30.0},
		{"PreferredBitrate", c.PreferredBitrate, 0},
		{"LiveMaxLatency", c.LiveMaxLatency, 30.0},
		{"LiveRefreshInterval", c.LiveRefreshInterval, 2 * time.Second},
		{"LiveSegmentBuffer", c.LiveSegmentBuffer, 3},
		{"LiveRetentionWindow", c.LiveRetentionWindow, 3.0},
		{"BandwidthSafetyFactor", c.BandwidthSafetyFactor, 0.7},
		{"BandwidthSampleWindow", c.BandwidthSampleWindow, 5},
		{"SegmentTimeout", c.SegmentTimeout, 10 * time.Second},
		{"SegmentRetryCount", c.SegmentRetryCount, 3},
		{"SegmentRetryDelay", c.SegmentRetryDelay, time.Second},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("Expected %s %v, got %v", tt.name, tt.want, tt.got)
		}
	}
}

func TestConfig_KeepsOverrides(t *testing.T) {
	c := Config{InitialBufferSize: 5, LiveRefreshInterval: 500 * time.Millisecond, PreferredBitrate: 800000}
	if err := c.Validate(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if c.InitialBufferSize != 5 {
		t.Errorf("Expected InitialBufferSize 5, got %d", c.InitialBufferSize)
	}
	if c.LiveRefreshInterval != 500*time.Millisecond {
		t.Errorf("Expected LiveRefreshInterval 500ms, got %v", c.LiveRefreshInterval)
	}
	if c.PreferredBitrate != 800000 {
		t.Errorf("Expected PreferredBitrate 800000, got %d", c.PreferredBitrate)
	}
	if c.MaxBufferSize != 30 {
		t.Errorf("Expected default MaxBufferSize, got %v", c.MaxBufferSize)
	}
}

func TestConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative initial buffer", Config{InitialBufferSize: -1}},
		{"negative max buffer", Config{MaxBufferSize: -5}},
		{"negative bitrate", Config{PreferredBitrate: -1}},
		{"negative latency", Config{LiveMaxLatency: -1}},
		{"safety factor above one", Config{BandwidthSafetyFactor: 1.5}},
		{"negative retries", Config{SegmentRetryCount: -2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

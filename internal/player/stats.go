package player

import (
	"math"

	"github.com/agleyzer/hlsplay/internal/buffer"
	"github.com/agleyzer/hlsplay/internal/variant"
)

// Stats is a point-in-time view of a controller. BandwidthEstimate is in
// bits per second and stays 0 until a download has been measured.
type Stats struct {
	Session           string             `json:"session"`
	State             string             `json:"state"`
	URL               string             `json:"url"`
	Level             int                `json:"level"`
	AutoLevel         bool               `json:"autoLevel"`
	Bandwidth         int                `json:"bandwidth"`
	BandwidthEstimate float64            `json:"bandwidthEstimate"`
	Live              bool               `json:"live"`
	LastSequence      int64              `json:"lastSequence"`
	Queued            int                `json:"queued"`
	Buffered          []buffer.TimeRange `json:"buffered"`
	SegmentsAppended  int                `json:"segmentsAppended"`
	BytesDownloaded   int64              `json:"bytesDownloaded"`
	Refreshes         int                `json:"refreshes"`
	Switches          int                `json:"switches"`
	Evictions         int                `json:"evictions"`
	Ended             bool               `json:"ended"`
}

// Stats returns a snapshot of the controller.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		Session:          c.session,
		State:            c.state.String(),
		URL:              c.url,
		Level:            variant.AutoLevel,
		AutoLevel:        c.auto,
		LastSequence:     c.lastAppended,
		Queued:           c.queue.len(),
		SegmentsAppended: c.counters.segmentsAppended,
		BytesDownloaded:  c.counters.bytesDownloaded,
		Refreshes:        c.counters.refreshes,
		Switches:         c.counters.switches,
		Evictions:        c.counters.evictions,
		Ended:            c.ended,
	}
	if c.levels != nil {
		s.Level = c.active
		s.Bandwidth = c.variants[c.active].Bandwidth
	}
	if c.media != nil {
		s.Live = c.media.Live()
	}
	adapter := c.adapter
	c.mu.Unlock()

	if estimate := c.estimator.Estimate(); !math.IsInf(estimate, 1) {
		s.BandwidthEstimate = estimate
	}
	if adapter != nil {
		s.Buffered = adapter.Buffered()
	}
	return s
}

package memsink

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/asticode/go-astits"

	"github.com/agleyzer/hlsplay/internal/buffer"
)

// ptsHz is the MPEG-TS presentation clock rate.
const ptsHz = 90000

// Prober places appended data on the timeline.
type Prober interface {
	Probe(data []byte) (buffer.TimeRange, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(data []byte) (buffer.TimeRange, error)

// Probe implements Prober.
func (f ProberFunc) Probe(data []byte) (buffer.TimeRange, error) {
	return f(data)
}

var (
	// ErrNotTransportStream is returned for data without the TS sync byte.
	ErrNotTransportStream = errors.New("memsink: not an MPEG transport stream")
	// ErrNoTimestamps is returned for TS data without PES timestamps.
	ErrNoTimestamps = errors.New("memsink: no presentation timestamps")
)

// TSProber reads PES presentation timestamps from MPEG-TS data. The range
// spans the earliest to the latest PTS of any elementary stream, extended by
// that stream's average frame interval.
type TSProber struct{}

type pidSpan struct {
	min, max int64
	count    int
}

// Probe implements Prober.
func (TSProber) Probe(data []byte) (buffer.TimeRange, error) {
	if len(data) == 0 || data[0] != 0x47 {
		return buffer.TimeRange{}, ErrNotTransportStream
	}

	dmx := astits.NewDemuxer(context.Background(), bytes.NewReader(data))
	spans := make(map[uint16]*pidSpan)

	for {
		d, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				break
			}
			return buffer.TimeRange{}, fmt.Errorf("memsink: demux: %w", err)
		}
		if d.PES == nil || d.PES.Header == nil || d.PES.Header.OptionalHeader == nil || d.PES.Header.OptionalHeader.PTS == nil {
			continue
		}

		pts := d.PES.Header.OptionalHeader.PTS.Base
		span, ok := spans[d.PID]
		if !ok {
			spans[d.PID] = &pidSpan{min: pts, max: pts, count: 1}
			continue
		}
		span.min = min(span.min, pts)
		span.max = max(span.max, pts)
		span.count++
	}

	if len(spans) == 0 {
		return buffer.TimeRange{}, ErrNoTimestamps
	}

	first := true
	var rng buffer.TimeRange
	for _, span := range spans {
		start := float64(span.min) / ptsHz
		end := float64(span.max) / ptsHz
		if span.count > 1 {
			end += (end - start) / float64(span.count-1)
		}
		if first || start < rng.Start {
			rng.Start = start
		}
		if first || end > rng.End {
			rng.End = end
		}
		first = false
	}

	return rng, nil
}

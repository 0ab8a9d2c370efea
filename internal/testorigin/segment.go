package testorigin

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"github.com/asticode/go-astits"
)

const (
	videoPID  = 0x100
	frameRate = 25
	ptsHz     = 90000
	// maxFrameSize keeps each frame within one PES packet length.
	maxFrameSize = 60000
)

// Segment muxes an MPEG-TS segment of synthetic video frames covering
// [start, start+duration) seconds, sized to roughly bandwidth bits per
// second.
func Segment(start, duration float64, bandwidth int) ([]byte, error) {
	frames := max(1, int(math.Round(duration*frameRate)))
	frameSize := min(maxFrameSize, max(16, int(float64(bandwidth)*duration/8)/frames))

	var buf bytes.Buffer
	mx := astits.NewMuxer(context.Background(), &buf)
	if err := mx.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: videoPID,
		StreamType:    astits.StreamTypeH264Video,
	}); err != nil {
		return nil, fmt.Errorf("add elementary stream: %w", err)
	}
	mx.SetPCRPID(videoPID)

	payload := bytes.Repeat([]byte{0xa5}, frameSize)
	for i := 0; i < frames; i++ {
		pts := int64(math.Round((start + float64(i)/frameRate) * ptsHz))

		var af *astits.PacketAdaptationField
		if i == 0 {
			af = &astits.PacketAdaptationField{RandomAccessIndicator: true}
		}

		if _, err := mx.WriteData(&astits.MuxerData{
			PID:             videoPID,
			AdaptationField: af,
			PES: &astits.PESData{
				Header: &astits.PESHeader{
					OptionalHeader: &astits.PESOptionalHeader{
						MarkerBits:      2,
						PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
						PTS:             &astits.ClockReference{Base: pts},
					},
					StreamID: 0xe0,
				},
				Data: payload,
			},
		}); err != nil {
			return nil, fmt.Errorf("write frame %d: %w", i, err)
		}
	}

	return buf.Bytes(), nil
}

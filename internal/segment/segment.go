// Package segment defines data structures for HLS media segments.
package segment

import "time"

// Segment represents a single media segment listed in a media playlist.
type Segment struct {
	// URL is the absolute segment URL, resolved against the playlist URL
	URL string

	// Duration is the segment duration in seconds (from EXTINF)
	Duration float64

	// Sequence is the media sequence number: EXT-X-MEDIA-SEQUENCE plus the
	// position of the segment within the playlist
	Sequence int64
}

// Sample is a downloaded segment waiting to be appended to the media sink.
// It is transient: the append queue and the bandwidth estimator consume it.
type Sample struct {
	// Data is the raw segment body
	Data []byte

	// Sequence is copied from the Segment that was fetched
	Sequence int64

	// Duration is copied from the Segment that was fetched (seconds)
	Duration float64

	// Elapsed is the wall time of the successful download attempt
	Elapsed time.Duration
}

// Last returns the highest sequence number in segments, or -1 when empty.
func Last(segments []Segment) int64 {
	if len(segments) == 0 {
		return -1
	}
	return segments[len(segments)-1].Sequence
}

// After returns the segments whose sequence is strictly greater than seq.
// segments must be ordered by sequence.
func After(segments []Segment, seq int64) []Segment {
	for i, seg := range segments {
		if seg.Sequence > seq {
			return segments[i:]
		}
	}
	return nil
}

// TotalDuration sums the durations of the given segments in seconds.
func TotalDuration(segments []Segment) float64 {
	var total float64
	for _, seg := range segments {
		total += seg.Duration
	}
	return total
}

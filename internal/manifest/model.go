// Package manifest models HLS master and media playlists and parses them
// from their text form.
package manifest

import (
	"github.com/agleyzer/hlsplay/internal/segment"
	"github.com/agleyzer/hlsplay/internal/variant"
)

// ContainerFormat is the segment container of a media playlist.
type ContainerFormat int

const (
	// MPEGTS is an MPEG transport stream, self-initializing.
	MPEGTS ContainerFormat = iota
	// FragmentedMP4 needs an initialization segment before any media segment.
	FragmentedMP4
)

func (f ContainerFormat) String() string {
	switch f {
	case MPEGTS:
		return "MPEG_TS"
	case FragmentedMP4:
		return "FRAGMENTED_MP4"
	default:
		return "UNKNOWN"
	}
}

// Playlist types from EXT-X-PLAYLIST-TYPE.
const (
	PlaylistTypeVOD   = "VOD"
	PlaylistTypeEvent = "EVENT"
)

// DefaultVersion is assumed when EXT-X-VERSION is absent.
const DefaultVersion = 3

// Master is a parsed master playlist. It is not modified after parsing.
type Master struct {
	// Variants are in playlist order
	Variants []variant.Variant
}

// InitSegment is the EXT-X-MAP initialization segment.
type InitSegment struct {
	URI string
}

// Media is a parsed media playlist. Live streams re-fetch it wholesale.
type Media struct {
	Version        int
	Segments       []segment.Segment
	TargetDuration float64
	MediaSequence  int64

	// EndList is true when EXT-X-ENDLIST is present (VOD). False means live.
	EndList bool

	ContainerFormat ContainerFormat

	// PlaylistType is "VOD", "EVENT" or empty
	PlaylistType string

	// Init is set only for fragmented MP4 playlists
	Init *InitSegment
}

// Live reports whether the playlist is unbounded and must be refreshed.
func (m *Media) Live() bool {
	return !m.EndList
}

// LastSequence returns the sequence of the final segment, or -1 if empty.
func (m *Media) LastSequence() int64 {
	return segment.Last(m.Segments)
}

// NewSegments returns the segments of next whose sequence exceeds the last
// sequence known in prev. A refresh that repeats known segments yields none.
func NewSegments(prev, next *Media) []segment.Segment {
	if next == nil {
		return nil
	}
	if prev == nil {
		return next.Segments
	}
	return segment.After(next.Segments, prev.LastSequence())
}

// Package variant defines data structures for HLS variant streams in master playlists.
package variant

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Variant represents a single variant stream in an HLS master playlist.
// Each variant typically represents a different quality level (bitrate/resolution).
type Variant struct {
	// Bandwidth is the peak segment bitrate in bits per second
	Bandwidth int

	// Resolution is the video resolution (e.g., "1920x1080", "1280x720")
	// Empty string if not specified in master playlist
	Resolution string

	// Codecs is the codec string (e.g., "avc1.4d401f,mp4a.40.2")
	// Empty string if not specified in master playlist
	Codecs string

	// PlaylistURL is the absolute URL of the variant's media playlist
	PlaylistURL string
}

// QualityLevel is the UI-facing projection of a Variant.
type QualityLevel struct {
	// Index addresses the level in bandwidth-ascending order
	Index int `json:"index"`

	Bandwidth  int    `json:"bandwidth"`
	Resolution string `json:"resolution,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Codecs     string `json:"codecs,omitempty"`
	URL        string `json:"url"`
}

// AutoLevel selects the variant from the bandwidth estimate.
const AutoLevel = -1

// ParseResolution splits a "WxH" resolution into width and height.
func ParseResolution(resolution string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(resolution)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid resolution %q", resolution)
	}

	width, err = strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution width %q: %w", resolution, err)
	}

	height, err = strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution height %q: %w", resolution, err)
	}

	return width, height, nil
}

// SortByBandwidth returns a copy of variants ordered by bandwidth ascending.
// Variants with equal bandwidth keep their playlist order.
func SortByBandwidth(variants []Variant) []Variant {
	sorted := make([]Variant, len(variants))
	copy(sorted, variants)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Bandwidth < sorted[j].Bandwidth
	})
	return sorted
}

// Levels projects bandwidth-sorted variants into quality levels.
// Unparseable resolutions leave Width and Height at zero.
func Levels(sorted []Variant) []QualityLevel {
	levels := make([]QualityLevel, len(sorted))
	for i, v := range sorted {
		levels[i] = QualityLevel{
			Index:      i,
			Bandwidth:  v.Bandwidth,
			Resolution: v.Resolution,
			Codecs:     v.Codecs,
			URL:        v.PlaylistURL,
		}
		if v.Resolution != "" {
			if w, h, err := ParseResolution(v.Resolution); err == nil {
				levels[i].Width = w
				levels[i].Height = h
			}
		}
	}
	return levels
}

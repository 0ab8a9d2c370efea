package buffer

import "math"

// TimeRange is a buffered interval in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Start returns the start of the first range, or 0 when empty.
func Start(ranges []TimeRange) float64 {
	if len(ranges) == 0 {
		return 0
	}
	return ranges[0].Start
}

// End returns the end of the last range, or 0 when empty.
func End(ranges []TimeRange) float64 {
	if len(ranges) == 0 {
		return 0
	}
	return ranges[len(ranges)-1].End
}

// Ahead returns how many seconds are buffered contiguously from t.
// tolerance lets t sit slightly before a range start.
func Ahead(ranges []TimeRange, t, tolerance float64) float64 {
	for _, r := range ranges {
		if t >= r.Start-tolerance && t < r.End {
			return r.End - math.Max(t, r.Start)
		}
	}
	return 0
}

// Normalize merges ranges (ordered by start) that overlap or lie within
// tolerance of each other. Empty ranges are dropped.
func Normalize(ranges []TimeRange, tolerance float64) []TimeRange {
	var out []TimeRange
	for _, r := range ranges {
		if r.End <= r.Start {
			continue
		}
		if n := len(out); n > 0 && r.Start <= out[n-1].End+tolerance {
			out[n-1].End = math.Max(out[n-1].End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}

package abr

// Select returns the index of the highest bitrate in bandwidths (sorted
// ascending) that fits within estimate*safetyFactor. If none fits it returns
// 0, the lowest bitrate. It returns -1 for an empty list.
func Select(bandwidths []int, estimate, safetyFactor float64) int {
	if len(bandwidths) == 0 {
		return -1
	}

	budget := estimate * safetyFactor
	for i := len(bandwidths) - 1; i >= 0; i-- {
		if float64(bandwidths[i]) <= budget {
			return i
		}
	}

	return 0
}

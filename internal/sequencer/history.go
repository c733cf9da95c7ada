package sequencer

import "matrixcore/internal/config"

// UpdateHistory appends a score to a per-slot rolling history and trims from
// the head to keep at most RollingWindowSize entries. Pure: the input slice
// is not shared with the result's future growth.
func UpdateHistory(hist []int, score int) []int {
	hist = append(hist, score)
	if len(hist) > config.RollingWindowSize {
		hist = hist[len(hist)-config.RollingWindowSize:]
	}
	return hist
}

// Sum returns the rolling sum of a history.
func Sum(hist []int) int {
	total := 0
	for _, s := range hist {
		total += s
	}
	return total
}

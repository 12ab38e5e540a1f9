package util

import (
	"fmt"
	"math"
)

func MHzToString(hz float64) string {
	return fmt.Sprintf("%0.4f MHz", hz/1e6)
}

// FrequencyRange returns the lowest and highest of freqs.
func FrequencyRange(freqs ...float64) (low, high float64) {
	low = math.Inf(1)
	high = math.Inf(-1)

	for _, freq := range freqs {
		if freq < low {
			low = freq
		}
		if freq > high {
			high = freq
		}
	}

	return
}

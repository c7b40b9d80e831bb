package audio

import "math"

// SilenceThreshold is the RMS level on int16 samples above which a block is
// considered to carry audio. The analysis window is one capture block
// (typically 10-100ms of samples). The value matches the level a quiet room
// stays under on consumer hardware while normal speech or playback exceeds
// it within the first word.
const SilenceThreshold = 100.0

// RMSLevel computes the root-mean-square level of a block of PCM-16 samples.
// Returns 0 for an empty block.
func RMSLevel(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}

	return math.Sqrt(energy / float64(len(samples)))
}

// HasAudio reports whether a block's RMS level exceeds the silence threshold.
func HasAudio(samples []int16) bool {
	return RMSLevel(samples) > SilenceThreshold
}

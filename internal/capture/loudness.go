package capture

import "math"

// Loudness normalization window: -80 dB maps to 0.0, 0 dB (full scale) to 1.0.
const noiseFloorDB = 80.0

// frameLevel reduces one frame of samples to a normalized loudness value:
// RMS over the frame, converted to dBFS, scaled into [0.0, 1.0] against the
// -80 dB floor. A silent frame yields exactly 0.0 rather than chasing
// log10(0) into NaN.
func frameLevel(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return 0.0
	}

	db := 20 * math.Log10(rms)
	level := (db + noiseFloorDB) / noiseFloorDB

	if level < 0 {
		return 0.0
	}
	if level > 1 {
		return 1.0
	}
	return level
}

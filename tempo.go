package loopsync

import "math"

const (
	DefaultSampleRate = 44100

	// UnitLengthWobble is the number of samples a candidate unit length may
	// differ from the current one without being considered a change.
	UnitLengthWobble = 8
	// TempoRelockThreshold is the smallest tempo change, in BPM, that allows
	// relocking a unit length that tracks already depend on.
	TempoRelockThreshold = 1.0

	DefaultBeatsPerBar = 4
	DefaultBarsPerLoop = 1
	DefaultMinTempo    = 30.0
	DefaultMaxTempo    = 300.0

	// MidiClocksPerBeat is fixed by the MIDI standard.
	MidiClocksPerBeat = 24
)

// TempoToUnitLength converts a tempo in BPM to the number of samples in one
// beat. The length is rounded up, never down, and then up again to an even
// count, so that drift correction always advances rather than rewinds.
// Returns 0 for non-positive input.
func TempoToUnitLength(sampleRate int, tempo float64) int {
	if sampleRate <= 0 || tempo <= 0 || math.IsNaN(tempo) || math.IsInf(tempo, 0) {
		return 0
	}
	// the epsilon keeps exact divisions (44100 / 2 = 22050) from being pushed
	// up by floating point noise
	l := int(math.Ceil(float64(sampleRate)/(tempo/60) - 1e-9))
	if l%2 != 0 {
		l++
	}
	return l
}

// UnitLengthToTempo converts a beat length in samples to a tempo in BPM.
// Returns 0 for non-positive input.
func UnitLengthToTempo(sampleRate int, unitLength int) float64 {
	if sampleRate <= 0 || unitLength <= 0 {
		return 0
	}
	return float64(sampleRate) * 60 / float64(unitLength)
}

// BeatsPerSample converts a tempo to the number of beats elapsing in one
// sample.
func BeatsPerSample(sampleRate int, tempo float64) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return tempo / 60 / float64(sampleRate)
}

// FitUnitLength doubles or halves unitLength until its tempo falls into
// [minTempo, maxTempo]. Halving keeps the length even when possible. A
// non-positive length or an empty range returns the length unchanged.
func FitUnitLength(sampleRate, unitLength int, minTempo, maxTempo float64) int {
	if unitLength <= 0 || sampleRate <= 0 || minTempo <= 0 || maxTempo < minTempo*2 {
		return unitLength
	}
	for UnitLengthToTempo(sampleRate, unitLength) < minTempo {
		if unitLength < 2 {
			break
		}
		unitLength /= 2
	}
	for UnitLengthToTempo(sampleRate, unitLength) > maxTempo {
		unitLength *= 2
	}
	return unitLength
}

// FitTempo doubles or halves tempo until it falls into [minTempo, maxTempo].
func FitTempo(tempo, minTempo, maxTempo float64) float64 {
	if tempo <= 0 || minTempo <= 0 || maxTempo < minTempo*2 {
		return tempo
	}
	for tempo < minTempo {
		tempo *= 2
	}
	for tempo > maxTempo {
		tempo /= 2
	}
	return tempo
}

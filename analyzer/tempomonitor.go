package analyzer

import (
	"github.com/loopsync/loopsync"
	"github.com/viterin/vek"
)

const (
	DefaultTempoWindow = 50
	// MaxClockDelta is the longest gap between two MIDI clocks, in
	// microseconds, that is still considered a running clock.
	MaxClockDelta = 500000
)

// TempoMonitor smooths MIDI clock jitter by averaging the intervals between
// consecutive clocks over a fixed window.
type TempoMonitor struct {
	deltas        RingBuffer[float64]
	lastTimestamp int64
	hasLast       bool
}

func NewTempoMonitor(window int) *TempoMonitor {
	if window <= 0 {
		window = DefaultTempoWindow
	}
	return &TempoMonitor{deltas: RingBuffer[float64]{Buffer: make([]float64, window)}}
}

// Clock records a clock received at timestamp microseconds. An unreasonable
// interval (none, negative or longer than MaxClockDelta) restarts the window
// from this clock.
func (t *TempoMonitor) Clock(timestamp int64) {
	if t.hasLast {
		d := timestamp - t.lastTimestamp
		if d <= 0 || d > MaxClockDelta {
			t.deltas.Clear()
		} else {
			t.deltas.WriteWrapSingle(float64(d))
		}
	}
	t.lastTimestamp = timestamp
	t.hasLast = true
}

// Reset forgets all clocks, e.g. after the clock stream stopped.
func (t *TempoMonitor) Reset() {
	t.deltas.Clear()
	t.hasLast = false
}

// Samples is the number of intervals in the window.
func (t *TempoMonitor) Samples() int {
	return t.deltas.Len
}

// LastClock returns the timestamp of the latest clock.
func (t *TempoMonitor) LastClock() (int64, bool) {
	return t.lastTimestamp, t.hasLast
}

// Tempo is the average tempo over the window, 0 if the window is empty.
func (t *TempoMonitor) Tempo() float64 {
	if t.deltas.Len == 0 {
		return 0
	}
	mean := vek.Mean(t.deltas.Values())
	if mean <= 0 {
		return 0
	}
	return 60e6 / (mean * loopsync.MidiClocksPerBeat)
}

// UnitLength is the candidate unit length for the average tempo.
func (t *TempoMonitor) UnitLength(sampleRate int) int {
	return loopsync.TempoToUnitLength(sampleRate, t.Tempo())
}

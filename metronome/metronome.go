// Package metronome implements a track that clicks on the pulses it is
// synchronized to. It records nothing; it makes the sync engine audible.
package metronome

import (
	"math"
	"time"

	"github.com/loopsync/loopsync"
	"github.com/viterin/vek/vek32"
)

const (
	ClickLength = 30 * time.Millisecond
	clickFreq   = 1000.0
	accentFreq  = 1500.0
	// decay is the number of e-foldings of the click envelope over its length
	decay = 6.0
)

type (
	// Track is a metronome track. It renders into the buffer set with
	// SetBuffer, mixing its clicks into whatever is already there.
	Track struct {
		number   int
		follower loopsync.Follower
		gain     float32

		click  []float32
		accent []float32

		playing []float32 // the click currently sounding, nil if none
		pos     int
		buffer  loopsync.AudioBuffer
		clicks  int
	}

	Option func(*Track)
)

var _ loopsync.Track = (*Track)(nil)

// WithGain sets the amplitude of the clicks, 0.5 by default.
func WithGain(gain float32) Option {
	return func(t *Track) { t.gain = gain }
}

// WithFollower sets what the metronome follows. By default it clicks on
// every beat of the Transport.
func WithFollower(source loopsync.SyncSource, leader int, unit loopsync.SyncUnit) Option {
	return func(t *Track) {
		t.follower.Source, t.follower.Leader, t.follower.Unit = source, leader, unit
	}
}

func New(number, sampleRate int, opts ...Option) *Track {
	t := &Track{
		number:   number,
		follower: loopsync.Follower{Source: loopsync.SourceTransport, Unit: loopsync.UnitBeat},
		gain:     0.5,
	}
	for _, opt := range opts {
		opt(t)
	}
	n := int(ClickLength.Seconds() * float64(sampleRate))
	env := envelope(n)
	t.click = tone(n, clickFreq, sampleRate)
	t.accent = tone(n, accentFreq, sampleRate)
	vek32.Mul_Inplace(t.click, env)
	vek32.Mul_Inplace(t.accent, env)
	vek32.MulNumber_Inplace(t.click, t.gain*0.6)
	vek32.MulNumber_Inplace(t.accent, t.gain)
	return t
}

func tone(n int, freq float64, sampleRate int) []float32 {
	ret := make([]float32, n)
	for i := range ret {
		ret[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate)))
	}
	return ret
}

func envelope(n int) []float32 {
	ret := make([]float32, n)
	for i := range ret {
		ret[i] = float32(math.Exp(-decay * float64(i) / float64(n)))
	}
	return ret
}

func (t *Track) Number() int                  { return t.number }
func (t *Track) Follower() *loopsync.Follower { return &t.follower }

// Clicks is the number of clicks triggered so far.
func (t *Track) Clicks() int { return t.clicks }

// Properties reports an empty loop: a metronome has nothing to connect to.
func (t *Track) Properties() loopsync.TrackProperties { return loopsync.TrackProperties{} }

// SetBuffer sets the buffer the next block is rendered into. It must be at
// least as long as the block.
func (t *Track) SetBuffer(buffer loopsync.AudioBuffer) {
	t.buffer = buffer
}

// SyncEvent starts a click, accented on bars and loops. A stop pulse
// silences the click that is sounding.
func (t *Track) SyncEvent(ev *loopsync.SyncEvent) {
	if ev.Pulse.Stop {
		t.playing = nil
		return
	}
	t.playing = t.click
	if ev.Pulse.Unit.Includes(loopsync.UnitBar) {
		t.playing = t.accent
	}
	t.pos = 0
	t.clicks++
}

func (t *Track) Advance(offset, frames int) {
	if t.playing == nil || t.buffer == nil {
		return
	}
	end := min(offset+frames, len(t.buffer))
	if offset >= end {
		return
	}
	n := min(end-offset, len(t.playing)-t.pos)
	for i, v := range t.playing[t.pos : t.pos+n] {
		t.buffer[offset+i][0] += v
		t.buffer[offset+i][1] += v
	}
	t.pos += n
	if t.pos >= len(t.playing) {
		t.playing = nil
	}
}

// Peak returns the largest absolute sample of buffer, for level display.
func Peak(buffer loopsync.AudioBuffer, scratch []float32) float32 {
	if len(buffer) == 0 {
		return 0
	}
	scratch = scratch[:0]
	for _, frame := range buffer {
		scratch = append(scratch, frame[0], frame[1])
	}
	vek32.Abs_Inplace(scratch)
	return vek32.Max(scratch)
}

package transport

import (
	"fmt"
	"math"

	"github.com/loopsync/loopsync"
	"go.uber.org/zap"
)

// Connect derives the tempo and the bar/loop structure from a recorded track.
// The cycle length (when the frames divide evenly by the cycle count, the
// whole loop otherwise) is one bar; it is divided into beatsPerBar beats and
// the beat is doubled or halved until its tempo is in range. Bars per loop is
// the number of such bars needed to cover the track.
//
// The beat is fitted before it is rounded to whole samples, and the bars are
// counted against the exact bar, so a bar that does not split evenly into
// beats never costs an extra bar.
func (t *Transport) Connect(props loopsync.TrackProperties) error {
	if props.Frames <= 0 {
		return ErrNothingToConnect
	}
	bar := props.Frames
	if props.Cycles > 1 && props.Frames%props.Cycles == 0 {
		bar = props.Frames / props.Cycles
	}
	exact := fitBeat(t.sampleRate, float64(bar)/float64(t.beatsPerBar), t.minTempo, t.maxTempo)
	unit := int(math.Round(exact))
	if unit <= 0 {
		return fmt.Errorf("connecting %d frames in %d cycles: %w", props.Frames, props.Cycles, ErrNothingToConnect)
	}
	barsPerLoop := max(int(math.Ceil(float64(props.Frames)/(exact*float64(t.beatsPerBar))-1e-9)), 1)

	t.log.Info("connect",
		zap.Int("frames", props.Frames),
		zap.Int("cycles", props.Cycles),
		zap.Int("unitLength", unit),
		zap.Int("barsPerLoop", barsPerLoop))
	t.setUnitLength(unit, loopsync.UnitLengthToTempo(t.sampleRate, unit))
	t.SetTimeSignature(0, barsPerLoop)
	// the track's loop point is now: restart the Transport loop on it
	if t.state == Started {
		t.realign = true
		t.resetLocation()
		if t.midiEnabled && !t.manualStart {
			t.sendStart()
		}
	} else if !t.manualStart {
		t.Start()
	}
	return nil
}

// fitBeat doubles or halves a beat of length samples until its tempo is in
// [minTempo, maxTempo].
func fitBeat(sampleRate int, length, minTempo, maxTempo float64) float64 {
	if length <= 0 || sampleRate <= 0 || minTempo <= 0 || maxTempo < minTempo*2 {
		return length
	}
	tempo := func() float64 { return 60 * float64(sampleRate) / length }
	for tempo() < minTempo && length >= 2 {
		length /= 2
	}
	for tempo() > maxTempo {
		length *= 2
	}
	return length
}

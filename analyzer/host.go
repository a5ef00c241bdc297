package analyzer

import (
	"math"

	"github.com/loopsync/loopsync"
	"go.uber.org/zap"
)

type (
	// HostTime is the transport state a plugin host reports for the current
	// block. Fields guarded by a Valid flag are meaningless without it.
	HostTime struct {
		Playing      bool
		PPQValid     bool
		PPQ          float64 // position in quarter notes at the start of the block
		TempoValid   bool
		Tempo        float64
		TimeSigValid bool
		BeatsPerBar  int
	}

	// HostTransport is implemented by the plugin shell. ok is false if the
	// host reports no time information at all.
	HostTransport interface {
		HostTime() (t HostTime, ok bool)
	}

	// HostAnalyzer follows the transport of a plugin host.
	HostAnalyzer struct {
		opts   Options
		log    *zap.Logger
		host   HostTransport
		drift  DriftMonitor
		head   PlayHead
		result loopsync.AnalyzerResult

		playing        bool
		beat           int // last raw host beat counted
		startBeat      int
		tempo          float64
		unitLength     int
		beatsPerSample float64
		beatsPerBar    int
		lastPPQ        float64
		lastFrames     int
		hasLast        bool
		needsPhase     bool
	}
)

var _ loopsync.Analyzer = (*HostAnalyzer)(nil)

// exactBeat is how close to an integer a PPQ position must be to count as
// being exactly on the beat.
const exactBeat = 1e-9

func NewHostAnalyzer(host HostTransport, opts ...Option) *HostAnalyzer {
	o := buildOptions(opts)
	return &HostAnalyzer{opts: o, log: o.Logger.Named("host"), host: host}
}

func (h *HostAnalyzer) Result() *loopsync.AnalyzerResult { return &h.result }
func (h *HostAnalyzer) Tempo() float64                   { return h.tempo }
func (h *HostAnalyzer) UnitLength() int                  { return h.unitLength }
func (h *HostAnalyzer) Locked() bool                     { return h.unitLength > 0 }
func (h *HostAnalyzer) Running() bool                    { return h.playing }
func (h *HostAnalyzer) HasNativeBeat() bool              { return true }
func (h *HostAnalyzer) HasNativeBar() bool               { return false }
func (h *HostAnalyzer) HasNativeLoop() bool              { return false }
func (h *HostAnalyzer) Drift() int                       { return h.drift.Drift() }

// TimeSignature returns the beats per bar last reported by the host.
func (h *HostAnalyzer) TimeSignature() (beatsPerBar int, ok bool) {
	return h.beatsPerBar, h.beatsPerBar > 0
}

// BeatNumber is the raw host beat, the floor of the PPQ position.
func (h *HostAnalyzer) BeatNumber() int { return h.beat }

// StartBeat is the raw host beat the host started playing in.
func (h *HostAnalyzer) StartBeat() int { return h.startBeat }

func (h *HostAnalyzer) CorrectDrift() {
	if h.unitLength <= 0 {
		return
	}
	h.head.Shift(-h.drift.Drift())
	h.drift.Orient(h.unitLength)
}

func (h *HostAnalyzer) Analyze(frames int) {
	h.result.Reset()
	t, ok := h.host.HostTime()
	if !ok || !t.PPQValid {
		// no host sync; nothing to report, nothing to complain about
		h.hasLast = false
		return
	}
	h.timeSignature(t)
	h.updateTempo(t)

	switch {
	case t.Playing && !h.playing:
		h.start(t, frames)
	case !t.Playing && h.playing:
		h.log.Info("host stopped", zap.Float64("ppq", t.PPQ))
		h.playing = false
		h.result.Stopped = true
		h.head.Reset()
	case t.Playing:
		h.play(t, frames)
	}
	h.lastPPQ = t.PPQ
	h.lastFrames = frames
	h.hasLast = true
	h.drift.Advance(frames)
}

func (h *HostAnalyzer) timeSignature(t HostTime) {
	if !t.TimeSigValid || t.BeatsPerBar <= 0 || t.BeatsPerBar == h.beatsPerBar {
		return
	}
	h.beatsPerBar = t.BeatsPerBar
	h.result.TimeSignatureChanged = true
}

// updateTempo takes the host tempo if there is one, otherwise derives it from
// the PPQ advance over the previous block.
func (h *HostAnalyzer) updateTempo(t HostTime) {
	if t.TempoValid && t.Tempo > 0 {
		h.tempo = t.Tempo
		h.beatsPerSample = loopsync.BeatsPerSample(h.opts.SampleRate, t.Tempo)
		if l := loopsync.TempoToUnitLength(h.opts.SampleRate, t.Tempo); l != h.unitLength {
			h.setUnitLength(l)
		}
		return
	}
	if !h.hasLast || h.lastFrames <= 0 || !t.Playing {
		return
	}
	delta := t.PPQ - h.lastPPQ
	if delta <= 0 {
		// stalled or jumped back; keep what we have
		return
	}
	h.beatsPerSample = delta / float64(h.lastFrames)
	h.tempo = h.beatsPerSample * 60 * float64(h.opts.SampleRate)
	l := loopsync.TempoToUnitLength(h.opts.SampleRate, h.tempo)
	if d := l - h.unitLength; h.unitLength == 0 || d > loopsync.UnitLengthWobble || d < -loopsync.UnitLengthWobble {
		h.setUnitLength(l)
	}
}

func (h *HostAnalyzer) setUnitLength(l int) {
	h.log.Debug("host unit length", zap.Int("unitLength", l), zap.Float64("tempo", h.tempo))
	if h.unitLength == 0 && h.playing {
		h.needsPhase = true
	}
	h.unitLength = l
	h.head.SetUnitLength(l)
	h.drift.Orient(l)
	h.result.TempoChanged = true
}

func (h *HostAnalyzer) start(t HostTime, frames int) {
	h.playing = true
	h.result.Started = true
	h.drift.Orient(h.unitLength)
	floor := math.Floor(t.PPQ)
	h.beat = int(floor)
	h.startBeat = h.beat
	h.log.Info("host started", zap.Float64("ppq", t.PPQ), zap.Float64("tempo", h.tempo))
	if t.PPQ-floor < exactBeat {
		h.head.Restart(0, frames)
		h.result.BeatDetected = true
		h.result.BlockOffset = 0
		h.drift.SourceBeat(0)
		h.drift.LocalBeat(0)
		return
	}
	h.head.Reset()
	h.needsPhase = true
	h.play(t, frames)
}

func (h *HostAnalyzer) play(t HostTime, frames int) {
	if h.needsPhase && h.unitLength > 0 && h.beatsPerSample > 0 {
		// align the normalized beats with the host's position in the beat
		h.needsPhase = false
		h.head.Phase(int(math.Round((t.PPQ - math.Floor(t.PPQ)) / h.beatsPerSample)))
	}
	if offset, ok := h.locateBeat(t, frames); ok {
		h.drift.SourceBeat(offset)
	}
	if h.needsPhase {
		return
	}
	if offset, beat := h.head.Advance(frames); beat {
		h.result.BeatDetected = true
		h.result.BlockOffset = offset
		h.drift.LocalBeat(offset)
	}
}

// locateBeat finds the raw host beat in the block by projecting the PPQ
// position one block ahead.
func (h *HostAnalyzer) locateBeat(t HostTime, frames int) (offset int, ok bool) {
	floor := math.Floor(t.PPQ)
	if int(floor) < h.beat {
		// host looped or jumped back
		h.beat = int(floor)
		if t.PPQ-floor < exactBeat {
			h.beat--
		}
	}
	next := float64(h.beat + 1)
	if t.PPQ >= next-exactBeat {
		// the beat fell on the block boundary, or the host jumped forward
		h.beat = int(floor)
		return 0, true
	}
	if h.beatsPerSample <= 0 || t.PPQ+h.beatsPerSample*float64(frames) < next {
		return 0, false
	}
	offset = int(math.Ceil((next - t.PPQ) / h.beatsPerSample))
	if offset >= frames {
		// rounding pushed it to the next block
		return 0, false
	}
	h.beat++
	return max(offset, 0), true
}

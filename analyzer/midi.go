package analyzer

import (
	"math"

	"github.com/loopsync/loopsync"
	"go.uber.org/zap"
)

// MidiAnalyzer follows an external MIDI clock. Events are pushed into its
// queue by the MIDI driver thread and drained at the start of every block.
//
// Before the unit length is locked, pulses come straight from the raw MIDI
// beats. Once locked, pulses come from the play head, and the raw beats only
// feed the drift monitor.
type MidiAnalyzer struct {
	opts   Options
	log    *zap.Logger
	queue  *MidiQueue
	events *MidiEventMonitor
	window *TempoMonitor
	drift  DriftMonitor
	head   PlayHead
	result loopsync.AnalyzerResult

	running     bool
	tempo       float64
	lockedTempo float64
	unitLength  int
	coldStart   bool
	stalled     bool
	startBeat   int
	overflows   uint64
}

var _ loopsync.Analyzer = (*MidiAnalyzer)(nil)

func NewMidiAnalyzer(queue *MidiQueue, opts ...Option) *MidiAnalyzer {
	o := buildOptions(opts)
	log := o.Logger.Named("midi")
	if queue == nil {
		queue = &MidiQueue{}
	}
	return &MidiAnalyzer{
		opts:      o,
		log:       log,
		queue:     queue,
		events:    NewMidiEventMonitor(log),
		window:    NewTempoMonitor(DefaultTempoWindow),
		coldStart: true,
	}
}

func (m *MidiAnalyzer) Queue() *MidiQueue                { return m.queue }
func (m *MidiAnalyzer) Result() *loopsync.AnalyzerResult { return &m.result }
func (m *MidiAnalyzer) Tempo() float64                   { return m.tempo }
func (m *MidiAnalyzer) UnitLength() int                  { return m.unitLength }
func (m *MidiAnalyzer) Locked() bool                     { return m.unitLength > 0 }
func (m *MidiAnalyzer) Running() bool                    { return m.running }
func (m *MidiAnalyzer) HasNativeBeat() bool              { return true }
func (m *MidiAnalyzer) HasNativeBar() bool               { return false }
func (m *MidiAnalyzer) HasNativeLoop() bool              { return false }
func (m *MidiAnalyzer) Drift() int                       { return m.drift.Drift() }

// StartBeat is the native beat number playback resumed from, 0 after Start
// and derived from the song position after Continue.
func (m *MidiAnalyzer) StartBeat() int { return m.startBeat }

// BeatNumber is the native beat counter of the external clock.
func (m *MidiAnalyzer) BeatNumber() int { return m.events.BeatNumber() }

func (m *MidiAnalyzer) CorrectDrift() {
	if m.unitLength <= 0 {
		return
	}
	m.head.Shift(-m.drift.Drift())
	m.drift.Orient(m.unitLength)
}

func (m *MidiAnalyzer) Analyze(frames int) {
	m.result.Reset()
	now := m.opts.Now()

	var (
		rawBeat      bool
		rawOffset    int
		resumed      bool
		resumeOffset int
		resumeClock  int
	)
	for {
		ev, ok := m.queue.Pop()
		if !ok {
			break
		}
		r := m.events.Event(ev)
		if ev.Status == StatusClock {
			m.window.Clock(ev.Timestamp)
			if m.stalled {
				m.log.Info("MIDI clock resumed")
				m.stalled = false
			}
		}
		if r.Stopped {
			m.stop()
			rawBeat, resumed = false, false
			continue
		}
		if r.Resumed {
			resumed = true
			resumeOffset = m.offsetOf(ev.Timestamp, now, frames)
			resumeClock = r.ClockInBeat
			m.startBeat = r.BeatNumber
		}
		if r.Beat {
			if rawBeat {
				m.log.Warn("more than one MIDI beat in a block", zap.Int("frames", frames))
				continue
			}
			rawBeat = true
			rawOffset = m.offsetOf(ev.Timestamp, now, frames)
		}
	}
	if n := m.queue.Overflows(); n != m.overflows {
		m.log.Warn("MIDI input queue overflow", zap.Uint64("dropped", n-m.overflows))
		m.overflows = n
	}
	m.checkStall(now)
	if t := m.window.Tempo(); t > 0 {
		m.tempo = t
	}

	switch {
	case resumed:
		m.resume(frames, resumeOffset, resumeClock, rawBeat, rawOffset)
	case !m.running:
	case rawBeat && m.lock():
		// the unit length was (re)locked on this beat: restart the
		// normalized beats on the raw one
		m.head.Restart(rawOffset, frames)
		m.emitBeat(rawOffset)
		m.drift.SourceBeat(rawOffset)
	case m.unitLength == 0:
		if rawBeat {
			m.head.Restart(rawOffset, frames)
			m.result.BeatDetected = true
			m.result.BlockOffset = rawOffset
		}
	default:
		if offset, beat := m.head.Advance(frames); beat {
			m.emitBeat(offset)
		}
		if rawBeat {
			m.drift.SourceBeat(rawOffset)
		}
	}
	m.drift.Advance(frames)
}

func (m *MidiAnalyzer) resume(frames, offset, clock int, rawBeat bool, rawOffset int) {
	m.running = true
	m.result.Started = true
	if rawBeat {
		m.lock()
	}
	m.drift.Orient(m.unitLength)
	m.head.Restart(offset, frames)
	if clock != 0 {
		// resumed from a song position between two beats
		m.head.Phase(m.head.Position() + clock*m.unitLength/loopsync.MidiClocksPerBeat)
		m.log.Info("MIDI continue", zap.Int("beat", m.startBeat), zap.Int("clock", clock))
		return
	}
	m.log.Info("MIDI start", zap.Int("beat", m.startBeat), zap.Int("offset", offset))
	m.result.BeatDetected = true
	m.result.BlockOffset = offset
	if rawBeat {
		m.drift.SourceBeat(rawOffset)
		m.drift.LocalBeat(offset)
	}
}

func (m *MidiAnalyzer) stop() {
	if !m.running {
		return
	}
	m.log.Info("MIDI stop")
	m.running = false
	m.result.Stopped = true
	m.head.Reset()
}

// checkStall detects a clock stream that went silent without a Stop. The
// window is restarted and the next beat relocks unconditionally.
func (m *MidiAnalyzer) checkStall(now int64) {
	if m.stalled || !m.running {
		return
	}
	last, ok := m.window.LastClock()
	if !ok || now-last <= MaxClockDelta {
		return
	}
	m.log.Warn("MIDI clock stopped", zap.Int64("silentMicros", now-last))
	m.stalled = true
	m.coldStart = true
	m.window.Reset()
}

// lock applies the locking policy on a raw beat and reports whether the unit
// length changed.
func (m *MidiAnalyzer) lock() bool {
	candidate := m.window.UnitLength(m.opts.SampleRate)
	if candidate <= 0 {
		// not enough clocks yet
		return false
	}
	if m.unitLength == 0 || m.coldStart {
		m.coldStart = false
		if candidate == m.unitLength {
			return false
		}
		m.setUnitLength(candidate)
		return true
	}
	delta := candidate - m.unitLength
	if delta <= loopsync.UnitLengthWobble && delta >= -loopsync.UnitLengthWobble {
		return false
	}
	tempoMoved := math.Abs(m.tempo-m.lockedTempo) >= loopsync.TempoRelockThreshold
	if !tempoMoved && m.opts.LockCounter(loopsync.SourceMidi, m.unitLength) > 0 {
		return false
	}
	m.setUnitLength(candidate)
	return true
}

func (m *MidiAnalyzer) setUnitLength(unitLength int) {
	m.log.Info("MIDI unit length locked",
		zap.Int("unitLength", unitLength),
		zap.Int("previous", m.unitLength),
		zap.Float64("tempo", m.tempo))
	m.unitLength = unitLength
	m.lockedTempo = m.tempo
	m.head.SetUnitLength(unitLength)
	m.drift.Orient(unitLength)
	m.result.TempoChanged = true
}

func (m *MidiAnalyzer) emitBeat(offset int) {
	m.result.BeatDetected = true
	m.result.BlockOffset = offset
	m.drift.LocalBeat(offset)
}

// offsetOf estimates where in the block an event arriving at timestamp
// belongs, taking now as the end of the block. Events older than the block
// are clamped to its start.
func (m *MidiAnalyzer) offsetOf(timestamp, now int64, frames int) int {
	age := int((now - timestamp) * int64(m.opts.SampleRate) / 1e6)
	return min(max(frames-age, 0), max(frames-1, 0))
}

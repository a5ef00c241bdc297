package transport

import (
	"errors"

	"github.com/loopsync/loopsync"
	"github.com/loopsync/loopsync/analyzer"
	"go.uber.org/zap"
)

type (
	State int

	// ClockOutput is where the Transport sends MIDI realtime intents,
	// implemented by the MIDI clock generator.
	ClockOutput interface {
		Start()
		Continue(songPosition uint16)
		Stop()
		SetTempo(tempo float64)
		SetClocksWhileStopped(enabled bool)
		Events() *analyzer.MidiQueue
	}

	// Transport is the internal sync source: a virtual loop of barsPerLoop
	// bars of beatsPerBar beats, each unitLength samples long. It knows
	// natively where its bars and loops are.
	Transport struct {
		log    *zap.Logger
		clock  ClockOutput
		now    func() int64
		result loopsync.AnalyzerResult
		head   analyzer.PlayHead

		sampleRate         int
		minTempo, maxTempo float64
		tempo              float64
		unitLength         int
		beatsPerBar        int
		barsPerLoop        int
		midiEnabled        bool
		manualStart        bool

		state        State
		beatInBar    int
		barInLoop    int
		loops        int
		starting     bool // report a start on the next block
		resuming     bool
		stopping     bool
		tempoChanged bool
		sigChanged   bool
		realign      bool

		lastTap int64

		// MIDI output bookkeeping
		outDrift     analyzer.DriftMonitor
		outClocks    int
		outRunning   bool
		outOverflows uint64
	}

	Options struct {
		Logger      *zap.Logger
		Clock       ClockOutput
		Now         func() int64
		MidiEnabled bool
		ManualStart bool
	}

	Option func(*Options)
)

const (
	Stopped State = iota
	Started
	Paused
)

// TapTimeout is the longest interval between two taps, in microseconds, that
// still sets the tempo.
const TapTimeout = 2000000

var ErrNothingToConnect = errors.New("track has no frames to connect to")

var stateNames = [...]string{"stopped", "started", "paused"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithClockOutput makes the Transport drive a MIDI clock generator.
func WithClockOutput(c ClockOutput) Option {
	return func(o *Options) { o.Clock = c }
}

// WithClock replaces the microsecond clock used for tap tempo and for placing
// sent MIDI clocks in the block.
func WithClock(now func() int64) Option {
	return func(o *Options) { o.Now = now }
}

// New creates a stopped Transport configured from the session.
func New(session loopsync.Session, opts ...Option) *Transport {
	o := Options{
		Logger:      zap.NewNop(),
		Now:         analyzer.Now,
		MidiEnabled: session.MidiEnabled,
		ManualStart: session.ManualStart,
	}
	for _, opt := range opts {
		opt(&o)
	}
	session.Fallback()
	t := &Transport{
		log:         o.Logger.Named("transport"),
		clock:       o.Clock,
		now:         o.Now,
		sampleRate:  session.SampleRate,
		minTempo:    session.MinTempo,
		maxTempo:    session.MaxTempo,
		beatsPerBar: session.BeatsPerBar,
		barsPerLoop: session.BarsPerLoop,
		midiEnabled: o.MidiEnabled,
		manualStart: o.ManualStart,
	}
	if t.clock != nil {
		t.clock.SetClocksWhileStopped(session.ClocksWhileStopped)
	}
	t.SetTempo(session.Transport.Tempo)
	t.tempoChanged = false
	return t
}

func (t *Transport) Result() *loopsync.AnalyzerResult { return &t.result }
func (t *Transport) Tempo() float64                   { return t.tempo }
func (t *Transport) UnitLength() int                  { return t.unitLength }
func (t *Transport) Locked() bool                     { return t.unitLength > 0 }
func (t *Transport) Running() bool                    { return t.state == Started }
func (t *Transport) HasNativeBeat() bool              { return true }
func (t *Transport) HasNativeBar() bool               { return true }
func (t *Transport) HasNativeLoop() bool              { return true }
func (t *Transport) State() State                     { return t.state }
func (t *Transport) BeatsPerBar() int                 { return t.beatsPerBar }
func (t *Transport) BarsPerLoop() int                 { return t.barsPerLoop }

// Drift is always zero: the Transport generates its own beats.
func (t *Transport) Drift() int    { return 0 }
func (t *Transport) CorrectDrift() {}

// MidiOutDrift is the drift of the sent MIDI clock against the Transport's
// beats, 24 clocks making one beat.
func (t *Transport) MidiOutDrift() int { return t.outDrift.Drift() }

// Position returns the beat in the bar, the bar in the loop and the number of
// completed loops.
func (t *Transport) Position() (beat, bar, loop int) {
	return t.beatInBar, t.barInLoop, t.loops
}

// SongPosition is the elapsed position in sixteenth notes, as sent in a MIDI
// Song Position Pointer.
func (t *Transport) SongPosition() uint16 {
	beats := (t.loops*t.barsPerLoop+t.barInLoop)*t.beatsPerBar + t.beatInBar
	return uint16(min(beats*4, 0x3FFF))
}

func (t *Transport) Start() {
	switch t.state {
	case Started:
		return
	case Paused:
		t.Resume()
		return
	}
	t.log.Info("start", zap.Float64("tempo", t.tempo))
	t.state = Started
	t.starting = true
	t.stopping = false
	t.resetLocation()
	if t.midiEnabled && !t.manualStart {
		t.sendStart()
	}
}

// SendMidiStart sends a MIDI Start regardless of the manual start setting,
// restarting the Transport from the top.
func (t *Transport) SendMidiStart() {
	if t.state == Started {
		t.realign = true
		t.resetLocation()
	} else {
		t.state = Started
		t.starting = true
		t.resetLocation()
	}
	t.sendStart()
}

// Stop stops the Transport and resets its location.
func (t *Transport) Stop() {
	if t.state == Stopped {
		return
	}
	t.log.Info("stop")
	t.state = Stopped
	t.stopping = true
	t.starting, t.resuming = false, false
	t.resetLocation()
	t.head.Reset()
	t.sendStop()
}

// Pause stops the Transport but keeps its location for Resume.
func (t *Transport) Pause() {
	if t.state != Started {
		return
	}
	t.log.Info("pause")
	t.state = Paused
	t.stopping = true
	t.starting, t.resuming = false, false
	t.sendStop()
}

// Resume continues a paused Transport from where it was paused.
func (t *Transport) Resume() {
	if t.state != Paused {
		return
	}
	t.log.Info("resume", zap.Uint16("songPosition", t.SongPosition()))
	t.state = Started
	t.resuming = true
	t.stopping = false
	if t.clock != nil && t.midiEnabled {
		t.clock.Continue(t.SongPosition())
	}
}

// SetTempo sets the tempo in BPM, doubled or halved into the tempo range.
func (t *Transport) SetTempo(tempo float64) {
	if tempo <= 0 {
		t.log.Warn("ignoring non-positive tempo", zap.Float64("tempo", tempo))
		return
	}
	fitted := loopsync.FitTempo(tempo, t.minTempo, t.maxTempo)
	t.setUnitLength(loopsync.TempoToUnitLength(t.sampleRate, fitted), fitted)
}

// SetTempoMillis sets the beat length in milliseconds, doubled or halved
// until its tempo is in range.
func (t *Transport) SetTempoMillis(millis float64) {
	if millis <= 0 {
		t.log.Warn("ignoring non-positive beat length", zap.Float64("millis", millis))
		return
	}
	l := int(millis * float64(t.sampleRate) / 1000)
	l = loopsync.FitUnitLength(t.sampleRate, l, t.minTempo, t.maxTempo)
	t.setUnitLength(l, loopsync.UnitLengthToTempo(t.sampleRate, l))
}

// Tap sets the tempo from the interval since the previous tap. A first tap,
// or one after TapTimeout, only arms the next.
func (t *Transport) Tap() {
	now := t.now()
	last := t.lastTap
	t.lastTap = now
	if last == 0 || now-last <= 0 || now-last > TapTimeout {
		return
	}
	t.SetTempoMillis(float64(now-last) / 1000)
}

// SetTimeSignature changes beats per bar and bars per loop; non-positive
// values keep the current ones.
func (t *Transport) SetTimeSignature(beatsPerBar, barsPerLoop int) {
	if beatsPerBar > 0 && beatsPerBar != t.beatsPerBar {
		t.beatsPerBar = beatsPerBar
		t.beatInBar %= beatsPerBar
		t.sigChanged = true
	}
	if barsPerLoop > 0 && barsPerLoop != t.barsPerLoop {
		t.barsPerLoop = barsPerLoop
		t.barInLoop %= barsPerLoop
		t.sigChanged = true
	}
}

func (t *Transport) setUnitLength(l int, tempo float64) {
	if l <= 0 {
		return
	}
	t.tempo = tempo
	if t.clock != nil {
		t.clock.SetTempo(tempo)
	}
	if l == t.unitLength {
		return
	}
	t.log.Debug("unit length", zap.Int("unitLength", l), zap.Float64("tempo", tempo))
	t.unitLength = l
	t.head.SetUnitLength(l)
	t.outDrift.Orient(l)
	t.tempoChanged = true
}

func (t *Transport) resetLocation() {
	t.beatInBar, t.barInLoop, t.loops = 0, 0, 0
}

func (t *Transport) sendStart() {
	if t.clock == nil {
		return
	}
	t.clock.Start()
}

func (t *Transport) sendStop() {
	if t.clock == nil || !t.midiEnabled {
		return
	}
	t.clock.Stop()
}

// Analyze advances the Transport by one block.
func (t *Transport) Analyze(frames int) {
	t.result.Reset()
	t.result.TempoChanged, t.tempoChanged = t.tempoChanged, false
	t.result.TimeSignatureChanged, t.sigChanged = t.sigChanged, false
	t.drainClockEvents(frames)

	if t.stopping {
		t.stopping = false
		t.result.Stopped = true
	}
	if t.state != Started {
		t.outDrift.Advance(frames)
		return
	}
	switch {
	case t.starting || t.realign:
		t.starting, t.realign, t.resuming = false, false, false
		t.result.Started = true
		t.head.Restart(0, frames)
		t.resetLocation()
		t.markBeat(0, true, true)
	case t.resuming:
		t.resuming = false
		t.result.Started = true
		fallthrough
	default:
		if offset, beat := t.head.Advance(frames); beat {
			t.countBeat(offset)
		}
	}
	t.outDrift.Advance(frames)
}

func (t *Transport) countBeat(offset int) {
	t.beatInBar++
	bar, loop := false, false
	if t.beatInBar >= t.beatsPerBar {
		t.beatInBar = 0
		t.barInLoop++
		bar = true
		if t.barInLoop >= t.barsPerLoop {
			t.barInLoop = 0
			t.loops++
			loop = true
		}
	}
	t.markBeat(offset, bar, loop)
}

func (t *Transport) markBeat(offset int, bar, loop bool) {
	t.result.BeatDetected = true
	t.result.BarDetected = bar
	t.result.LoopDetected = loop
	t.result.BlockOffset = offset
	t.outDrift.LocalBeat(offset)
}

// drainClockEvents reads back what the MIDI clock generator sent since the
// last block and measures the drift of its beats against ours.
func (t *Transport) drainClockEvents(frames int) {
	if t.clock == nil {
		return
	}
	q := t.clock.Events()
	now := t.now()
	for {
		ev, ok := q.Pop()
		if !ok {
			break
		}
		switch ev.Status {
		case analyzer.StatusStart:
			t.outRunning = true
			t.outClocks = 0
		case analyzer.StatusContinue:
			t.outRunning = true
			t.outClocks = int(ev.SongPosition%4) * 6
		case analyzer.StatusStop:
			t.outRunning = false
		case analyzer.StatusClock:
			if !t.outRunning {
				continue
			}
			if t.outClocks%loopsync.MidiClocksPerBeat == 0 {
				age := int((now - ev.Timestamp) * int64(t.sampleRate) / 1e6)
				t.outDrift.SourceBeat(min(max(frames-age, 0), max(frames-1, 0)))
			}
			t.outClocks++
		}
	}
	if n := q.Overflows(); n != t.outOverflows {
		t.log.Warn("MIDI clock event queue overflow", zap.Uint64("dropped", n-t.outOverflows))
		t.outOverflows = n
	}
}

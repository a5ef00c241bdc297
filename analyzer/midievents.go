package analyzer

import (
	"github.com/loopsync/loopsync"
	"go.uber.org/zap"
)

type (
	// MidiEventMonitor follows the Start/Stop/Continue/Clock/Song Position
	// stream of an external MIDI clock and counts native beats, 24 clocks to
	// a beat.
	MidiEventMonitor struct {
		log          *zap.Logger
		started      bool
		waiting      bool // Start or Continue seen, first clock not yet
		songPosition uint16
		beat         int // number of the beat the current clock belongs to
		clock        int // clocks into the current beat
		lastBeat     int
		hasLastBeat  bool
	}

	// MidiEventResult tells what a single event changed.
	MidiEventResult struct {
		Started bool // Start or Continue received
		Stopped bool
		// Resumed is set on the first clock after Start or Continue; that
		// clock is where playback actually starts.
		Resumed    bool
		Beat       bool
		BeatNumber int
		// ClockInBeat is the phase of a clock within its beat, 0 on the beat.
		ClockInBeat int
	}
)

func NewMidiEventMonitor(log *zap.Logger) *MidiEventMonitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &MidiEventMonitor{log: log}
}

func (m *MidiEventMonitor) Started() bool        { return m.started }
func (m *MidiEventMonitor) BeatNumber() int      { return m.beat }
func (m *MidiEventMonitor) ClockInBeat() int     { return m.clock }
func (m *MidiEventMonitor) SongPosition() uint16 { return m.songPosition }

// Event processes one realtime message.
func (m *MidiEventMonitor) Event(ev MidiEvent) (r MidiEventResult) {
	switch ev.Status {
	case StatusStart:
		m.started = true
		m.waiting = true
		m.songPosition = 0
		m.locate(0)
		r.Started = true
	case StatusContinue:
		m.started = true
		m.waiting = true
		m.locate(m.songPosition)
		r.Started = true
	case StatusStop:
		r.Stopped = m.started
		m.started = false
		m.waiting = false
	case StatusSongPosition:
		m.songPosition = ev.SongPosition
		if m.started && !m.waiting {
			// repositioning while running; the next beat number will jump
			m.beat, m.clock = songPositionToBeat(ev.SongPosition)
			m.log.Debug("song position while running", zap.Uint16("songPosition", ev.SongPosition))
		}
	case StatusClock:
		if !m.started {
			return r
		}
		if m.waiting {
			m.waiting = false
			r.Resumed = true
		}
		r.ClockInBeat = m.clock
		r.BeatNumber = m.beat
		if m.clock == 0 {
			r.Beat = true
			if m.hasLastBeat && m.beat != m.lastBeat+1 {
				m.log.Warn("missed MIDI beat", zap.Int("expected", m.lastBeat+1), zap.Int("got", m.beat))
			}
			m.lastBeat = m.beat
			m.hasLastBeat = true
		}
		m.clock++
		if m.clock >= loopsync.MidiClocksPerBeat {
			m.clock = 0
			m.beat++
		}
	}
	return r
}

func (m *MidiEventMonitor) locate(songPosition uint16) {
	m.beat, m.clock = songPositionToBeat(songPosition)
	m.hasLastBeat = false
}

// songPositionToBeat converts a Song Position Pointer, in sixteenth notes, to
// a beat number and the clock phase within that beat.
func songPositionToBeat(spp uint16) (beat, clock int) {
	return int(spp / 4), int(spp%4) * 6
}

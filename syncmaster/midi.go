package syncmaster

import (
	"errors"

	"github.com/loopsync/loopsync/analyzer"
	"github.com/loopsync/loopsync/midiclock"
)

type (
	// MIDIContext opens MIDI ports. Input ports feed the MIDI analyzer's
	// queue; output ports drive the MIDI clock generator.
	MIDIContext interface {
		Inputs(yield func(port MIDIPort) bool)
		Outputs(yield func(port MIDIPort) bool)
		// OpenInput opens the first input whose name starts with
		// namePrefix and pushes its realtime messages into queue.
		OpenInput(namePrefix string, queue *analyzer.MidiQueue) error
		// OpenOutput opens the first output whose name starts with
		// namePrefix.
		OpenOutput(namePrefix string) (midiclock.Sender, error)
		Close()
		Support() MIDISupport
	}

	MIDIPort interface {
		String() string
	}

	MIDISupport int
)

const (
	MIDISupportNotCompiled MIDISupport = iota
	MIDISupportNoDriver
	MIDISupported
)

var ErrMIDINotSupported = errors.New("MIDI is not supported in this build")

// NullMIDIContext is a MIDIContext with no ports, for builds without MIDI
// and for tests.
type NullMIDIContext struct{}

func (m NullMIDIContext) Inputs(yield func(port MIDIPort) bool)  {}
func (m NullMIDIContext) Outputs(yield func(port MIDIPort) bool) {}
func (m NullMIDIContext) OpenInput(string, *analyzer.MidiQueue) error {
	return ErrMIDINotSupported
}
func (m NullMIDIContext) OpenOutput(string) (midiclock.Sender, error) {
	return nil, ErrMIDINotSupported
}
func (m NullMIDIContext) Close()               {}
func (m NullMIDIContext) Support() MIDISupport { return MIDISupportNotCompiled }

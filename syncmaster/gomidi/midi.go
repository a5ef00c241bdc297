package gomidi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loopsync/loopsync/analyzer"
	"github.com/loopsync/loopsync/midiclock"
	"github.com/loopsync/loopsync/syncmaster"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"
)

var ErrPortNotFound = errors.New("MIDI port not found")

type (
	// RTMIDIContext opens MIDI ports through rtmidi. At most one input and
	// one output are open at a time; opening another closes the previous.
	RTMIDIContext struct {
		log    *zap.Logger
		driver *rtmididrv.Driver
		now    func() int64

		in     drivers.In
		stopIn func()
		out    drivers.Out
	}

	Option func(*RTMIDIContext)
)

var _ syncmaster.MIDIContext = (*RTMIDIContext)(nil)

func WithLogger(l *zap.Logger) Option {
	return func(c *RTMIDIContext) {
		if l != nil {
			c.log = l.Named("gomidi")
		}
	}
}

// WithClock replaces the microsecond clock used to timestamp received
// messages. It must be the clock of the MIDI analyzer reading the queue.
func WithClock(now func() int64) Option {
	return func(c *RTMIDIContext) { c.now = now }
}

// NewContext opens the driver. If that fails the context has no ports and
// Support reports MIDISupportNoDriver.
func NewContext(opts ...Option) *RTMIDIContext {
	c := &RTMIDIContext{log: zap.NewNop(), now: analyzer.Now}
	for _, opt := range opts {
		opt(c)
	}
	var err error
	// there's not much we can do if this fails, so just use c.driver = nil
	// to indicate no driver available
	if c.driver, err = rtmididrv.New(); err != nil {
		c.log.Warn("no MIDI driver", zap.Error(err))
		c.driver = nil
	}
	return c
}

func (c *RTMIDIContext) Support() syncmaster.MIDISupport {
	if c.driver == nil {
		return syncmaster.MIDISupportNoDriver
	}
	return syncmaster.MIDISupported
}

func (c *RTMIDIContext) Inputs(yield func(syncmaster.MIDIPort) bool) {
	if c.driver == nil {
		return
	}
	ins, err := c.driver.Ins()
	if err != nil {
		c.log.Warn("listing MIDI inputs failed", zap.Error(err))
		return
	}
	for _, in := range ins {
		if !yield(in) {
			return
		}
	}
}

func (c *RTMIDIContext) Outputs(yield func(syncmaster.MIDIPort) bool) {
	if c.driver == nil {
		return
	}
	outs, err := c.driver.Outs()
	if err != nil {
		c.log.Warn("listing MIDI outputs failed", zap.Error(err))
		return
	}
	for _, out := range outs {
		if !yield(out) {
			return
		}
	}
}

// OpenInput opens the first input whose name starts with namePrefix and
// pushes the clock messages it receives into queue, timestamped on arrival.
func (c *RTMIDIContext) OpenInput(namePrefix string, queue *analyzer.MidiQueue) error {
	if c.driver == nil {
		return syncmaster.ErrMIDINotSupported
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return fmt.Errorf("listing MIDI inputs: %w", err)
	}
	var found drivers.In
	for _, in := range ins {
		if strings.HasPrefix(in.String(), namePrefix) {
			found = in
			break
		}
	}
	if found == nil {
		return fmt.Errorf("input %q: %w", namePrefix, ErrPortNotFound)
	}
	c.closeInput()
	if err := found.Open(); err != nil {
		return fmt.Errorf("opening MIDI input %q: %w", found.String(), err)
	}
	name := found.String()
	stop, err := midi.ListenTo(found, func(msg midi.Message, _ int32) {
		// the driver timestamp is relative to the previous message; the
		// analyzer wants absolute microseconds on its own clock
		ev, ok := analyzer.ParseRealtime(msg, c.now())
		if !ok {
			return
		}
		queue.Push(ev)
	}, midi.UseTimeCode(), midi.HandleError(func(err error) {
		c.log.Warn("MIDI input error", zap.String("port", name), zap.Error(err))
	}))
	if err != nil {
		found.Close()
		return fmt.Errorf("listening to MIDI input %q: %w", name, err)
	}
	c.in, c.stopIn = found, stop
	c.log.Info("MIDI input opened", zap.String("port", name))
	return nil
}

// OpenOutput opens the first output whose name starts with namePrefix and
// returns a sender for it.
func (c *RTMIDIContext) OpenOutput(namePrefix string) (midiclock.Sender, error) {
	if c.driver == nil {
		return nil, syncmaster.ErrMIDINotSupported
	}
	outs, err := c.driver.Outs()
	if err != nil {
		return nil, fmt.Errorf("listing MIDI outputs: %w", err)
	}
	var found drivers.Out
	for _, out := range outs {
		if strings.HasPrefix(out.String(), namePrefix) {
			found = out
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("output %q: %w", namePrefix, ErrPortNotFound)
	}
	c.closeOutput()
	send, err := midi.SendTo(found)
	if err != nil {
		return nil, fmt.Errorf("opening MIDI output %q: %w", found.String(), err)
	}
	c.out = found
	c.log.Info("MIDI output opened", zap.String("port", found.String()))
	return midiclock.Sender(send), nil
}

func (c *RTMIDIContext) Close() {
	if c.driver == nil {
		return
	}
	c.closeInput()
	c.closeOutput()
	c.driver.Close()
}

func (c *RTMIDIContext) closeInput() {
	if c.stopIn != nil {
		c.stopIn()
		c.stopIn = nil
	}
	if c.in != nil && c.in.IsOpen() {
		c.in.Close()
	}
	c.in = nil
}

func (c *RTMIDIContext) closeOutput() {
	if c.out != nil && c.out.IsOpen() {
		c.out.Close()
	}
	c.out = nil
}

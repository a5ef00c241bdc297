package midiclock

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loopsync/loopsync"
	"github.com/loopsync/loopsync/analyzer"
	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"
)

var ErrNoOutput = errors.New("no MIDI output")

const (
	// TickPeriod is the period of the generator thread.
	TickPeriod = time.Millisecond
	// CloseTimeout bounds the wait for the generator thread to finish.
	CloseTimeout = 3 * time.Second
)

type (
	// Sender sends one MIDI message to the output port, typically the
	// function returned by midi.SendTo.
	Sender func(msg midi.Message) error

	// Generator sends MIDI Start, Continue, Stop and Clock messages from its
	// own thread ticking every millisecond. Other threads only express
	// intents through atomic flags; the latest intent of each kind wins.
	//
	// A Start or Continue is sent on the tick after it was requested, and the
	// Clock that follows it on the tick after that, never in the same tick,
	// so that receivers have time to arm. Stop is sent right away by the
	// calling thread, unless a tick is in progress; then it goes out with the
	// next tick.
	Generator struct {
		log  *zap.Logger
		send Sender
		now  func() int64

		// held by Tick, and by Stop when it sends itself
		mu sync.Mutex

		// intents, written by any thread
		startIntent        atomic.Bool
		continueIntent     atomic.Bool
		continuePosition   atomic.Uint32
		stopIntent         atomic.Bool
		tempoIntent        atomic.Uint64 // math.Float64bits, 0 = none
		clocksWhileStopped atomic.Bool

		// owned by the generator thread
		tempo             float64
		msecsPerPulse     float64
		pulseWait         float64
		clocking          bool
		pendingStartClock bool
		sendErrors        int

		events analyzer.MidiQueue
		sent   atomic.Uint64

		close    chan struct{}
		finished chan struct{}
	}

	Option func(*Generator)
)

func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.log = l.Named("midiclock")
		}
	}
}

// WithClock replaces the microsecond clock used to timestamp sent messages.
func WithClock(now func() int64) Option {
	return func(g *Generator) { g.now = now }
}

func WithClocksWhileStopped(enabled bool) Option {
	return func(g *Generator) { g.clocksWhileStopped.Store(enabled) }
}

// New creates a generator sending to send at the given tempo. The thread is
// not running until Run is called.
func New(send Sender, tempo float64, opts ...Option) (*Generator, error) {
	if send == nil {
		return nil, ErrNoOutput
	}
	g := &Generator{
		log:      zap.NewNop(),
		send:     send,
		now:      analyzer.Now,
		close:    make(chan struct{}, 1),
		finished: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.setTempo(tempo)
	g.clocking = g.clocksWhileStopped.Load()
	g.pulseWait = g.msecsPerPulse
	return g, nil
}

// Run starts the generator thread.
func (g *Generator) Run() {
	go g.loop()
}

func (g *Generator) loop() {
	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-g.close:
			g.finished <- struct{}{}
			return
		case t := <-ticker.C:
			g.Tick(float64(t.Sub(last)) / float64(time.Millisecond))
			last = t
		}
	}
}

// Close stops the generator thread, waiting at most CloseTimeout. A thread
// that does not stop in time is logged and abandoned.
func (g *Generator) Close() {
	if !loopsync.TrySend(g.close, struct{}{}) {
		return // already closing
	}
	if _, ok := loopsync.TimeoutReceive(g.finished, CloseTimeout); !ok {
		g.log.Error("MIDI clock thread did not stop in time", zap.Duration("timeout", CloseTimeout))
	}
}

func (g *Generator) Start() {
	g.continueIntent.Store(false)
	g.startIntent.Store(true)
}

// Continue requests a Continue from songPosition, in sixteenth notes. A Song
// Position Pointer is sent right before the Continue.
func (g *Generator) Continue(songPosition uint16) {
	g.startIntent.Store(false)
	g.continuePosition.Store(uint32(songPosition))
	g.continueIntent.Store(true)
}

// Stop sends a Stop without waiting for the generator thread. It never
// blocks: if the thread holds the generator, the Stop is left as an intent
// for the next tick.
func (g *Generator) Stop() {
	if g.mu.TryLock() {
		g.stop()
		g.mu.Unlock()
		return
	}
	g.stopIntent.Store(true)
}

func (g *Generator) stop() {
	g.stopIntent.Store(false)
	g.startIntent.Store(false)
	g.continueIntent.Store(false)
	g.pendingStartClock = false
	g.emit(analyzer.StatusStop, 0, midi.Stop())
	g.clocking = g.clocksWhileStopped.Load()
	g.pulseWait = g.msecsPerPulse
}

// SetTempo changes the clock rate from the next tick on.
func (g *Generator) SetTempo(tempo float64) {
	if tempo <= 0 {
		return
	}
	g.tempoIntent.Store(math.Float64bits(tempo))
}

func (g *Generator) SetClocksWhileStopped(enabled bool) {
	g.clocksWhileStopped.Store(enabled)
}

// Events is the queue of sent messages, for drift bookkeeping by the audio
// thread, its only consumer.
func (g *Generator) Events() *analyzer.MidiQueue {
	return &g.events
}

// Sent is the number of messages sent so far.
func (g *Generator) Sent() uint64 {
	return g.sent.Load()
}

// Tick advances the generator by elapsed milliseconds. It is called by the
// generator thread; tests call it directly instead of Run.
func (g *Generator) Tick(elapsed float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if bits := g.tempoIntent.Swap(0); bits != 0 {
		g.setTempo(math.Float64frombits(bits))
	}
	if g.stopIntent.Load() {
		g.stop()
		return
	}
	if g.startIntent.Swap(false) {
		g.emit(analyzer.StatusStart, 0, midi.Start())
		g.pendingStartClock = true
		return
	}
	if g.continueIntent.Swap(false) {
		pos := uint16(g.continuePosition.Load())
		g.emit(analyzer.StatusSongPosition, pos, analyzer.SongPositionMessage(pos))
		g.emit(analyzer.StatusContinue, pos, midi.Continue())
		g.pendingStartClock = true
		return
	}
	if g.pendingStartClock {
		g.pendingStartClock = false
		g.clocking = true
		g.emit(analyzer.StatusClock, 0, midi.TimingClock())
		g.pulseWait = g.msecsPerPulse
		return
	}
	if !g.clocking {
		if g.clocksWhileStopped.Load() {
			g.clocking = true
			g.pulseWait = g.msecsPerPulse
		}
		return
	}
	g.pulseWait -= elapsed
	if g.pulseWait <= 0 {
		g.emit(analyzer.StatusClock, 0, midi.TimingClock())
		g.pulseWait += g.msecsPerPulse
		if g.pulseWait <= 0 {
			// fell behind by more than a pulse; do not burst
			g.pulseWait = g.msecsPerPulse
		}
	}
}

func (g *Generator) setTempo(tempo float64) {
	if tempo <= 0 {
		return
	}
	g.tempo = tempo
	g.msecsPerPulse = 60000 / tempo / loopsync.MidiClocksPerBeat
	if g.pulseWait > g.msecsPerPulse {
		g.pulseWait = g.msecsPerPulse
	}
}

func (g *Generator) emit(status byte, songPosition uint16, msg midi.Message) {
	if err := g.send(msg); err != nil {
		if g.sendErrors == 0 {
			g.log.Warn("sending MIDI clock failed", zap.Error(err))
		}
		g.sendErrors++
		return
	}
	g.sent.Add(1)
	g.events.Push(analyzer.MidiEvent{Status: status, SongPosition: songPosition, Timestamp: g.now()})
}

// Tempo is the tempo the generator is currently clocking at. Owned by the
// generator thread; read it only when the thread is not running.
func (g *Generator) Tempo() float64 {
	return g.tempo
}

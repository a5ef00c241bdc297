package midiclock_test

import (
	"errors"
	"testing"
	"time"

	"github.com/loopsync/loopsync/analyzer"
	"github.com/loopsync/loopsync/midiclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
)

type recorder struct {
	sent []byte // status bytes, in order
	msgs []midi.Message
}

func (r *recorder) send(msg midi.Message) error {
	r.sent = append(r.sent, msg[0])
	r.msgs = append(r.msgs, append(midi.Message(nil), msg...))
	return nil
}

// ticks runs n one millisecond ticks and returns what was sent during them.
func (r *recorder) ticks(g *midiclock.Generator, n int) []byte {
	start := len(r.sent)
	for i := 0; i < n; i++ {
		g.Tick(1)
	}
	return r.sent[start:]
}

func newGenerator(t *testing.T, clocksWhileStopped bool) (*midiclock.Generator, *recorder) {
	t.Helper()
	r := &recorder{}
	g, err := midiclock.New(r.send, 120, midiclock.WithClocksWhileStopped(clocksWhileStopped))
	require.NoError(t, err)
	return g, r
}

func TestNoOutput(t *testing.T) {
	_, err := midiclock.New(nil, 120)
	assert.ErrorIs(t, err, midiclock.ErrNoOutput)
}

func TestStartThenClockOnNextTick(t *testing.T) {
	g, r := newGenerator(t, false)
	assert.Empty(t, r.ticks(g, 5), "nothing is sent before start")
	g.Start()
	assert.Equal(t, []byte{analyzer.StatusStart}, r.ticks(g, 1))
	assert.Equal(t, []byte{analyzer.StatusClock}, r.ticks(g, 1), "the first clock comes one tick after start")
	// 60000/120/24 = 20.83 ms between clocks
	assert.Empty(t, r.ticks(g, 20))
	assert.Equal(t, []byte{analyzer.StatusClock}, r.ticks(g, 1))
	// one second is 48 clocks at 120 BPM
	assert.InDelta(t, 48, len(r.ticks(g, 1000)), 1)
}

func TestStopIsImmediate(t *testing.T) {
	g, r := newGenerator(t, false)
	g.Start()
	r.ticks(g, 100)
	before := len(r.sent)
	g.Stop()
	assert.Equal(t, []byte{analyzer.StatusStop}, r.sent[before:], "sent without waiting for a tick")
	assert.Empty(t, r.ticks(g, 100), "clocks stop with the transport")
}

func TestStartAfterStopInSameBlock(t *testing.T) {
	g, r := newGenerator(t, false)
	g.Start()
	r.ticks(g, 10)
	g.Stop()
	g.Start()
	assert.Equal(t, []byte{analyzer.StatusStop}, r.sent[len(r.sent)-1:])
	assert.Equal(t, []byte{analyzer.StatusStart}, r.ticks(g, 1))
	assert.Equal(t, []byte{analyzer.StatusClock}, r.ticks(g, 1))
}

func TestClocksWhileStopped(t *testing.T) {
	g, r := newGenerator(t, true)
	sent := r.ticks(g, 100)
	assert.InDelta(t, 4, len(sent), 1)
	for _, s := range sent {
		assert.Equal(t, analyzer.StatusClock, s)
	}
	g.Start()
	assert.Equal(t, []byte{analyzer.StatusStart}, r.ticks(g, 1), "no clock in the start tick")
	assert.Equal(t, []byte{analyzer.StatusClock}, r.ticks(g, 1))
	g.Stop()
	assert.NotEmpty(t, r.ticks(g, 100), "clocks keep running after stop")
}

func TestContinueSendsSongPosition(t *testing.T) {
	g, r := newGenerator(t, false)
	g.Continue(32)
	assert.Equal(t, []byte{analyzer.StatusSongPosition, analyzer.StatusContinue}, r.ticks(g, 1))
	assert.Equal(t, []byte{analyzer.StatusClock}, r.ticks(g, 1))
	require.Len(t, r.msgs, 3)
	assert.Equal(t, midi.Message{0xF2, 0x20, 0x00}, r.msgs[0], "least significant bits first")
	assert.Equal(t, midi.Message{0xFB}, r.msgs[1])

	var events []analyzer.MidiEvent
	for {
		ev, ok := g.Events().Pop()
		if !ok {
			break
		}
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, uint16(32), events[0].SongPosition)
	assert.Equal(t, analyzer.StatusClock, events[2].Status)
}

func TestTempoChangeAtTickBoundary(t *testing.T) {
	g, r := newGenerator(t, false)
	g.Start()
	r.ticks(g, 2)
	g.SetTempo(60)
	assert.Equal(t, 120.0, g.Tempo(), "not applied before the next tick")
	// 60000/60/24 = 41.67 ms; the countdown in progress is shortened, never
	// lengthened
	sent := r.ticks(g, 1000)
	assert.Equal(t, 60.0, g.Tempo())
	assert.InDelta(t, 24, len(sent), 1)
}

func TestLatestIntentWins(t *testing.T) {
	g, r := newGenerator(t, false)
	g.Start()
	g.Continue(1000)
	assert.Equal(t, []byte{analyzer.StatusSongPosition, analyzer.StatusContinue}, r.ticks(g, 1))
	assert.Equal(t, midi.Message{0xF2, 0x68, 0x07}, r.msgs[0])
}

func TestSendErrorsAreSwallowed(t *testing.T) {
	n := 0
	g, err := midiclock.New(func(midi.Message) error {
		n++
		return errors.New("port closed")
	}, 120)
	require.NoError(t, err)
	g.Start()
	for i := 0; i < 100; i++ {
		g.Tick(1)
	}
	assert.Greater(t, n, 1)
	assert.Zero(t, g.Sent())
	_, ok := g.Events().Pop()
	assert.False(t, ok, "failed sends are not recorded")
}

func TestRunAndClose(t *testing.T) {
	g, _ := newGenerator(t, true)
	g.Run()
	time.Sleep(20 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		g.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(midiclock.CloseTimeout + time.Second):
		t.Fatal("Close did not return")
	}
}

func TestNilLoggerIsIgnored(t *testing.T) {
	g, err := midiclock.New(func(midi.Message) error { return errors.New("port closed") }, 120, midiclock.WithLogger(nil))
	require.NoError(t, err)
	g.Start()
	for i := 0; i < 3; i++ {
		g.Tick(1) // the first failed send is logged
	}
	assert.Zero(t, g.Sent())
}

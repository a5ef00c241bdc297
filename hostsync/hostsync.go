// Package hostsync runs the sync engine inside a plugin host: the host
// transport is the sync source and the host's sample rate is the engine's.
package hostsync

import (
	"github.com/loopsync/loopsync"
	"github.com/loopsync/loopsync/analyzer"
	"github.com/loopsync/loopsync/metronome"
	"github.com/loopsync/loopsync/syncmaster"
	"go.uber.org/zap"
)

type (
	// Host is the plugin host as seen at the start of a block.
	Host interface {
		analyzer.HostTransport
		// SampleRate is the host's current sample rate, 0 if unknown.
		SampleRate() int
	}

	// Engine is a SyncMaster with a metronome following the host. It is
	// rebuilt whenever the host sample rate changes, as every unit length
	// and play head position is counted in samples.
	Engine struct {
		log     *zap.Logger
		session loopsync.Session
		host    Host
		sm      *syncmaster.SyncMaster
		click   *metronome.Track
		buffer  loopsync.AudioBuffer
	}
)

func New(session loopsync.Session, host Host, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{log: log.Named("hostsync"), session: session, host: host}
	if rate := host.SampleRate(); rate > 0 {
		e.session.SampleRate = rate
	}
	e.build()
	return e
}

func (e *Engine) build() {
	e.sm = syncmaster.New(e.session,
		syncmaster.WithLogger(e.log),
		syncmaster.WithHost(e.host))
	e.click = metronome.New(1, e.session.SampleRate, metronome.WithFollower(loopsync.SourceHost, 0, loopsync.UnitBeat))
	if err := e.sm.AddTrack(e.click); err != nil {
		e.log.Error("cannot add the metronome", zap.Error(err))
	}
}

func (e *Engine) SyncMaster() *syncmaster.SyncMaster { return e.sm }
func (e *Engine) SampleRate() int                    { return e.session.SampleRate }

// Process runs one block of frames and returns the rendered audio, valid
// until the next call.
func (e *Engine) Process(frames int) loopsync.AudioBuffer {
	if rate := e.host.SampleRate(); rate > 0 && rate != e.session.SampleRate {
		e.log.Info("host sample rate changed", zap.Int("from", e.session.SampleRate), zap.Int("to", rate))
		e.session.SampleRate = rate
		e.build()
	}
	if cap(e.buffer) < frames {
		e.buffer = make(loopsync.AudioBuffer, frames)
	}
	e.buffer = e.buffer[:frames]
	e.buffer.Fill()
	e.click.SetBuffer(e.buffer)
	e.sm.ProcessBlock(frames)
	return e.buffer
}

package syncmaster

import (
	"github.com/loopsync/loopsync"
	"go.uber.org/zap"
)

type (
	// Pulsator distills the analyzer results of a block into pulses, one
	// slot per analyzer source plus one per leader track, and tells each
	// follower which pulse, if any, concerns it.
	//
	// Slots are allocated when sources and tracks are registered and reused
	// every block.
	Pulsator struct {
		log       *zap.Logger
		bartender *BarTender
		frames    int
		sources   [NumSources]loopsync.Pulse
		leaders   map[int]*loopsync.Pulse
	}

	// Locator is implemented by analyzers that know the native beat number
	// they started playing from.
	Locator interface {
		StartBeat() int
	}
)

func NewPulsator(bartender *BarTender, log *zap.Logger) *Pulsator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pulsator{
		log:       log.Named("pulsator"),
		bartender: bartender,
		leaders:   make(map[int]*loopsync.Pulse),
	}
}

func (p *Pulsator) AddLeader(track int) {
	if _, ok := p.leaders[track]; !ok {
		p.leaders[track] = &loopsync.Pulse{}
	}
}

func (p *Pulsator) RemoveLeader(track int) {
	delete(p.leaders, track)
}

// BeginBlock clears the pulses of the previous block. A pending leader pulse
// is moved into the new block, its frame re-expressed relative to the new
// block's start; it stays pending if it is beyond this block too.
func (p *Pulsator) BeginBlock(frames int) {
	for i := range p.sources {
		p.sources[i].Reset()
	}
	for _, l := range p.leaders {
		if !l.Pending {
			l.Reset()
			continue
		}
		l.BlockFrame -= p.frames
		if l.BlockFrame < 0 {
			l.BlockFrame = 0
		}
		if l.BlockFrame < frames {
			l.Pending = false
			p.bartender.AnnotateTrack(l)
		}
	}
	p.frames = frames
}

// Gather turns the result of a freshly analyzed source into its pulse.
func (p *Pulsator) Gather(source loopsync.SyncSource, a loopsync.Analyzer) {
	if source < 0 || int(source) >= NumSources {
		return
	}
	r := a.Result()
	pl := &p.sources[source]
	pl.Reset()
	if r.Started {
		if l, ok := a.(Locator); ok {
			beat := l.StartBeat()
			if !r.BeatDetected {
				// started between two beats; the next one is the first
				beat++
			}
			p.bartender.Locate(source, beat)
		}
	}
	switch {
	case r.Detected():
		pl.Source = source
		pl.BlockFrame = p.clamp(r.BlockOffset)
		pl.Start = r.Started
	case r.Stopped:
		pl.Source = source
		pl.Stop = true
	default:
		return
	}
	p.bartender.Annotate(pl, r, a)
}

// NotifyBoundaryCrossed records that leader crossed a unit boundary at
// offset in the current block. An offset at or beyond the end of the block
// makes the pulse pending: it is delivered in the next block instead.
func (p *Pulsator) NotifyBoundaryCrossed(leader int, unit loopsync.SyncUnit, offset int) {
	l, ok := p.leaders[leader]
	if !ok {
		p.log.Warn("boundary from an unknown leader", zap.Int("leader", leader))
		return
	}
	if l.IsSet() {
		p.log.Debug("second boundary in a block ignored",
			zap.Int("leader", leader),
			zap.Int("offset", offset),
			zap.Int("first", l.BlockFrame))
		return
	}
	*l = loopsync.Pulse{
		Source:     loopsync.SourceTrack,
		Leader:     leader,
		Unit:       unit,
		BlockFrame: max(offset, 0),
		Pending:    offset >= p.frames,
	}
	if !l.Pending {
		p.bartender.AnnotateTrack(l)
	}
}

// Resolve returns the source a follower effectively takes its pulses from.
// A Track follower without a leader follows the track sync master. A Master
// follower follows the Transport once another track is the master, and
// nothing before that. While a recording runs the source it was locked to is
// kept.
func (p *Pulsator) Resolve(f *loopsync.Follower, master int) (loopsync.SyncSource, int) {
	source := f.Source
	if f.Started && f.Locked {
		source = f.LockedSource
	}
	switch source {
	case loopsync.SourceTrack:
		leader := f.Leader
		if leader == 0 {
			leader = master
		}
		if leader == 0 || leader == f.ID {
			return loopsync.SourceNone, 0
		}
		return loopsync.SourceTrack, leader
	case loopsync.SourceMaster:
		if master != 0 && master != f.ID {
			return loopsync.SourceTransport, 0
		}
	case loopsync.SourceTransport, loopsync.SourceHost, loopsync.SourceMidi:
		return source, 0
	}
	return loopsync.SourceNone, 0
}

// Pulse returns the slot of a source in the current block, or nil for a
// source that has none.
func (p *Pulsator) Pulse(source loopsync.SyncSource, leader int) *loopsync.Pulse {
	switch source {
	case loopsync.SourceTrack:
		return p.leaders[leader]
	case loopsync.SourceTransport, loopsync.SourceHost, loopsync.SourceMidi:
		return &p.sources[source]
	}
	return nil
}

// RelevantPulse returns the pulse of the block the follower has to react
// to, or nil. A Beat follower takes any pulse, a Bar follower Bar and Loop
// pulses, a Loop follower only Loop pulses. Stop pulses concern every
// follower of the source; pending pulses concern nobody yet.
func (p *Pulsator) RelevantPulse(f *loopsync.Follower, master int) *loopsync.Pulse {
	pl := p.Pulse(p.Resolve(f, master))
	if pl == nil || !pl.IsSet() || pl.Pending {
		return nil
	}
	if pl.Stop || pl.Unit.Includes(f.EffectiveUnit()) {
		return pl
	}
	return nil
}

func (p *Pulsator) clamp(offset int) int {
	if offset < 0 {
		p.log.Warn("negative pulse offset", zap.Int("offset", offset))
		return 0
	}
	if p.frames > 0 && offset >= p.frames {
		p.log.Warn("pulse offset beyond the block", zap.Int("offset", offset), zap.Int("frames", p.frames))
		return p.frames - 1
	}
	return offset
}

package syncmaster

import (
	"github.com/loopsync/loopsync"
	"go.uber.org/zap"
)

type (
	// BarTender knows how many beats make a bar and how many bars make a
	// loop, per source and per leader track, and upgrades beat pulses to Bar
	// and Loop pulses accordingly.
	//
	// Counters hold the absolute number of the last beat seen; beat, bar and
	// loop positions are derived from it, so changing the time signature
	// never leaves a counter out of range.
	BarTender struct {
		log          *zap.Logger
		beatsPerBar  int
		barsPerLoop  int
		hostOverride bool
		sources      [NumSources]barCounter
		tracks       map[int]*barCounter
	}

	barCounter struct {
		beatsPerBar int // 0 = the session default
		barsPerLoop int
		last        int // number of the last beat, -1 before the first
		next        int
		warned      bool
	}
)

func NewBarTender(session loopsync.Session, log *zap.Logger) *BarTender {
	if log == nil {
		log = zap.NewNop()
	}
	b := &BarTender{
		log:          log.Named("bartender"),
		beatsPerBar:  session.BeatsPerBar,
		barsPerLoop:  session.BarsPerLoop,
		hostOverride: session.HostOverrideTimeSignature,
		tracks:       make(map[int]*barCounter),
	}
	for i := range b.sources {
		b.sources[i].last = -1
	}
	return b
}

// AddTrack registers a leader track with optional beats per bar and bars per
// loop overrides (0 keeps the session default).
func (b *BarTender) AddTrack(track, beatsPerBar, barsPerLoop int) {
	b.tracks[track] = &barCounter{beatsPerBar: beatsPerBar, barsPerLoop: barsPerLoop, last: -1}
}

func (b *BarTender) RemoveTrack(track int) {
	delete(b.tracks, track)
}

// SetHostBeatsPerBar applies a host time signature, if the session lets the
// host override it.
func (b *BarTender) SetHostBeatsPerBar(beatsPerBar int) {
	if !b.hostOverride || beatsPerBar <= 0 {
		return
	}
	c := &b.sources[loopsync.SourceHost]
	if c.beatsPerBar != beatsPerBar {
		b.log.Info("host time signature", zap.Int("beatsPerBar", beatsPerBar))
		c.beatsPerBar = beatsPerBar
	}
}

// SetTimeSignature sets beats per bar and bars per loop of a source. Zero
// values go back to the session defaults.
func (b *BarTender) SetTimeSignature(source loopsync.SyncSource, beatsPerBar, barsPerLoop int) {
	if c := b.counter(source, 0); c != nil {
		c.beatsPerBar = beatsPerBar
		c.barsPerLoop = barsPerLoop
	}
}

// BeatsPerBar returns the effective beats per bar of a source; leader is
// used only for SourceTrack.
func (b *BarTender) BeatsPerBar(source loopsync.SyncSource, leader int) int {
	bpb, _ := b.signature(b.counter(source, leader))
	return bpb
}

func (b *BarTender) BarsPerLoop(source loopsync.SyncSource, leader int) int {
	_, bpl := b.signature(b.counter(source, leader))
	return bpl
}

// BeatsPerUnit is how many beats of source make one unit.
func (b *BarTender) BeatsPerUnit(source loopsync.SyncSource, leader int, unit loopsync.SyncUnit) int {
	bpb, bpl := b.signature(b.counter(source, leader))
	switch unit {
	case loopsync.UnitBar:
		return bpb
	case loopsync.UnitLoop:
		return bpb * bpl
	}
	return 1
}

// Locate sets the number of the next beat of a source, e.g. after a MIDI
// Continue or a host starting in the middle of a song.
func (b *BarTender) Locate(source loopsync.SyncSource, beat int) {
	if c := b.counter(source, 0); c != nil {
		c.next = max(beat, 0)
	}
}

// Annotate sets the unit of a beat pulse of an analyzer source. A start
// pulse is always a Loop pulse; a stop pulse forgets the position. Sources
// that know their bars and loops natively are trusted; for the rest bars and
// loops are counted from beats.
func (b *BarTender) Annotate(p *loopsync.Pulse, r *loopsync.AnalyzerResult, a loopsync.Analyzer) {
	c := b.counter(p.Source, p.Leader)
	if c == nil {
		return
	}
	if p.Stop {
		c.last, c.next = -1, 0
		return
	}
	if a != nil && a.HasNativeBar() {
		b.countNative(c, p, r.BarDetected, r.LoopDetected && a.HasNativeLoop())
	} else {
		b.count(c, p)
	}
	if p.Start {
		p.Unit = loopsync.UnitLoop
	}
}

// AnnotateTrack counts a leader track pulse. Bar and Loop pulses reported by
// the track are trusted; beat pulses are upgraded by counting.
func (b *BarTender) AnnotateTrack(p *loopsync.Pulse) {
	c := b.counter(loopsync.SourceTrack, p.Leader)
	if c == nil {
		return
	}
	switch p.Unit {
	case loopsync.UnitBar, loopsync.UnitLoop:
		b.countNative(c, p, true, p.Unit == loopsync.UnitLoop)
	default:
		b.count(c, p)
	}
}

// Reset forgets the position of a source, e.g. when it stops.
func (b *BarTender) Reset(source loopsync.SyncSource, leader int) {
	if c := b.counter(source, leader); c != nil {
		c.last, c.next = -1, 0
	}
}

// Position returns the beat in the bar, the bar in the loop and the number
// of completed loops of a source.
func (b *BarTender) Position(source loopsync.SyncSource, leader int) (beat, bar, loop int) {
	c := b.counter(source, leader)
	if c == nil || c.last < 0 {
		return 0, 0, 0
	}
	bpb, bpl := b.signature(c)
	return c.last % bpb, (c.last / bpb) % bpl, c.last / (bpb * bpl)
}

func (b *BarTender) count(c *barCounter, p *loopsync.Pulse) {
	bpb, bpl := b.signature(c)
	n := c.next
	c.last, c.next = n, n+1
	switch {
	case n%(bpb*bpl) == 0:
		p.Unit = loopsync.UnitLoop
	case n%bpb == 0:
		p.Unit = loopsync.UnitBar
	default:
		p.Unit = loopsync.UnitBeat
	}
}

func (b *BarTender) countNative(c *barCounter, p *loopsync.Pulse, bar, loop bool) {
	bpb, bpl := b.signature(c)
	n := c.next
	switch {
	case loop:
		n = roundUp(n, bpb*bpl)
		p.Unit = loopsync.UnitLoop
	case bar:
		n = roundUp(n, bpb)
		p.Unit = loopsync.UnitBar
	default:
		p.Unit = loopsync.UnitBeat
	}
	c.last, c.next = n, n+1
}

func (b *BarTender) counter(source loopsync.SyncSource, leader int) *barCounter {
	switch source {
	case loopsync.SourceTrack:
		return b.tracks[leader]
	case loopsync.SourceTransport, loopsync.SourceHost, loopsync.SourceMidi:
		return &b.sources[source]
	}
	return nil
}

// signature returns the effective beats per bar and bars per loop of c,
// falling back to 4/1 if the configuration is unusable.
func (b *BarTender) signature(c *barCounter) (bpb, bpl int) {
	bpb, bpl = b.beatsPerBar, b.barsPerLoop
	if c != nil && c.beatsPerBar > 0 {
		bpb = c.beatsPerBar
	}
	if c != nil && c.barsPerLoop > 0 {
		bpl = c.barsPerLoop
	}
	if bpb > 0 && bpl > 0 {
		return bpb, bpl
	}
	if c != nil && !c.warned {
		c.warned = true
		b.log.Warn("unusable time signature, using defaults",
			zap.Int("beatsPerBar", bpb),
			zap.Int("barsPerLoop", bpl))
	}
	if bpb <= 0 {
		bpb = loopsync.DefaultBeatsPerBar
	}
	if bpl <= 0 {
		bpl = loopsync.DefaultBarsPerLoop
	}
	return bpb, bpl
}

func roundUp(n, m int) int {
	return (n + m - 1) / m * m
}

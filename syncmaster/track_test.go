package syncmaster_test

import (
	"github.com/loopsync/loopsync"
)

// testTrack records how it was advanced and what events it got.
type testTrack struct {
	number   int
	follower loopsync.Follower
	props    loopsync.TrackProperties
	slices   []slice
	events   []loopsync.SyncEvent
	block    int // index of the block being advanced, set by the test
	// onAdvance, if set, is called for every slice, e.g. to report boundaries
	onAdvance func(offset, frames int)
}

type slice struct {
	block, offset, frames int
}

func newTestTrack(number int, source loopsync.SyncSource, leader int, unit loopsync.SyncUnit) *testTrack {
	return &testTrack{
		number:   number,
		follower: loopsync.Follower{ID: number, Source: source, Leader: leader, Unit: unit},
	}
}

func (t *testTrack) Number() int                          { return t.number }
func (t *testTrack) Follower() *loopsync.Follower         { return &t.follower }
func (t *testTrack) Properties() loopsync.TrackProperties { return t.props }
func (t *testTrack) SyncEvent(ev *loopsync.SyncEvent)     { t.events = append(t.events, *ev) }
func (t *testTrack) Advance(offset, frames int) {
	t.slices = append(t.slices, slice{block: t.block, offset: offset, frames: frames})
	if t.onAdvance != nil {
		t.onAdvance(offset, frames)
	}
}

// framesIn sums the frames the track advanced in a block.
func (t *testTrack) framesIn(block int) int {
	n := 0
	for _, s := range t.slices {
		if s.block == block {
			n += s.frames
		}
	}
	return n
}

// leaderLoop makes a track report a boundary every length frames, as a
// looping leader track would.
func leaderLoop(t *testTrack, length int, unit loopsync.SyncUnit, notify func(leader int, unit loopsync.SyncUnit, offset int)) {
	pos := 0
	t.onAdvance = func(offset, frames int) {
		if until := length - pos; until < frames {
			notify(t.number, unit, offset+until)
		}
		pos = (pos + frames) % length
	}
}

// testAnalyzer is an analyzer whose result the test sets directly.
type testAnalyzer struct {
	result     loopsync.AnalyzerResult
	next       loopsync.AnalyzerResult
	native     bool
	unitLength int
	startBeat  int
}

func (a *testAnalyzer) Analyze(int)                      { a.result, a.next = a.next, loopsync.AnalyzerResult{} }
func (a *testAnalyzer) Result() *loopsync.AnalyzerResult { return &a.result }
func (a *testAnalyzer) Tempo() float64                   { return 120 }
func (a *testAnalyzer) UnitLength() int                  { return a.unitLength }
func (a *testAnalyzer) Locked() bool                     { return a.unitLength > 0 }
func (a *testAnalyzer) Running() bool                    { return true }
func (a *testAnalyzer) HasNativeBeat() bool              { return true }
func (a *testAnalyzer) HasNativeBar() bool               { return a.native }
func (a *testAnalyzer) HasNativeLoop() bool              { return a.native }
func (a *testAnalyzer) Drift() int                       { return 0 }
func (a *testAnalyzer) CorrectDrift()                    {}
func (a *testAnalyzer) StartBeat() int                   { return a.startBeat }

func (a *testAnalyzer) beat(offset int) {
	a.next = loopsync.AnalyzerResult{BeatDetected: true, BlockOffset: offset}
}

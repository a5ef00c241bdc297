package syncmaster

import (
	"github.com/loopsync/loopsync"
	"go.uber.org/zap"
)

type (
	// TimeSlicer advances the tracks through a block, leaders before their
	// followers, cutting each track's block at the frame of its relevant
	// pulse so that the track sees the boundary exactly where it happened.
	TimeSlicer struct {
		log    *zap.Logger
		tracks []loopsync.Track
		index  map[int]int
		marks  []mark
		order  []loopsync.Track
		master int
		dirty  bool
	}

	// SliceHandler is what the TimeSlicer asks about pulses. Boundary is
	// called at the pulse frame, between the two slices, and returns the
	// event to deliver to the track, or nil if the track has nothing to do
	// with the pulse.
	SliceHandler interface {
		TrackPulse(t loopsync.Track) *loopsync.Pulse
		Boundary(t loopsync.Track, p *loopsync.Pulse) *loopsync.SyncEvent
	}

	mark int
)

const (
	unvisited mark = iota
	visiting
	ordered
)

func NewTimeSlicer(log *zap.Logger) *TimeSlicer {
	if log == nil {
		log = zap.NewNop()
	}
	return &TimeSlicer{
		log:   log.Named("timeslicer"),
		index: make(map[int]int),
	}
}

// AddTrack registers a track. Adding a track with the number of a
// registered one replaces it.
func (s *TimeSlicer) AddTrack(t loopsync.Track) {
	if i, ok := s.index[t.Number()]; ok {
		s.tracks[i] = t
	} else {
		s.index[t.Number()] = len(s.tracks)
		s.tracks = append(s.tracks, t)
		s.marks = append(s.marks, unvisited)
	}
	s.dirty = true
}

func (s *TimeSlicer) RemoveTrack(number int) {
	i, ok := s.index[number]
	if !ok {
		return
	}
	s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
	s.marks = s.marks[:len(s.tracks)]
	clear(s.index)
	for j, t := range s.tracks {
		s.index[t.Number()] = j
	}
	s.dirty = true
}

// Track returns the registered track with the given number.
func (s *TimeSlicer) Track(number int) (loopsync.Track, bool) {
	i, ok := s.index[number]
	if !ok {
		return nil, false
	}
	return s.tracks[i], true
}

func (s *TimeSlicer) Tracks() []loopsync.Track { return s.tracks }

// MarkDirty makes the next Order recompute the ordering. Call it whenever a
// follower changes its source or leader.
func (s *TimeSlicer) MarkDirty() { s.dirty = true }

// Order returns the tracks in processing order: every track comes after the
// track it follows, master being the leader of Track followers without one.
// A cycle in the leader graph is cut where it is discovered; the tracks on
// it are processed in discovery order.
func (s *TimeSlicer) Order(master int) []loopsync.Track {
	if !s.dirty && master == s.master && len(s.order) == len(s.tracks) {
		return s.order
	}
	s.master = master
	s.dirty = false
	s.order = s.order[:0]
	for i := range s.marks {
		s.marks[i] = unvisited
	}
	for i := range s.tracks {
		s.visit(i)
	}
	return s.order
}

func (s *TimeSlicer) visit(i int) {
	switch s.marks[i] {
	case ordered:
		return
	case visiting:
		s.log.Debug("leader cycle", zap.Int("track", s.tracks[i].Number()))
		return
	}
	s.marks[i] = visiting
	if l, ok := s.leaderIndex(i); ok {
		s.visit(l)
	}
	s.marks[i] = ordered
	s.order = append(s.order, s.tracks[i])
}

func (s *TimeSlicer) leaderIndex(i int) (int, bool) {
	f := s.tracks[i].Follower()
	if f == nil || f.Source != loopsync.SourceTrack {
		return 0, false
	}
	leader := f.Leader
	if leader == 0 {
		leader = s.master
	}
	if leader == 0 || leader == s.tracks[i].Number() {
		return 0, false
	}
	l, ok := s.index[leader]
	return l, ok
}

// Process advances every track through a block of frames, in order.
func (s *TimeSlicer) Process(frames int, master int, h SliceHandler) {
	for _, t := range s.Order(master) {
		s.Slice(t, frames, h)
	}
}

// Slice advances one track through a block of frames. Without a relevant
// pulse the track advances over the whole block; otherwise it advances up to
// the pulse frame, gets the boundary event, and advances over the rest. A
// pulse on frame zero gives an empty first slice, which is skipped.
func (s *TimeSlicer) Slice(t loopsync.Track, frames int, h SliceHandler) {
	pos := 0
	if p := h.TrackPulse(t); p != nil {
		at := min(max(p.BlockFrame, 0), frames)
		if at > 0 {
			t.Advance(0, at)
			pos = at
		}
		if ev := h.Boundary(t, p); ev != nil {
			t.SyncEvent(ev)
		}
	}
	if pos < frames {
		t.Advance(pos, frames-pos)
	}
}

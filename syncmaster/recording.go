package syncmaster

import (
	"fmt"

	"github.com/loopsync/loopsync"
	"go.uber.org/zap"
)

type (
	recState int

	// recording is the synchronized recording state of one track. The
	// recording itself happens in the track; this only decides at which
	// pulse it starts, extends and ends.
	recording struct {
		state  recState
		goal   int // units to record, 0 = until stopped
		units  int // units elapsed since the start
		source loopsync.SyncSource
		leader int
	}
)

const (
	recIdle recState = iota
	recArmed
	recRunning
	recStopping
)

// Record arms a synchronized recording on a track: it starts at the next
// pulse relevant to the track's follower. A positive units bounds it to that
// many follower units, after which the track gets a Finalize event with the
// ideal length of the recording.
func (sm *SyncMaster) Record(track, units int) error {
	ts, ok := sm.tracks[track]
	if !ok {
		return fmt.Errorf("record on track %d: %w", track, ErrUnknownTrack)
	}
	switch ts.rec.state {
	case recRunning, recStopping:
		return fmt.Errorf("record on track %d: %w", track, ErrAlreadyRecording)
	}
	ts.rec = recording{state: recArmed, goal: max(units, 0)}
	sm.log.Debug("recording armed", zap.Int("track", track), zap.Int("units", units))
	return nil
}

// StopRecording ends the recording on a track at its next relevant pulse. An
// armed recording that has not started yet is just disarmed.
func (sm *SyncMaster) StopRecording(track int) error {
	ts, ok := sm.tracks[track]
	if !ok {
		return fmt.Errorf("stop recording on track %d: %w", track, ErrUnknownTrack)
	}
	switch ts.rec.state {
	case recArmed:
		ts.rec.state = recIdle
	case recRunning:
		ts.rec.state = recStopping
	case recStopping:
	default:
		return fmt.Errorf("stop recording on track %d: %w", track, ErrNotRecording)
	}
	return nil
}

// Recording reports whether a synchronized recording runs on the track.
func (sm *SyncMaster) Recording(track int) bool {
	ts, ok := sm.tracks[track]
	return ok && (ts.rec.state == recRunning || ts.rec.state == recStopping)
}

// boundary decides what a relevant pulse means for a track.
func (sm *SyncMaster) boundary(t loopsync.Track, p *loopsync.Pulse) *loopsync.SyncEvent {
	ts, ok := sm.tracks[t.Number()]
	if !ok {
		return sm.syncEvent(loopsync.SyncEventPulse, p, 0, 0)
	}
	rec := &ts.rec
	f := t.Follower()
	switch rec.state {
	case recArmed:
		if p.Stop {
			break
		}
		source, leader := sm.pulsator.Resolve(f, sm.trackSyncMaster)
		sm.startRecording(ts, source, leader)
		return sm.syncEvent(loopsync.SyncEventStart, p, 0, 0)
	case recRunning, recStopping:
		if p.Stop {
			units := rec.units
			sm.finishRecording(ts)
			return sm.syncEvent(loopsync.SyncEventStop, p, units, 0)
		}
		rec.units++
		units := rec.units
		if rec.state == recStopping {
			sm.finishRecording(ts)
			return sm.syncEvent(loopsync.SyncEventStop, p, units, 0)
		}
		if rec.goal > 0 && units >= rec.goal {
			length := sm.idealLength(ts, f)
			sm.finishRecording(ts)
			return sm.syncEvent(loopsync.SyncEventFinalize, p, units, length)
		}
		return sm.syncEvent(loopsync.SyncEventExtend, p, units, 0)
	}
	return sm.syncEvent(loopsync.SyncEventPulse, p, 0, 0)
}

// freeRecordings starts and stops the recordings of followers that have no
// source to wait for, at the start of the block. A Master follower without a
// master is one of these; when its recording stops, its track becomes the
// track sync master.
func (sm *SyncMaster) freeRecordings() {
	for _, ts := range sm.tracks {
		if ts.rec.state != recArmed && ts.rec.state != recStopping {
			continue
		}
		f := ts.track.Follower()
		if source, _ := sm.pulsator.Resolve(f, sm.trackSyncMaster); source != loopsync.SourceNone {
			continue
		}
		if ts.rec.state == recArmed {
			sm.startRecording(ts, loopsync.SourceNone, 0)
			ts.track.SyncEvent(sm.syncEvent(loopsync.SyncEventStart, &loopsync.Pulse{}, 0, 0))
			continue
		}
		units := ts.rec.units
		sm.finishRecording(ts)
		ts.track.SyncEvent(sm.syncEvent(loopsync.SyncEventStop, &loopsync.Pulse{}, units, 0))
		if f.Source == loopsync.SourceMaster && sm.trackSyncMaster == 0 {
			sm.becomeMaster(ts)
		}
	}
}

func (sm *SyncMaster) startRecording(ts *trackState, source loopsync.SyncSource, leader int) {
	f := ts.track.Follower()
	f.Lock(source, sm.lockLength(source, leader))
	ts.rec.state = recRunning
	ts.rec.units = 0
	ts.rec.source = source
	ts.rec.leader = leader
	sm.log.Info("recording started",
		zap.Int("track", ts.track.Number()),
		zap.Stringer("source", source),
		zap.Int("unitLength", f.UnitLength))
}

func (sm *SyncMaster) finishRecording(ts *trackState) {
	ts.track.Follower().Finish()
	sm.log.Info("recording finished", zap.Int("track", ts.track.Number()), zap.Int("units", ts.rec.units))
	ts.rec.state = recIdle
}

// idealLength is the length a bounded recording should end with: its unit
// count times the current length of a unit. If the source relocked while
// recording, this is not what was accumulated, and the difference is left
// to the track to absorb.
func (sm *SyncMaster) idealLength(ts *trackState, f *loopsync.Follower) int {
	unit := sm.unitSamples(ts.rec.source, ts.rec.leader, f.EffectiveUnit())
	if l := sm.lockLength(ts.rec.source, ts.rec.leader); l != f.UnitLength {
		sm.log.Info("unit length changed while recording",
			zap.Int("track", ts.track.Number()),
			zap.Int("started", f.UnitLength),
			zap.Int("now", l))
	}
	return unit * ts.rec.goal
}

// lockLength is the length a follower of source is locked to: the beat
// length of an analyzer, the loop length of a leader track.
func (sm *SyncMaster) lockLength(source loopsync.SyncSource, leader int) int {
	switch source {
	case loopsync.SourceTrack:
		if ts, ok := sm.tracks[leader]; ok {
			return ts.track.Properties().Frames
		}
	case loopsync.SourceTransport, loopsync.SourceHost, loopsync.SourceMidi:
		if a := sm.analyzers[source]; a != nil {
			return a.UnitLength()
		}
	}
	return 0
}

// unitSamples is the length of one unit of source, in samples.
func (sm *SyncMaster) unitSamples(source loopsync.SyncSource, leader int, unit loopsync.SyncUnit) int {
	if source == loopsync.SourceTrack {
		ts, ok := sm.tracks[leader]
		if !ok {
			return 0
		}
		props := ts.track.Properties()
		switch unit {
		case loopsync.UnitLoop:
			return props.Frames
		case loopsync.UnitBar:
			return props.CycleLength()
		}
		return props.CycleLength() / max(props.Subcycles, 1)
	}
	return sm.lockLength(source, leader) * sm.bartender.BeatsPerUnit(source, leader, unit)
}

func (sm *SyncMaster) syncEvent(typ loopsync.SyncEventType, p *loopsync.Pulse, units, length int) *loopsync.SyncEvent {
	sm.event = loopsync.SyncEvent{
		Type:         typ,
		Pulse:        *p,
		ElapsedUnits: units,
		NewLength:    length,
	}
	return &sm.event
}

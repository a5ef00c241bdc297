package loopsync

import "errors"

var ErrFollowerStarted = errors.New("follower source cannot change while a synchronized recording is running")

// Follower is what a track registers to say what it wants to synchronize to.
// One exists per track; the track layer owns it, the sync engine reads and
// writes only these fields.
type Follower struct {
	ID     int
	Source SyncSource
	Leader int // leader track number when Source == SourceTrack, 0 means the default leader
	Unit   SyncUnit

	// Started is true while a recording driven by this follower runs; the
	// source is then locked to LockedSource.
	Started      bool
	Locked       bool
	LockedSource SyncSource
	UnitLength   int
}

// SetSource changes what the follower synchronizes to. It fails with
// ErrFollowerStarted while a synchronized recording is running.
func (f *Follower) SetSource(source SyncSource, leader int, unit SyncUnit) error {
	if f.Started {
		return ErrFollowerStarted
	}
	f.Source = source
	f.Leader = leader
	f.Unit = unit
	return nil
}

// Lock pins the follower to source and unitLength for the duration of a
// recording.
func (f *Follower) Lock(source SyncSource, unitLength int) {
	f.Started = true
	f.Locked = true
	f.LockedSource = source
	f.UnitLength = unitLength
}

// Finish ends the running recording. The follower stays locked to its
// source and unit length, because the recorded material depends on them,
// until Reset.
func (f *Follower) Finish() {
	f.Started = false
}

// Reset forgets everything recorded against the follower.
func (f *Follower) Reset() {
	f.Started = false
	f.Locked = false
	f.LockedSource = SourceNone
	f.UnitLength = 0
}

// LockedTo reports whether recorded material of the follower depends on
// unitLength of source.
func (f *Follower) LockedTo(source SyncSource, unitLength int) bool {
	return f.Locked && f.LockedSource == source && f.UnitLength == unitLength
}

// EffectiveUnit returns the unit the follower waits for; UnitNone is treated
// as Beat.
func (f *Follower) EffectiveUnit() SyncUnit {
	if f.Unit == UnitNone {
		return UnitBeat
	}
	return f.Unit
}

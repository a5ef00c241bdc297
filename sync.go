package loopsync

import (
	"fmt"
)

type (
	// SyncSource identifies where a follower takes its synchronization
	// pulses from. SourceTrack is parameterized by a leader track number,
	// carried separately in Follower.Leader and Pulse.Leader.
	SyncSource int

	// SyncUnit is the granularity of a pulse, or the granularity a follower
	// wants to synchronize to. Units are ordered: a Loop is also a Bar, and a
	// Bar is also a Beat.
	SyncUnit int
)

const (
	SourceNone SyncSource = iota
	SourceTransport
	SourceTrack
	SourceHost
	SourceMidi
	// SourceMaster requests whichever track becomes the track sync master.
	SourceMaster
)

const (
	// UnitNone means the unit comes from elsewhere, e.g. the follower just
	// takes whatever pulse the source gives.
	UnitNone SyncUnit = iota
	UnitBeat
	UnitBar
	UnitLoop
)

var sourceNames = [...]string{"none", "transport", "track", "host", "midi", "master"}
var unitNames = [...]string{"none", "beat", "bar", "loop"}

func (s SyncSource) String() string {
	if s < 0 || int(s) >= len(sourceNames) {
		return fmt.Sprintf("source(%d)", int(s))
	}
	return sourceNames[s]
}

func (s SyncSource) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(sourceNames) {
		return nil, fmt.Errorf("unknown sync source %d", int(s))
	}
	return []byte(sourceNames[s]), nil
}

func (s *SyncSource) UnmarshalText(text []byte) error {
	for i, n := range sourceNames {
		if n == string(text) {
			*s = SyncSource(i)
			return nil
		}
	}
	return fmt.Errorf("unknown sync source %q", string(text))
}

func (u SyncUnit) String() string {
	if u < 0 || int(u) >= len(unitNames) {
		return fmt.Sprintf("unit(%d)", int(u))
	}
	return unitNames[u]
}

func (u SyncUnit) MarshalText() ([]byte, error) {
	if u < 0 || int(u) >= len(unitNames) {
		return nil, fmt.Errorf("unknown sync unit %d", int(u))
	}
	return []byte(unitNames[u]), nil
}

func (u *SyncUnit) UnmarshalText(text []byte) error {
	for i, n := range unitNames {
		if n == string(text) {
			*u = SyncUnit(i)
			return nil
		}
	}
	return fmt.Errorf("unknown sync unit %q", string(text))
}

// Includes reports whether a pulse of unit u also marks a boundary of unit
// other: a Loop includes Bar and Beat, a Bar includes Beat. UnitNone includes
// nothing and is included by nothing.
func (u SyncUnit) Includes(other SyncUnit) bool {
	if u == UnitNone || other == UnitNone {
		return false
	}
	return u >= other
}

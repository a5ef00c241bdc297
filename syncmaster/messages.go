package syncmaster

import (
	"fmt"

	"github.com/loopsync/loopsync"
)

type (
	// TransportMsg asks the Transport to change state.
	TransportMsg struct{ Action TransportAction }

	TransportAction int

	// TempoMsg sets the Transport tempo in BPM, or, if Millis is set, the
	// beat length in milliseconds.
	TempoMsg struct {
		Tempo  float64
		Millis float64
	}

	// TimeSignatureMsg sets the Transport's beats per bar and bars per loop.
	// Non-positive values leave the current ones.
	TimeSignatureMsg struct{ BeatsPerBar, BarsPerLoop int }

	// ConnectMsg connects the Transport to a track, deriving the tempo from
	// the track's loop.
	ConnectMsg struct{ Track int }

	// FollowMsg changes what a track synchronizes to.
	FollowMsg struct {
		Track  int
		Source loopsync.SyncSource
		Leader int
		Unit   loopsync.SyncUnit
	}

	// RecordMsg arms (Record true) or ends (Record false) a synchronized
	// recording on a track. Units bounds an armed recording to that many
	// follower units; 0 records until told to stop.
	RecordMsg struct {
		Track  int
		Record bool
		Units  int
	}

	// ResetMsg resets a track, unlocking its follower.
	ResetMsg struct{ Track int }
)

const (
	TransportStart TransportAction = iota
	TransportStop
	TransportPause
	TransportResume
	TransportTap
	// TransportMidiStart sends a MIDI Start even when manual start is set.
	TransportMidiStart
)

var transportActionNames = [...]string{"start", "stop", "pause", "resume", "tap", "midistart"}

func (a TransportAction) String() string {
	if a < 0 || int(a) >= len(transportActionNames) {
		return "unknown"
	}
	return transportActionNames[a]
}

// ParseTransportAction is the inverse of TransportAction.String.
func ParseTransportAction(name string) (TransportAction, error) {
	for i, n := range transportActionNames {
		if n == name {
			return TransportAction(i), nil
		}
	}
	return 0, fmt.Errorf("unknown transport action %q", name)
}

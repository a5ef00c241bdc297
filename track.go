package loopsync

type (
	// Track is the part of an audio track the sync engine talks to. The
	// looping and recording logic behind it is not the engine's business.
	Track interface {
		Number() int
		Follower() *Follower
		Properties() TrackProperties
		// Advance moves the track forward by frames, starting at blockOffset
		// of the current block. A block may be advanced in several slices.
		Advance(blockOffset, frames int)
		// SyncEvent is delivered between slices, exactly at the frame where a
		// pulse relevant to the track occurred.
		SyncEvent(ev *SyncEvent)
	}

	// TrackProperties is a read-only snapshot of a track's loop, used for
	// connecting the Transport and for deriving unit lengths.
	TrackProperties struct {
		Frames    int
		Cycles    int
		Subcycles int
	}

	SyncEventType int

	// SyncEvent is the boundary callback delivered to a track mid-block.
	SyncEvent struct {
		Type         SyncEventType
		Pulse        Pulse
		ElapsedUnits int
		// NewLength is the ideal final length of a bounded recording, set for
		// SyncEventFinalize.
		NewLength int
	}
)

const (
	// SyncEventPulse is a relevant pulse with no recording attached.
	SyncEventPulse SyncEventType = iota
	SyncEventStart
	SyncEventStop
	SyncEventExtend
	SyncEventFinalize
)

var syncEventNames = [...]string{"pulse", "start", "stop", "extend", "finalize"}

func (t SyncEventType) String() string {
	if t < 0 || int(t) >= len(syncEventNames) {
		return "unknown"
	}
	return syncEventNames[t]
}

// CycleLength returns the length of one cycle, or 0 if the track is empty.
func (p TrackProperties) CycleLength() int {
	if p.Frames <= 0 || p.Cycles <= 0 {
		return 0
	}
	return p.Frames / p.Cycles
}

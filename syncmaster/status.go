package syncmaster

import "github.com/loopsync/loopsync"

type (
	// Status is a snapshot of the engine, published after every block.
	Status struct {
		Sources         [NumSources]SourceStatus
		Transport       string
		TrackSyncMaster int
		MidiOutDrift    int
		Recording       int // tracks with a synchronized recording running
	}

	// SourceStatus is the display state of one sync source.
	SourceStatus struct {
		Enabled    bool
		Running    bool
		Locked     bool
		Tempo      float64
		UnitLength int
		Drift      int
		Beat       int
		Bar        int
		Loop       int
	}
)

// NumSources is the number of SyncSource values; arrays indexed by source
// have this length.
const NumSources = int(loopsync.SourceMaster) + 1

// Source returns the status of source.
func (s *Status) Source(source loopsync.SyncSource) SourceStatus {
	if source < 0 || int(source) >= NumSources {
		return SourceStatus{}
	}
	return s.Sources[source]
}

package loopsync

type (
	// AnalyzerResult is what an Analyzer found during one block. It is reset
	// at the start of every Analyze call. BlockOffset is meaningful only if
	// one of the Detected flags is set.
	AnalyzerResult struct {
		Started              bool
		Stopped              bool
		BeatDetected         bool
		BarDetected          bool
		LoopDetected         bool
		BlockOffset          int
		TempoChanged         bool
		TimeSignatureChanged bool
	}

	// Pulse is a block-local synchronization event. Pulses are rebuilt every
	// block; only a pending leader pulse survives into the next block, where
	// it is re-expressed relative to frame zero.
	Pulse struct {
		Source     SyncSource
		Leader     int // leader track number, for SourceTrack pulses
		Unit       SyncUnit
		BlockFrame int
		Start      bool
		Stop       bool
		Pending    bool
	}
)

func (r *AnalyzerResult) Reset() {
	*r = AnalyzerResult{}
}

// Detected reports whether the result carries a beat-class event.
func (r *AnalyzerResult) Detected() bool {
	return r.BeatDetected || r.BarDetected || r.LoopDetected
}

func (p *Pulse) Reset() {
	*p = Pulse{}
}

// IsSet reports whether the slot holds a pulse for the current block.
func (p *Pulse) IsSet() bool {
	return p.Source != SourceNone
}

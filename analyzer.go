package loopsync

// Analyzer turns one timing source into a normalized per-block result. The
// audio thread calls Analyze once per block, before anything reads Result.
type Analyzer interface {
	Analyze(frames int)
	Result() *AnalyzerResult

	// Tempo is for display and may fluctuate; UnitLength is what
	// synchronization uses and changes only when the analyzer relocks. It is
	// zero before the first lock.
	Tempo() float64
	UnitLength() int
	Locked() bool
	Running() bool

	// Native flags tell whether the source itself knows where bars and loops
	// are, or whether bar/loop boundaries have to be counted from beats.
	HasNativeBeat() bool
	HasNativeBar() bool
	HasNativeLoop() bool

	// Drift is the signed sample divergence of the raw source beats from the
	// normalized beats, source minus local.
	Drift() int
	// CorrectDrift moves the normalized beat stream onto the raw one and
	// reorients the drift monitor.
	CorrectDrift()
}

package analyzer

// DriftMonitor measures how far the raw beats of a source have moved away
// from the normalized beats generated locally at a fixed unit length. Both
// streams are reported with their offsets in the current block; Advance moves
// the stream clock at the end of the block.
//
// Drift is source time minus local time, wrapped into half a unit either way,
// so a source beat slightly before a local beat gives a small negative drift
// rather than almost a whole unit.
type DriftMonitor struct {
	unitLength int
	streamTime int // samples since the last Orient
	sourceTime int
	localTime  int
	hasSource  bool
	hasLocal   bool
	drift      int
}

// Orient restarts the measurement, e.g. when the source starts or the unit
// length changes. Drift is zero until both streams have produced a beat.
func (d *DriftMonitor) Orient(unitLength int) {
	*d = DriftMonitor{unitLength: unitLength}
}

// SourceBeat records a raw beat of the source at offset in the current block.
func (d *DriftMonitor) SourceBeat(offset int) {
	d.sourceTime = d.streamTime + offset
	d.hasSource = true
	d.update()
}

// LocalBeat records a normalized beat at offset in the current block.
func (d *DriftMonitor) LocalBeat(offset int) {
	d.localTime = d.streamTime + offset
	d.hasLocal = true
	d.update()
}

func (d *DriftMonitor) Advance(frames int) {
	d.streamTime += frames
}

func (d *DriftMonitor) Drift() int {
	return d.drift
}

func (d *DriftMonitor) UnitLength() int {
	return d.unitLength
}

func (d *DriftMonitor) update() {
	if !d.hasSource || !d.hasLocal || d.unitLength <= 0 {
		return
	}
	diff := (d.sourceTime - d.localTime) % d.unitLength
	half := d.unitLength / 2
	if diff > half {
		diff -= d.unitLength
	} else if diff <= -half {
		diff += d.unitLength
	}
	d.drift = diff
}

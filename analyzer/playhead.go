package analyzer

// PlayHead generates normalized beats: a sample counter advanced by the block
// size that emits a beat every time it crosses the unit length. Downstream
// consumers see these beats rather than the raw source beats, so beats always
// have a constant width no matter how jittery the source is.
type PlayHead struct {
	unitLength int
	position   int // samples since the last beat
	units      int // beats since Restart
}

func (p *PlayHead) UnitLength() int { return p.unitLength }
func (p *PlayHead) Position() int   { return p.position }
func (p *PlayHead) Units() int      { return p.units }

// SetUnitLength changes the unit length without moving the play head. If the
// position is already past the new length, the next Advance beats at offset 0.
func (p *PlayHead) SetUnitLength(unitLength int) {
	p.unitLength = unitLength
}

// Restart places a beat at offset of a block of frames and continues from
// there. The beat itself is not reported by Restart; the caller emits it.
func (p *PlayHead) Restart(offset, frames int) {
	p.units = 0
	p.position = max(frames-offset, 0)
	p.wrap()
}

// Phase places the play head position samples after a beat, without touching
// the unit counter. Used to align with a source that was already running.
func (p *PlayHead) Phase(position int) {
	p.position = max(position, 0)
	p.wrap()
}

// Shift moves the play head by delta samples; a positive delta moves it
// forward so the next beat comes sooner.
func (p *PlayHead) Shift(delta int) {
	p.position += delta
	p.wrap()
}

// Reset stops the play head at the beginning.
func (p *PlayHead) Reset() {
	p.position = 0
	p.units = 0
}

// Advance moves the play head over a block of frames. If it crosses the unit
// length, the offset of the crossing within the block is returned. At most
// one beat is reported per block.
func (p *PlayHead) Advance(frames int) (offset int, beat bool) {
	if p.unitLength <= 0 || frames <= 0 {
		return 0, false
	}
	if p.position+frames > p.unitLength {
		offset = max(p.unitLength-p.position, 0)
		beat = true
		p.units++
		p.position = p.position + frames - p.unitLength
		p.wrap()
		return offset, beat
	}
	p.position += frames
	return 0, false
}

func (p *PlayHead) wrap() {
	if p.unitLength <= 0 {
		return
	}
	if p.position >= p.unitLength && p.position > 0 {
		// the exact unit length is kept so that the beat falls on the first
		// frame of the next block
		if p.position != p.unitLength {
			p.position %= p.unitLength
		}
	}
	if p.position < 0 {
		p.position = p.position%p.unitLength + p.unitLength
	}
}

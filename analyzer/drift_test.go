package analyzer_test

import (
	"testing"

	"github.com/loopsync/loopsync/analyzer"
)

func TestDriftZeroAfterOrient(t *testing.T) {
	var d analyzer.DriftMonitor
	d.Orient(1000)
	d.SourceBeat(10)
	d.LocalBeat(0)
	if d.Drift() != 10 {
		t.Fatalf("drift = %d, want 10", d.Drift())
	}
	d.Orient(1000)
	if d.Drift() != 0 {
		t.Fatalf("drift right after Orient = %d, want 0", d.Drift())
	}
}

func TestDriftAccumulates(t *testing.T) {
	var d analyzer.DriftMonitor
	d.Orient(1000)
	// source beats are 1001 samples apart, local beats 1000
	src, local := 0, 0
	for block := 0; block < 20; block++ {
		start := block * 256
		for src < start+256 {
			if src >= start {
				d.SourceBeat(src - start)
			}
			src += 1001
		}
		for local < start+256 {
			if local >= start {
				d.LocalBeat(local - start)
			}
			local += 1000
		}
		d.Advance(256)
	}
	// five beats in, the source is five samples late
	if d.Drift() != 5 {
		t.Fatalf("drift = %d, want 5", d.Drift())
	}
}

func TestDriftWrapsToNearestBeat(t *testing.T) {
	var d analyzer.DriftMonitor
	d.Orient(1000)
	d.LocalBeat(0)
	d.Advance(990)
	d.SourceBeat(0) // 10 samples before the next local beat
	if d.Drift() != -10 {
		t.Fatalf("drift = %d, want -10", d.Drift())
	}
}

func TestPlayHead(t *testing.T) {
	var p analyzer.PlayHead
	p.SetUnitLength(1000)
	p.Restart(0, 256)
	var offsets []int
	for block := 1; block < 11; block++ {
		if offset, beat := p.Advance(256); beat {
			offsets = append(offsets, block*256+offset)
		}
	}
	want := []int{1000, 2000}
	if len(offsets) != len(want) {
		t.Fatalf("beats at %v, want %v", offsets, want)
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Fatalf("beats at %v, want %v", offsets, want)
		}
	}
	if p.Units() != 2 {
		t.Fatalf("units = %d, want 2", p.Units())
	}
}

func TestPlayHeadBeatOnBlockBoundary(t *testing.T) {
	var p analyzer.PlayHead
	p.SetUnitLength(512)
	p.Restart(0, 256)
	if _, beat := p.Advance(256); beat {
		t.Fatalf("beat reported one block early")
	}
	offset, beat := p.Advance(256)
	if !beat || offset != 0 {
		t.Fatalf("Advance = (%d, %v), want (0, true)", offset, beat)
	}
}

func TestPlayHeadShift(t *testing.T) {
	var p analyzer.PlayHead
	p.SetUnitLength(1000)
	p.Restart(0, 100)
	p.Shift(-200)
	if p.Position() != 900 {
		t.Fatalf("position = %d, want 900", p.Position())
	}
	p.Shift(150)
	if p.Position() != 50 {
		t.Fatalf("position = %d, want 50", p.Position())
	}
}

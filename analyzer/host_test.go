package analyzer_test

import (
	"testing"

	"github.com/loopsync/loopsync/analyzer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hostScript struct {
	times []analyzer.HostTime
	ok    bool
}

func (h *hostScript) HostTime() (analyzer.HostTime, bool) {
	if len(h.times) == 0 {
		return analyzer.HostTime{}, false
	}
	t := h.times[0]
	h.times = h.times[1:]
	return t, h.ok
}

func TestHostWithoutPPQ(t *testing.T) {
	h := analyzer.NewHostAnalyzer(&hostScript{times: []analyzer.HostTime{{Playing: true, Tempo: 120, TempoValid: true}}, ok: true})
	h.Analyze(256)
	r := h.Result()
	assert.False(t, r.Started || r.Stopped || r.BeatDetected || r.TempoChanged, "no PPQ means no host sync")
	assert.False(t, h.Running())
}

func TestHostTempoUnitLength(t *testing.T) {
	script := &hostScript{ok: true}
	for _, tempo := range []float64{120, 120, 120.0000001, 60} {
		script.times = append(script.times, analyzer.HostTime{PPQValid: true, TempoValid: true, Tempo: tempo})
	}
	h := analyzer.NewHostAnalyzer(script)
	h.Analyze(256)
	require.True(t, h.Result().TempoChanged)
	assert.Equal(t, 22050, h.UnitLength())
	h.Analyze(256)
	assert.False(t, h.Result().TempoChanged, "same tempo is no change")
	h.Analyze(256)
	assert.False(t, h.Result().TempoChanged, "floating point noise is no change")
	h.Analyze(256)
	assert.True(t, h.Result().TempoChanged)
	assert.Equal(t, 44100, h.UnitLength())
}

func TestHostExactBeatStart(t *testing.T) {
	h := analyzer.NewHostAnalyzer(&hostScript{ok: true, times: []analyzer.HostTime{
		{Playing: true, PPQValid: true, PPQ: 8, TempoValid: true, Tempo: 120},
	}})
	h.Analyze(256)
	r := h.Result()
	assert.True(t, r.Started)
	assert.True(t, r.BeatDetected)
	assert.Equal(t, 0, r.BlockOffset)
	assert.Equal(t, 8, h.BeatNumber())
}

func TestHostBeatLocalizedWithHostTempo(t *testing.T) {
	// 52.92 BPM is 0.00002 beats per sample at 44100
	h := analyzer.NewHostAnalyzer(&hostScript{ok: true, times: []analyzer.HostTime{
		{Playing: true, PPQValid: true, PPQ: 3.99, TempoValid: true, Tempo: 52.92},
		{Playing: true, PPQValid: true, PPQ: 3.99512, TempoValid: true, Tempo: 52.92},
	}})
	h.Analyze(256)
	assert.True(t, h.Result().Started)
	assert.False(t, h.Result().BeatDetected)
	h.Analyze(256)
	r := h.Result()
	require.True(t, r.BeatDetected)
	assert.Equal(t, 244, r.BlockOffset)
}

func TestHostBeatLocalizedWithDerivedTempo(t *testing.T) {
	// no host tempo: beats per sample comes from the PPQ advance over the
	// previous 256 sample block
	h := analyzer.NewHostAnalyzer(&hostScript{ok: true, times: []analyzer.HostTime{
		{Playing: true, PPQValid: true, PPQ: 3.94},
		{Playing: true, PPQValid: true, PPQ: 3.98},
		{Playing: true, PPQValid: true, PPQ: 4.02},
	}})
	h.Analyze(256)
	assert.True(t, h.Result().Started)
	assert.False(t, h.Locked())
	h.Analyze(256)
	r := h.Result()
	assert.True(t, r.TempoChanged)
	assert.Equal(t, 6400, h.UnitLength())
	require.True(t, r.BeatDetected)
	assert.Greater(t, r.BlockOffset, 0, "the beat is inside the block, not at its start")
	assert.InDelta(t, 128, r.BlockOffset, 1)
	h.Analyze(256)
	assert.False(t, h.Result().BeatDetected)
}

func TestHostDerivedTempoWobble(t *testing.T) {
	script := &hostScript{ok: true}
	ppq := 0.5
	// alternate between slightly different PPQ advances whose unit lengths
	// differ by less than the wobble threshold
	for i := 0; i < 40; i++ {
		script.times = append(script.times, analyzer.HostTime{Playing: true, PPQValid: true, PPQ: ppq})
		if i%2 == 0 {
			ppq += 256.0 / 22050
		} else {
			ppq += 256.0 / 22054
		}
	}
	h := analyzer.NewHostAnalyzer(script)
	h.Analyze(256)
	h.Analyze(256)
	first := h.UnitLength()
	require.NotZero(t, first)
	for i := 2; i < 40; i++ {
		h.Analyze(256)
		assert.Equal(t, first, h.UnitLength(), "unit length moved on block %d", i)
	}
}

func TestHostStop(t *testing.T) {
	h := analyzer.NewHostAnalyzer(&hostScript{ok: true, times: []analyzer.HostTime{
		{Playing: true, PPQValid: true, PPQ: 1, TempoValid: true, Tempo: 120},
		{Playing: false, PPQValid: true, PPQ: 1.01, TempoValid: true, Tempo: 120},
	}})
	h.Analyze(256)
	h.Analyze(256)
	assert.True(t, h.Result().Stopped)
	assert.False(t, h.Running())
}

func TestHostTimeSignature(t *testing.T) {
	h := analyzer.NewHostAnalyzer(&hostScript{ok: true, times: []analyzer.HostTime{
		{PPQValid: true, TimeSigValid: true, BeatsPerBar: 3},
		{PPQValid: true, TimeSigValid: true, BeatsPerBar: 3},
	}})
	h.Analyze(256)
	assert.True(t, h.Result().TimeSignatureChanged)
	h.Analyze(256)
	assert.False(t, h.Result().TimeSignatureChanged)
	bpb, ok := h.TimeSignature()
	assert.True(t, ok)
	assert.Equal(t, 3, bpb)
}

func TestNilLoggerIsIgnored(t *testing.T) {
	// an invalid sample rate is logged while building the options
	h := analyzer.NewHostAnalyzer(&hostScript{}, analyzer.WithLogger(nil), analyzer.WithSampleRate(0))
	h.Analyze(256)
	assert.False(t, h.Running())
}

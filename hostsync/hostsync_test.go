package hostsync_test

import (
	"testing"

	"github.com/loopsync/loopsync"
	"github.com/loopsync/loopsync/analyzer"
	"github.com/loopsync/loopsync/hostsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// playingHost plays at 120 BPM without reporting its tempo, so the engine
// has to derive it from the PPQ advance.
type playingHost struct {
	rate int
	ppq  float64
}

func (h *playingHost) SampleRate() int { return h.rate }

func (h *playingHost) HostTime() (analyzer.HostTime, bool) {
	return analyzer.HostTime{Playing: true, PPQValid: true, PPQ: h.ppq}, true
}

func (h *playingHost) run(e *hostsync.Engine, blocks, frames int) {
	for i := 0; i < blocks; i++ {
		e.Process(frames)
		h.ppq += float64(frames) / float64(h.rate) * 2
	}
}

func TestEngineRunsAtHostRate(t *testing.T) {
	host := &playingHost{rate: 48000}
	e := hostsync.New(loopsync.DefaultSession(), host, nil)
	require.Equal(t, 48000, e.SampleRate())
	host.run(e, 20, 512)
	h := e.SyncMaster().Host()
	assert.InDelta(t, 120.0, h.Tempo(), 0.01)
	assert.InDelta(t, 24000, h.UnitLength(), 2)
}

func TestEngineFollowsSampleRateChange(t *testing.T) {
	host := &playingHost{}
	e := hostsync.New(loopsync.DefaultSession(), host, nil)
	assert.Equal(t, 44100, e.SampleRate(), "the session rate until the host reports one")

	host.rate = 48000
	host.run(e, 20, 256)
	assert.Equal(t, 48000, e.SampleRate())
	assert.InDelta(t, 24000, e.SyncMaster().Host().UnitLength(), 2)

	first := e.SyncMaster()
	host.rate = 96000
	host.run(e, 20, 256)
	assert.Equal(t, 96000, e.SampleRate())
	assert.NotSame(t, first, e.SyncMaster())
	assert.InDelta(t, 48000, e.SyncMaster().Host().UnitLength(), 2)
}

func TestProcessReusesBuffer(t *testing.T) {
	e := hostsync.New(loopsync.DefaultSession(), &playingHost{rate: 44100}, nil)
	a := e.Process(256)
	b := e.Process(128)
	assert.Len(t, b, 128)
	assert.Same(t, &a[0], &b[0])
}

package syncmaster_test

import (
	"testing"
	"time"

	"github.com/loopsync/loopsync"
	"github.com/loopsync/loopsync/analyzer"
	"github.com/loopsync/loopsync/syncmaster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockSize = 512

func run(sm *syncmaster.SyncMaster, from, to int, tracks ...*testTrack) {
	for block := from; block < to; block++ {
		for _, t := range tracks {
			t.block = block
		}
		sm.ProcessBlock(blockSize)
	}
}

func alerts(b *syncmaster.Broker) []syncmaster.Alert {
	_, _, rest := b.LatestStatus(nil)
	var ret []syncmaster.Alert
	for _, r := range rest {
		if a, ok := r.(syncmaster.Alert); ok {
			ret = append(ret, a)
		}
	}
	return ret
}

func TestRecordTwoBarsOnTransport(t *testing.T) {
	sm := syncmaster.New(loopsync.DefaultSession())
	tr := newTestTrack(1, loopsync.SourceTransport, 0, loopsync.UnitBar)
	require.NoError(t, sm.AddTrack(tr))
	require.NoError(t, sm.Record(1, 2))
	sm.Transport().Start()

	// at 120 BPM a beat is 22050 samples: bar 1 is frame 136 of block 172,
	// bar 2 frame 272 of block 344
	run(sm, 0, 345, tr)
	require.Len(t, tr.events, 3)

	start, extend, finalize := tr.events[0], tr.events[1], tr.events[2]
	assert.Equal(t, loopsync.SyncEventStart, start.Type)
	assert.Equal(t, 0, start.Pulse.BlockFrame)
	assert.True(t, start.Pulse.Start)

	assert.Equal(t, loopsync.SyncEventExtend, extend.Type)
	assert.Equal(t, 1, extend.ElapsedUnits)
	assert.Equal(t, 136, extend.Pulse.BlockFrame)

	assert.Equal(t, loopsync.SyncEventFinalize, finalize.Type)
	assert.Equal(t, 2, finalize.ElapsedUnits)
	assert.Equal(t, 272, finalize.Pulse.BlockFrame)
	assert.Equal(t, 176400, finalize.NewLength)

	assert.Contains(t, tr.slices, slice{block: 172, offset: 0, frames: 136})
	assert.Contains(t, tr.slices, slice{block: 172, offset: 136, frames: blockSize - 136})
	for block := 0; block < 345; block++ {
		assert.Equal(t, blockSize, tr.framesIn(block), "block %d", block)
	}

	f := tr.Follower()
	assert.False(t, f.Started)
	assert.True(t, f.LockedTo(loopsync.SourceTransport, 22050))
	assert.Equal(t, 1, sm.LockCount(loopsync.SourceTransport, 22050))
	assert.False(t, sm.Recording(1))
}

func TestStopRecordingAtNextPulse(t *testing.T) {
	sm := syncmaster.New(loopsync.DefaultSession())
	tr := newTestTrack(1, loopsync.SourceTransport, 0, loopsync.UnitBeat)
	require.NoError(t, sm.AddTrack(tr))
	require.NoError(t, sm.Record(1, 0))
	sm.Transport().Start()
	run(sm, 0, 1, tr)
	assert.True(t, sm.Recording(1))
	assert.Equal(t, 1, sm.Status().Recording)
	require.NoError(t, sm.StopRecording(1))
	assert.True(t, sm.Recording(1), "stops at the next beat only")

	// beat 1 is at frame 22050, in block 43
	run(sm, 1, 44, tr)
	require.Len(t, tr.events, 2)
	assert.Equal(t, loopsync.SyncEventStop, tr.events[1].Type)
	assert.Equal(t, 1, tr.events[1].ElapsedUnits)
	assert.Equal(t, 22050-43*blockSize, tr.events[1].Pulse.BlockFrame)
	assert.ErrorIs(t, sm.StopRecording(1), syncmaster.ErrNotRecording)
}

func TestRecordingStopsWithSource(t *testing.T) {
	sm := syncmaster.New(loopsync.DefaultSession())
	tr := newTestTrack(1, loopsync.SourceTransport, 0, loopsync.UnitLoop)
	require.NoError(t, sm.AddTrack(tr))
	require.NoError(t, sm.Record(1, 4))
	sm.Transport().Start()
	run(sm, 0, 10, tr)
	sm.Transport().Stop()
	run(sm, 10, 11, tr)
	require.Len(t, tr.events, 2)
	assert.Equal(t, loopsync.SyncEventStop, tr.events[1].Type)
	assert.True(t, tr.events[1].Pulse.Stop)
	assert.False(t, sm.Recording(1))
}

func TestRecordErrors(t *testing.T) {
	sm := syncmaster.New(loopsync.DefaultSession())
	assert.ErrorIs(t, sm.Record(7, 1), syncmaster.ErrUnknownTrack)
	assert.ErrorIs(t, sm.StopRecording(7), syncmaster.ErrUnknownTrack)
	assert.ErrorIs(t, sm.Follow(7, loopsync.SourceHost, 0, loopsync.UnitBar), syncmaster.ErrUnknownTrack)
	assert.ErrorIs(t, sm.Connect(7), syncmaster.ErrUnknownTrack)
	assert.ErrorIs(t, sm.AddTrack(newTestTrack(0, loopsync.SourceHost, 0, loopsync.UnitBar)), syncmaster.ErrInvalidTrack)

	tr := newTestTrack(1, loopsync.SourceTransport, 0, loopsync.UnitBeat)
	require.NoError(t, sm.AddTrack(tr))
	assert.ErrorIs(t, sm.StopRecording(1), syncmaster.ErrNotRecording)
	require.NoError(t, sm.Record(1, 0))
	require.NoError(t, sm.StopRecording(1), "disarming")
	require.NoError(t, sm.Record(1, 0))
	sm.Transport().Start()
	run(sm, 0, 1, tr)
	assert.ErrorIs(t, sm.Record(1, 0), syncmaster.ErrAlreadyRecording)
	assert.ErrorIs(t, sm.Follow(1, loopsync.SourceHost, 0, loopsync.UnitBar), loopsync.ErrFollowerStarted)
}

func TestFreeRecordingMakesMaster(t *testing.T) {
	s := loopsync.DefaultSession()
	s.Transport.ConnectMaster = true
	sm := syncmaster.New(s)
	tr := newTestTrack(1, loopsync.SourceMaster, 0, loopsync.UnitBar)
	tr.props = loopsync.TrackProperties{Frames: 88200, Cycles: 1}
	require.NoError(t, sm.AddTrack(tr))

	require.NoError(t, sm.Record(1, 0))
	run(sm, 0, 1, tr)
	require.Len(t, tr.events, 1)
	assert.Equal(t, loopsync.SyncEventStart, tr.events[0].Type, "nothing to wait for")
	assert.True(t, tr.Follower().Started)

	require.NoError(t, sm.StopRecording(1))
	run(sm, 1, 2, tr)
	require.Len(t, tr.events, 2)
	assert.Equal(t, loopsync.SyncEventStop, tr.events[1].Type)
	assert.Equal(t, 1, sm.TrackSyncMaster())

	tp := sm.Transport()
	assert.Equal(t, 22050, tp.UnitLength())
	assert.InDelta(t, 120, tp.Tempo(), 1e-9)
	assert.True(t, tp.Running())

	master := &loopsync.Follower{ID: 2, Source: loopsync.SourceMaster}
	source, _ := sm.Pulsator().Resolve(master, sm.TrackSyncMaster())
	assert.Equal(t, loopsync.SourceTransport, source)
	follower := &loopsync.Follower{ID: 3, Source: loopsync.SourceTrack}
	source, leader := sm.Pulsator().Resolve(follower, sm.TrackSyncMaster())
	assert.Equal(t, loopsync.SourceTrack, source)
	assert.Equal(t, 1, leader)

	sm.NotifyTrackReset(1)
	assert.Zero(t, sm.TrackSyncMaster())
	assert.False(t, tr.Follower().Locked)
}

func TestTrackStoppedOnItsOwnBecomesMaster(t *testing.T) {
	sm := syncmaster.New(loopsync.DefaultSession())
	tr := newTestTrack(2, loopsync.SourceMaster, 0, loopsync.UnitBar)
	require.NoError(t, sm.AddTrack(tr))
	sm.NotifyTrackStarted(2)
	assert.True(t, tr.Follower().Started)
	sm.NotifyTrackStopped(2)
	assert.Equal(t, 2, sm.TrackSyncMaster())
	assert.False(t, sm.Transport().Running(), "connectMaster is off")
	sm.RemoveTrack(2)
	assert.Zero(t, sm.TrackSyncMaster())
}

func TestFollowerOfMasterTrack(t *testing.T) {
	sm := syncmaster.New(loopsync.DefaultSession())
	leader := newTestTrack(1, loopsync.SourceNone, 0, loopsync.UnitNone)
	leader.props = loopsync.TrackProperties{Frames: 30000, Cycles: 1}
	follower := newTestTrack(2, loopsync.SourceTrack, 0, loopsync.UnitLoop)
	leaderLoop(leader, 30000, loopsync.UnitLoop, sm.NotifyBoundaryCrossed)
	require.NoError(t, sm.AddTrack(follower))
	require.NoError(t, sm.AddTrack(leader))
	sm.NotifyTrackStarted(1)
	sm.NotifyTrackStopped(1)
	require.Zero(t, sm.TrackSyncMaster(), "only Master followers become master")
	require.NoError(t, sm.Follow(1, loopsync.SourceMaster, 0, loopsync.UnitNone))
	sm.NotifyTrackStopped(1)
	require.Equal(t, 1, sm.TrackSyncMaster())

	require.NoError(t, sm.Record(2, 1))
	// the leader loops at 30000, frame 304 of block 58, and 60000, frame 96
	// of block 117
	run(sm, 0, 118, leader, follower)
	require.Len(t, follower.events, 2)
	assert.Equal(t, loopsync.SyncEventStart, follower.events[0].Type)
	assert.Equal(t, 304, follower.events[0].Pulse.BlockFrame)
	assert.Equal(t, loopsync.SyncEventFinalize, follower.events[1].Type)
	assert.Equal(t, 96, follower.events[1].Pulse.BlockFrame)
	assert.Equal(t, 30000, follower.events[1].NewLength)
	assert.True(t, follower.Follower().LockedTo(loopsync.SourceTrack, 30000))
	assert.Equal(t, 1, sm.LockCount(loopsync.SourceTrack, 30000))
}

// driftingHost plays 1% faster than the tempo it reports.
type driftingHost struct {
	ppq float64
}

func (h *driftingHost) HostTime() (analyzer.HostTime, bool) {
	t := analyzer.HostTime{Playing: true, PPQValid: true, PPQ: h.ppq, TempoValid: true, Tempo: 120}
	h.ppq += 1.01 * blockSize / 22050
	return t, true
}

func TestDriftCorrection(t *testing.T) {
	s := loopsync.DefaultSession()
	s.DriftThreshold = 100
	b := syncmaster.NewBroker()
	sm := syncmaster.New(s, syncmaster.WithHost(&driftingHost{}), syncmaster.WithBroker(b))
	// the second host beat comes about 213 samples before the local one,
	// in block 42
	run(sm, 0, 60)
	var names []string
	for _, a := range alerts(b) {
		names = append(names, a.Name)
	}
	assert.Contains(t, names, "DriftCorrected")
	assert.True(t, sm.Host().Running())
	assert.LessOrEqual(t, abs(sm.Host().Drift()), 100)
}

func TestNoDriftCorrectionWhenDisabled(t *testing.T) {
	s := loopsync.DefaultSession()
	s.DriftThreshold = 0
	b := syncmaster.NewBroker()
	sm := syncmaster.New(s, syncmaster.WithHost(&driftingHost{}), syncmaster.WithBroker(b))
	run(sm, 0, 60)
	assert.Empty(t, alerts(b))
	assert.Less(t, sm.Host().Drift(), -100)
}

func TestControlMessages(t *testing.T) {
	b := syncmaster.NewBroker()
	sm := syncmaster.New(loopsync.DefaultSession(), syncmaster.WithBroker(b))
	tr := newTestTrack(1, loopsync.SourceTransport, 0, loopsync.UnitBar)
	require.NoError(t, sm.AddTrack(tr))

	b.Send(syncmaster.TempoMsg{Tempo: 90})
	b.Send(syncmaster.TimeSignatureMsg{BeatsPerBar: 3})
	b.Send(syncmaster.TransportMsg{Action: syncmaster.TransportStart})
	b.Send(syncmaster.RecordMsg{Track: 1, Record: true, Units: 1})
	b.Send(syncmaster.FollowMsg{Track: 9, Source: loopsync.SourceHost})
	run(sm, 0, 1, tr)

	status, ok, rest := b.LatestStatus(nil)
	require.True(t, ok)
	assert.Equal(t, "started", status.Transport)
	ts := status.Source(loopsync.SourceTransport)
	assert.True(t, ts.Enabled)
	assert.InDelta(t, 90, ts.Tempo, 1e-9)
	assert.Equal(t, 29400, ts.UnitLength)
	assert.False(t, status.Source(loopsync.SourceHost).Enabled)
	assert.Equal(t, 1, status.Recording)
	assert.Equal(t, 3, sm.BarTender().BeatsPerBar(loopsync.SourceTransport, 0))

	require.Len(t, rest, 1)
	alert, ok := rest[0].(syncmaster.Alert)
	require.True(t, ok)
	assert.Equal(t, "ControlFailed", alert.Name)
	assert.Equal(t, syncmaster.Warning, alert.Priority)

	b.Send(syncmaster.RecordMsg{Track: 1})
	b.Send(syncmaster.TransportMsg{Action: syncmaster.TransportStop})
	run(sm, 1, 2, tr)
	status, _, _ = b.LatestStatus(nil)
	assert.Equal(t, "stopped", status.Transport)
	assert.Zero(t, status.Recording)
}

func TestWaitStatus(t *testing.T) {
	b := syncmaster.NewBroker()
	_, ok, rest := b.WaitStatus(10*time.Millisecond, nil)
	assert.False(t, ok, "no block has run")
	assert.Empty(t, rest)

	sm := syncmaster.New(loopsync.DefaultSession(), syncmaster.WithBroker(b))
	b.Send(syncmaster.FollowMsg{Track: 9, Source: loopsync.SourceHost})
	b.Send(syncmaster.TransportMsg{Action: syncmaster.TransportStart})
	done := make(chan struct{})
	go func() {
		sm.ProcessBlock(256)
		close(done)
	}()
	status, ok, rest := b.WaitStatus(time.Second, nil)
	<-done
	require.True(t, ok)
	assert.Equal(t, "started", status.Transport)
	require.Len(t, rest, 1, "the alert sent before the status is kept")
	assert.Equal(t, "ControlFailed", rest[0].(syncmaster.Alert).Name)
}

func TestSessionTrackConfig(t *testing.T) {
	s := loopsync.DefaultSession()
	s.Tracks = []loopsync.TrackConfig{{Number: 3, Source: loopsync.SourceTrack, Leader: 1, Unit: loopsync.UnitLoop, BeatsPerBar: 3}}
	sm := syncmaster.New(s)
	tr := newTestTrack(3, loopsync.SourceNone, 0, loopsync.UnitNone)
	require.NoError(t, sm.AddTrack(tr))
	f := tr.Follower()
	assert.Equal(t, loopsync.SourceTrack, f.Source)
	assert.Equal(t, 1, f.Leader)
	assert.Equal(t, loopsync.UnitLoop, f.Unit)
	assert.Equal(t, 3, sm.BarTender().BeatsPerBar(loopsync.SourceTrack, 3))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func TestNilLoggerIsIgnored(t *testing.T) {
	s := loopsync.DefaultSession()
	s.BeatsPerBar = 0 // logged as a fallback
	sm := syncmaster.New(s, syncmaster.WithLogger(nil))
	sm.Transport().Start()
	sm.ProcessBlock(256)
	assert.Equal(t, 4, sm.BarTender().BeatsPerBar(loopsync.SourceTransport, 0))
}

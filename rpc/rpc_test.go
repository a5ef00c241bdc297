package rpc_test

import (
	"net"
	"testing"

	"github.com/loopsync/loopsync"
	"github.com/loopsync/loopsync/rpc"
	"github.com/loopsync/loopsync/syncmaster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T) (*syncmaster.Broker, *rpc.Client) {
	t.Helper()
	broker := syncmaster.NewBroker()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	require.NoError(t, rpc.Serve(l, broker, nil))
	client, err := rpc.Dial(l.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return broker, client
}

func drain(broker *syncmaster.Broker) []any {
	var ret []any
	for {
		select {
		case msg := <-broker.ToSync:
			ret = append(ret, msg)
		default:
			return ret
		}
	}
}

func TestCallsBecomeMessages(t *testing.T) {
	broker, client := serve(t)
	require.NoError(t, client.Transport(syncmaster.TransportStart))
	require.NoError(t, client.Tempo(90))
	require.NoError(t, client.TimeSignature(3, 2))
	require.NoError(t, client.Record(1, 2))
	require.NoError(t, client.Follow(syncmaster.FollowMsg{Track: 2, Source: loopsync.SourceTrack, Leader: 1, Unit: loopsync.UnitLoop}))
	require.NoError(t, client.StopRecording(1))
	require.NoError(t, client.Connect(1))
	require.NoError(t, client.Reset(2))
	assert.Equal(t, []any{
		syncmaster.TransportMsg{Action: syncmaster.TransportStart},
		syncmaster.TempoMsg{Tempo: 90},
		syncmaster.TimeSignatureMsg{BeatsPerBar: 3, BarsPerLoop: 2},
		syncmaster.RecordMsg{Track: 1, Record: true, Units: 2},
		syncmaster.FollowMsg{Track: 2, Source: loopsync.SourceTrack, Leader: 1, Unit: loopsync.UnitLoop},
		syncmaster.RecordMsg{Track: 1},
		syncmaster.ConnectMsg{Track: 1},
		syncmaster.ResetMsg{Track: 2},
	}, drain(broker))
}

func TestInvalidCallsAreRejected(t *testing.T) {
	broker, client := serve(t)
	assert.Error(t, client.Tempo(0))
	assert.Error(t, client.Record(0, 1))
	assert.Error(t, client.Record(1, -1))
	assert.Error(t, client.Reset(-3))
	assert.Error(t, client.Transport(syncmaster.TransportAction(42)))
	assert.Empty(t, drain(broker))
	// the connection survives rejected calls
	assert.NoError(t, client.TempoMillis(500))
	assert.Equal(t, []any{syncmaster.TempoMsg{Millis: 500}}, drain(broker))
}

func TestFullQueue(t *testing.T) {
	broker := syncmaster.NewBroker()
	server := rpc.NewControlServer(broker, nil)
	var reply int
	for i := 0; i < cap(broker.ToSync); i++ {
		require.NoError(t, server.Reset(syncmaster.ResetMsg{Track: 1}, &reply))
	}
	assert.ErrorIs(t, server.Reset(syncmaster.ResetMsg{Track: 1}, &reply), rpc.ErrQueueFull)
}

func TestParseTransportAction(t *testing.T) {
	for _, action := range []syncmaster.TransportAction{syncmaster.TransportStart, syncmaster.TransportTap, syncmaster.TransportMidiStart} {
		got, err := syncmaster.ParseTransportAction(action.String())
		require.NoError(t, err)
		assert.Equal(t, action, got)
	}
	_, err := syncmaster.ParseTransportAction("rewind")
	assert.Error(t, err)
}

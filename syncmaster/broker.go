package syncmaster

import (
	"time"

	"github.com/loopsync/loopsync"
)

type (
	// Broker carries messages between the audio thread running the
	// SyncMaster and the rest of the program. The audio thread only ever
	// sends with TrySend, so a slow or absent reader never blocks it; a full
	// ToModel channel just drops status updates.
	//
	// ToSync carries control messages (TransportMsg, RecordMsg, ...) into the
	// audio thread, where they are drained at the start of every block.
	Broker struct {
		ToSync  chan any
		ToModel chan MsgToModel
	}

	// MsgToModel is a message from the audio thread. Status is sent unboxed
	// every block; the infrequent rest (Alert, error) travels in Data.
	MsgToModel struct {
		HasStatus bool
		Status    Status

		Data any
	}
)

func NewBroker() *Broker {
	return &Broker{
		ToSync:  make(chan any, 1024),
		ToModel: make(chan MsgToModel, 1024),
	}
}

// Send sends a control message to the audio thread without blocking and
// reports whether there was room for it.
func (b *Broker) Send(msg any) bool {
	return loopsync.TrySend(b.ToSync, msg)
}

// LatestStatus drains ToModel and returns the most recent status, together
// with any other messages received on the way, in order.
func (b *Broker) LatestStatus(others []any) (status Status, ok bool, rest []any) {
	rest = others
	for {
		select {
		case msg := <-b.ToModel:
			if msg.HasStatus {
				status, ok = msg.Status, true
			}
			if msg.Data != nil {
				rest = append(rest, msg.Data)
			}
		default:
			return status, ok, rest
		}
	}
}

// WaitStatus blocks until a status arrives or the timeout passes. Messages
// other than status received while waiting are appended to others.
func (b *Broker) WaitStatus(timeout time.Duration, others []any) (status Status, ok bool, rest []any) {
	rest = others
	deadline := time.Now().Add(timeout)
	for {
		msg, ok := loopsync.TimeoutReceive(b.ToModel, time.Until(deadline))
		if !ok {
			return Status{}, false, rest
		}
		if msg.Data != nil {
			rest = append(rest, msg.Data)
		}
		if msg.HasStatus {
			return msg.Status, true, rest
		}
	}
}

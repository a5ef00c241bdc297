package analyzer

import (
	"sync/atomic"

	"gitlab.com/gomidi/midi/v2"
)

// MIDI realtime status bytes.
const (
	StatusSongPosition byte = 0xF2
	StatusClock        byte = 0xF8
	StatusStart        byte = 0xFA
	StatusContinue     byte = 0xFB
	StatusStop         byte = 0xFC
)

const MidiQueueSize = 256

type (
	// MidiEvent is a realtime MIDI message tagged with its arrival time in
	// microseconds. SongPosition is set for StatusSongPosition.
	MidiEvent struct {
		Status       byte
		SongPosition uint16
		Timestamp    int64
	}

	// MidiQueue is a fixed-capacity single-producer, single-consumer queue
	// of MIDI events. The MIDI driver thread pushes, the audio thread pops.
	// Neither side ever blocks or allocates.
	MidiQueue struct {
		buf       [MidiQueueSize]MidiEvent
		head      atomic.Uint64 // written by the producer
		tail      atomic.Uint64 // written by the consumer
		overflows atomic.Uint64
	}
)

// Push appends an event. If the queue is full the event is dropped, counted
// as an overflow, and false is returned.
func (q *MidiQueue) Push(ev MidiEvent) bool {
	h := q.head.Load()
	if h-q.tail.Load() >= MidiQueueSize {
		q.overflows.Add(1)
		return false
	}
	q.buf[h%MidiQueueSize] = ev
	q.head.Store(h + 1)
	return true
}

// Pop removes the oldest event.
func (q *MidiQueue) Pop() (ev MidiEvent, ok bool) {
	t := q.tail.Load()
	if t == q.head.Load() {
		return MidiEvent{}, false
	}
	ev = q.buf[t%MidiQueueSize]
	q.tail.Store(t + 1)
	return ev, true
}

// Overflows is the total number of events dropped because the queue was full.
func (q *MidiQueue) Overflows() uint64 {
	return q.overflows.Load()
}

// ParseRealtime converts a MIDI message into a queue event. Only the clock
// transport messages are of interest; everything else returns false.
func ParseRealtime(msg midi.Message, timestamp int64) (ev MidiEvent, ok bool) {
	if len(msg) == 0 {
		return MidiEvent{}, false
	}
	ev = MidiEvent{Status: msg[0], Timestamp: timestamp}
	switch msg[0] {
	case StatusClock, StatusStart, StatusContinue, StatusStop:
		return ev, true
	case StatusSongPosition:
		if len(msg) < 3 {
			return MidiEvent{}, false
		}
		ev.SongPosition = uint16(msg[1]&0x7F) | uint16(msg[2]&0x7F)<<7
		return ev, true
	}
	return MidiEvent{}, false
}

// SongPositionMessage encodes a Song Position Pointer in wire order, least
// significant seven bits first. midi.SPP in gomidi v2 puts the most
// significant byte first, which receivers read as a different position.
func SongPositionMessage(position uint16) midi.Message {
	return midi.Message{StatusSongPosition, byte(position & 0x7F), byte(position >> 7 & 0x7F)}
}

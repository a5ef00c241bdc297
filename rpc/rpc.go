// Package rpc serves remote control of a running engine over net/rpc. Every
// call is turned into a control message on the engine's broker; nothing is
// executed outside the audio thread.
package rpc

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"

	"github.com/loopsync/loopsync/syncmaster"
	"go.uber.org/zap"
)

const (
	DefaultAddress = "127.0.0.1:31337"
	serviceName    = "Control"
)

var ErrQueueFull = errors.New("control queue is full")

type (
	// ControlServer is the receiver registered with net/rpc. Its methods
	// validate the request and forward it to the broker.
	ControlServer struct {
		broker *syncmaster.Broker
		log    *zap.Logger
	}

	Client struct {
		client *rpc.Client
	}
)

func NewControlServer(broker *syncmaster.Broker, log *zap.Logger) *ControlServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &ControlServer{broker: broker, log: log.Named("rpc")}
}

func (s *ControlServer) send(msg any) error {
	if !s.broker.Send(msg) {
		s.log.Warn("dropped control message", zap.Any("msg", msg))
		return ErrQueueFull
	}
	s.log.Debug("control message", zap.Any("msg", msg))
	return nil
}

func (s *ControlServer) Transport(args syncmaster.TransportMsg, reply *int) error {
	if args.Action.String() == "unknown" {
		return fmt.Errorf("unknown transport action %d", args.Action)
	}
	return s.send(args)
}

func (s *ControlServer) Tempo(args syncmaster.TempoMsg, reply *int) error {
	if args.Tempo <= 0 && args.Millis <= 0 {
		return fmt.Errorf("invalid tempo %v (%v ms)", args.Tempo, args.Millis)
	}
	return s.send(args)
}

func (s *ControlServer) TimeSignature(args syncmaster.TimeSignatureMsg, reply *int) error {
	return s.send(args)
}

func (s *ControlServer) Connect(args syncmaster.ConnectMsg, reply *int) error {
	if err := checkTrack(args.Track); err != nil {
		return err
	}
	return s.send(args)
}

func (s *ControlServer) Follow(args syncmaster.FollowMsg, reply *int) error {
	if err := checkTrack(args.Track); err != nil {
		return err
	}
	return s.send(args)
}

func (s *ControlServer) Record(args syncmaster.RecordMsg, reply *int) error {
	if err := checkTrack(args.Track); err != nil {
		return err
	}
	if args.Units < 0 {
		return fmt.Errorf("negative recording length %d", args.Units)
	}
	return s.send(args)
}

func (s *ControlServer) Reset(args syncmaster.ResetMsg, reply *int) error {
	if err := checkTrack(args.Track); err != nil {
		return err
	}
	return s.send(args)
}

func checkTrack(number int) error {
	if number <= 0 {
		return fmt.Errorf("invalid track number %d", number)
	}
	return nil
}

// Serve registers a ControlServer for broker and accepts connections on l
// in the background, until l is closed.
func Serve(l net.Listener, broker *syncmaster.Broker, log *zap.Logger) error {
	server := rpc.NewServer()
	if err := server.RegisterName(serviceName, NewControlServer(broker, log)); err != nil {
		return fmt.Errorf("rpc.Register failed: %w", err)
	}
	go server.Accept(l)
	return nil
}

// Listen listens on address and serves remote control for broker. Closing
// the returned listener stops accepting new connections.
func Listen(address string, broker *syncmaster.Broker, log *zap.Logger) (net.Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("net.Listen failed: %w", err)
	}
	if err := Serve(l, broker, log); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func Dial(address string) (*Client, error) {
	client, err := rpc.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("rpc.Dial failed: %w", err)
	}
	return &Client{client: client}, nil
}

func (c *Client) call(method string, args any) error {
	var reply int
	return c.client.Call(serviceName+"."+method, args, &reply)
}

func (c *Client) Transport(action syncmaster.TransportAction) error {
	return c.call("Transport", syncmaster.TransportMsg{Action: action})
}

func (c *Client) Tempo(bpm float64) error {
	return c.call("Tempo", syncmaster.TempoMsg{Tempo: bpm})
}

// TempoMillis sets the tempo from a beat length in milliseconds.
func (c *Client) TempoMillis(millis float64) error {
	return c.call("Tempo", syncmaster.TempoMsg{Millis: millis})
}

func (c *Client) TimeSignature(beatsPerBar, barsPerLoop int) error {
	return c.call("TimeSignature", syncmaster.TimeSignatureMsg{BeatsPerBar: beatsPerBar, BarsPerLoop: barsPerLoop})
}

func (c *Client) Connect(track int) error {
	return c.call("Connect", syncmaster.ConnectMsg{Track: track})
}

func (c *Client) Follow(msg syncmaster.FollowMsg) error {
	return c.call("Follow", msg)
}

// Record arms a recording of units follower units on track; 0 records
// until StopRecording.
func (c *Client) Record(track, units int) error {
	return c.call("Record", syncmaster.RecordMsg{Track: track, Record: true, Units: units})
}

func (c *Client) StopRecording(track int) error {
	return c.call("Record", syncmaster.RecordMsg{Track: track})
}

func (c *Client) Reset(track int) error {
	return c.call("Reset", syncmaster.ResetMsg{Track: track})
}

func (c *Client) Close() error {
	return c.client.Close()
}

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/loopsync/loopsync"
	"github.com/loopsync/loopsync/rpc"
	"github.com/loopsync/loopsync/syncmaster"
	"github.com/loopsync/loopsync/version"
)

const usage = `usage: loopsync-ctl [flags] command [args]

commands:
  start | stop | pause | resume | tap | midistart
  tempo BPM
  millis MS
  signature BEATS_PER_BAR BARS_PER_LOOP
  record TRACK [UNITS]
  stop-record TRACK
  follow TRACK SOURCE [LEADER] [UNIT]
  connect TRACK
  reset TRACK

flags:
`

var (
	address  = flag.String("addr", rpc.DefaultAddress, "`address` of a running loopsync-run -listen")
	printVer = flag.Bool("v", false, "print version and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *printVer {
		fmt.Println(version.Describe("loopsync-ctl"))
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	client, err := rpc.Dial(*address)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer client.Close()
	if err := execute(client, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func execute(client *rpc.Client, command string, args []string) error {
	switch command {
	case "tempo", "millis":
		v, err := floatArg(args, 0)
		if err != nil {
			return err
		}
		if command == "millis" {
			return client.TempoMillis(v)
		}
		return client.Tempo(v)
	case "signature":
		beats, err := intArg(args, 0)
		if err != nil {
			return err
		}
		bars, err := intArg(args, 1)
		if err != nil {
			return err
		}
		return client.TimeSignature(beats, bars)
	case "record":
		track, err := intArg(args, 0)
		if err != nil {
			return err
		}
		units := 0
		if len(args) > 1 {
			if units, err = intArg(args, 1); err != nil {
				return err
			}
		}
		return client.Record(track, units)
	case "stop-record", "connect", "reset":
		track, err := intArg(args, 0)
		if err != nil {
			return err
		}
		switch command {
		case "connect":
			return client.Connect(track)
		case "reset":
			return client.Reset(track)
		}
		return client.StopRecording(track)
	case "follow":
		return follow(client, args)
	}
	action, err := syncmaster.ParseTransportAction(command)
	if err != nil {
		return err
	}
	return client.Transport(action)
}

func follow(client *rpc.Client, args []string) error {
	track, err := intArg(args, 0)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("missing source")
	}
	msg := syncmaster.FollowMsg{Track: track, Unit: loopsync.UnitLoop}
	if err := msg.Source.UnmarshalText([]byte(args[1])); err != nil {
		return err
	}
	rest := args[2:]
	if msg.Source == loopsync.SourceTrack {
		if msg.Leader, err = intArg(args, 2); err != nil {
			return err
		}
		rest = args[3:]
	}
	if len(rest) > 0 {
		if err := msg.Unit.UnmarshalText([]byte(rest[0])); err != nil {
			return err
		}
	}
	return client.Follow(msg)
}

func intArg(args []string, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	return strconv.Atoi(args[i])
}

func floatArg(args []string, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	return strconv.ParseFloat(args[i], 64)
}

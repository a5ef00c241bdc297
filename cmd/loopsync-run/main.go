package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/loopsync/loopsync"
	"github.com/loopsync/loopsync/analyzer"
	"github.com/loopsync/loopsync/cmd"
	"github.com/loopsync/loopsync/metronome"
	"github.com/loopsync/loopsync/midiclock"
	"github.com/loopsync/loopsync/oto"
	"github.com/loopsync/loopsync/rpc"
	"github.com/loopsync/loopsync/syncmaster"
	"github.com/loopsync/loopsync/version"
	"go.uber.org/zap"
)

const (
	blockSize      = 256
	statusInterval = 100 * time.Millisecond
	audioTimeout   = time.Second
	startTimeout   = 2 * time.Second
)

var (
	sessionFile = flag.String("session", "", "load the session from a YAML `file`")
	tempo       = flag.Float64("tempo", 0, "transport tempo in BPM, overriding the session")
	midiIn      = flag.String("midi-in", "", "follow the MIDI clock of the input matching this name prefix")
	midiOut     = flag.String("midi-out", "", "send MIDI clock to the output matching this name prefix")
	source      = flag.String("source", "transport", "what the metronome follows: transport or midi")
	status      = flag.String("status", "", "status line `template`; \"off\" disables the status line")
	listen      = flag.String("listen", "", "serve remote control on this `address`, e.g. "+rpc.DefaultAddress)
	debug       = flag.Bool("debug", false, "debug logging")
	printVer    = flag.Bool("v", false, "print version and exit")
	listPorts   = flag.Bool("list-ports", false, "list MIDI ports and exit")
)

func main() {
	flag.Parse()
	if *printVer {
		fmt.Println(version.Describe("loopsync-run"))
		os.Exit(0)
	}
	log, err := cmd.NewLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	midiContext := cmd.NewMidiContext(log)
	defer midiContext.Close()
	if *listPorts {
		printPorts(midiContext)
		return
	}
	if err := run(log, midiContext); err != nil {
		log.Error("loopsync-run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(log *zap.Logger, midiContext syncmaster.MIDIContext) error {
	session, err := cmd.LoadSession(*sessionFile, log)
	if err != nil {
		return err
	}
	if isFlagPassed("tempo") {
		session.Transport.Tempo = *tempo
	}
	if isFlagPassed("midi-in") {
		session.Midi.Input = *midiIn
	}
	if isFlagPassed("midi-out") {
		session.Midi.Output = *midiOut
	}
	var follow loopsync.SyncSource
	if err := follow.UnmarshalText([]byte(*source)); err != nil {
		return err
	}
	var statusLine *cmd.StatusLine
	if *status != "off" {
		if statusLine, err = cmd.NewStatusLine(*status); err != nil {
			return err
		}
	}

	broker := syncmaster.NewBroker()
	opts := []syncmaster.Option{syncmaster.WithLogger(log), syncmaster.WithBroker(broker)}
	if session.Midi.Input != "" {
		queue := &analyzer.MidiQueue{}
		if err := midiContext.OpenInput(session.Midi.Input, queue); err != nil {
			log.Warn("no MIDI input", zap.String("prefix", session.Midi.Input), zap.Error(err))
		} else {
			opts = append(opts, syncmaster.WithMidiInput(queue))
		}
	}
	if session.Midi.Output != "" && session.MidiEnabled {
		if gen, err := openClock(log, midiContext, session); err != nil {
			log.Warn("no MIDI clock output", zap.String("prefix", session.Midi.Output), zap.Error(err))
		} else {
			gen.Run()
			defer gen.Close()
			opts = append(opts, syncmaster.WithClockOutput(gen))
		}
	}
	sm := syncmaster.New(session, opts...)
	if *listen != "" {
		l, err := rpc.Listen(*listen, broker, log)
		if err != nil {
			return err
		}
		defer l.Close()
		log.Info("remote control", zap.Stringer("address", l.Addr()))
	}
	click := metronome.New(1, session.SampleRate, metronome.WithFollower(follow, 0, loopsync.UnitBeat))
	if err := sm.AddTrack(click); err != nil {
		return err
	}

	audioContext, err := oto.NewContext(session.SampleRate)
	if err != nil {
		return err
	}
	defer audioContext.Close()
	output := audioContext.Output()

	if !session.ManualStart {
		broker.Send(syncmaster.TransportMsg{Action: syncmaster.TransportStart})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	done := make(chan error, 1)
	var level atomic.Uint32 // peak since the last status line, as float32 bits
	go func() {
		buf := make(loopsync.AudioBuffer, blockSize)
		scratch := make([]float32, 0, 2*blockSize)
		for ctx.Err() == nil {
			buf.Fill()
			click.SetBuffer(buf)
			sm.ProcessBlock(len(buf))
			holdPeak(&level, metronome.Peak(buf, scratch))
			if err := output.WriteAudio(buf); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	_, started, rest := broker.WaitStatus(startTimeout, nil)
	if !started {
		log.Warn("the audio loop has not started", zap.Duration("after", startTimeout))
	}
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if statusLine != nil {
				fmt.Fprintln(os.Stderr)
			}
			output.Close()
			if err, ok := loopsync.TimeoutReceive(done, audioTimeout); !ok {
				log.Warn("audio loop did not finish in time")
			} else if err != nil {
				log.Debug("audio loop ended", zap.Error(err))
			}
			return nil
		case err := <-done:
			return err
		case <-ticker.C:
			st, ok, others := broker.LatestStatus(rest)
			rest = others[:0]
			for _, msg := range others {
				if a, ok := msg.(syncmaster.Alert); ok {
					log.Warn(a.Message, zap.String("alert", a.Name), zap.Stringer("priority", a.Priority))
				}
			}
			if !ok || statusLine == nil {
				continue
			}
			line, err := statusLine.Render(st, math.Float32frombits(level.Swap(0)))
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "\r%s\033[K", line)
		}
	}
}

// holdPeak raises the level held in bits to peak.
func holdPeak(bits *atomic.Uint32, peak float32) {
	for {
		old := bits.Load()
		if peak <= math.Float32frombits(old) || bits.CompareAndSwap(old, math.Float32bits(peak)) {
			return
		}
	}
}

func openClock(log *zap.Logger, midiContext syncmaster.MIDIContext, session loopsync.Session) (*midiclock.Generator, error) {
	send, err := midiContext.OpenOutput(session.Midi.Output)
	if err != nil {
		return nil, err
	}
	return midiclock.New(send, session.Transport.Tempo,
		midiclock.WithLogger(log),
		midiclock.WithClocksWhileStopped(session.ClocksWhileStopped))
}

func printPorts(midiContext syncmaster.MIDIContext) {
	switch midiContext.Support() {
	case syncmaster.MIDISupportNotCompiled:
		fmt.Println("MIDI support was not compiled in (build with cgo)")
		return
	case syncmaster.MIDISupportNoDriver:
		fmt.Println("no MIDI driver available")
		return
	}
	fmt.Println("inputs:")
	for port := range midiContext.Inputs {
		fmt.Println("  " + port.String())
	}
	fmt.Println("outputs:")
	for port := range midiContext.Outputs {
		fmt.Println("  " + port.String())
	}
}

func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

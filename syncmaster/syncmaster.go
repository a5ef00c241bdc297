package syncmaster

import (
	"errors"
	"fmt"

	"github.com/loopsync/loopsync"
	"github.com/loopsync/loopsync/analyzer"
	"github.com/loopsync/loopsync/transport"
	"go.uber.org/zap"
)

type (
	// SyncMaster runs the sync engine on the audio thread. Once per block it
	// analyzes the sources, distills their pulses and advances the tracks
	// through the block in slices. It owns the track sync master identity:
	// the track that Master followers and leaderless Track followers follow.
	//
	// Apart from the constructor and AddTrack/RemoveTrack, which must not run
	// concurrently with ProcessBlock, everything is called from the audio
	// thread; other threads talk to it through the Broker.
	SyncMaster struct {
		log       *zap.Logger
		session   loopsync.Session
		broker    *Broker
		transport *transport.Transport
		host      *analyzer.HostAnalyzer
		midi      *analyzer.MidiAnalyzer
		analyzers [NumSources]loopsync.Analyzer
		bartender *BarTender
		pulsator  *Pulsator
		slicer    *TimeSlicer
		tracks    map[int]*trackState

		trackSyncMaster int
		status          Status
		event           loopsync.SyncEvent
	}

	trackState struct {
		track loopsync.Track
		rec   recording
	}

	Options struct {
		Logger    *zap.Logger
		Broker    *Broker
		Host      analyzer.HostTransport
		MidiInput *analyzer.MidiQueue
		Clock     transport.ClockOutput
		Now       func() int64
	}

	Option func(*Options)

	// slicing is the SyncMaster as seen by the TimeSlicer.
	slicing SyncMaster
)

var (
	ErrUnknownTrack     = errors.New("unknown track")
	ErrInvalidTrack     = errors.New("invalid track")
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithBroker makes the SyncMaster take control messages from the broker and
// publish its status and alerts to it.
func WithBroker(b *Broker) Option {
	return func(o *Options) { o.Broker = b }
}

// WithHost enables the host analyzer, reading the host transport from h.
func WithHost(h analyzer.HostTransport) Option {
	return func(o *Options) { o.Host = h }
}

// WithMidiInput enables the MIDI analyzer, draining q every block.
func WithMidiInput(q *analyzer.MidiQueue) Option {
	return func(o *Options) { o.MidiInput = q }
}

// WithClockOutput makes the Transport drive a MIDI clock generator.
func WithClockOutput(c transport.ClockOutput) Option {
	return func(o *Options) { o.Clock = c }
}

// WithClock replaces the microsecond clock of the analyzers and the
// Transport.
func WithClock(now func() int64) Option {
	return func(o *Options) { o.Now = now }
}

func New(session loopsync.Session, opts ...Option) *SyncMaster {
	o := Options{Logger: zap.NewNop(), Now: analyzer.Now}
	for _, opt := range opts {
		opt(&o)
	}
	for _, fix := range session.Fallback() {
		o.Logger.Warn("session fallback", zap.String("fix", fix))
	}
	sm := &SyncMaster{
		log:     o.Logger.Named("syncmaster"),
		session: session,
		broker:  o.Broker,
		tracks:  make(map[int]*trackState),
	}
	sm.bartender = NewBarTender(session, o.Logger)
	sm.pulsator = NewPulsator(sm.bartender, o.Logger)
	sm.slicer = NewTimeSlicer(o.Logger)

	topts := []transport.Option{transport.WithLogger(o.Logger), transport.WithClock(o.Now)}
	if o.Clock != nil {
		topts = append(topts, transport.WithClockOutput(o.Clock))
	}
	sm.transport = transport.New(session, topts...)
	sm.analyzers[loopsync.SourceTransport] = sm.transport
	sm.bartender.SetTimeSignature(loopsync.SourceTransport, sm.transport.BeatsPerBar(), sm.transport.BarsPerLoop())

	aopts := []analyzer.Option{
		analyzer.WithLogger(o.Logger),
		analyzer.WithSampleRate(session.SampleRate),
		analyzer.WithClock(o.Now),
		analyzer.WithLockCounter(sm.LockCount),
	}
	if o.Host != nil {
		sm.host = analyzer.NewHostAnalyzer(o.Host, aopts...)
		sm.analyzers[loopsync.SourceHost] = sm.host
	}
	if o.MidiInput != nil {
		sm.midi = analyzer.NewMidiAnalyzer(o.MidiInput, aopts...)
		sm.analyzers[loopsync.SourceMidi] = sm.midi
	}
	return sm
}

func (sm *SyncMaster) Transport() *transport.Transport { return sm.transport }
func (sm *SyncMaster) Host() *analyzer.HostAnalyzer    { return sm.host }
func (sm *SyncMaster) Midi() *analyzer.MidiAnalyzer    { return sm.midi }
func (sm *SyncMaster) BarTender() *BarTender           { return sm.bartender }
func (sm *SyncMaster) Pulsator() *Pulsator             { return sm.pulsator }
func (sm *SyncMaster) TimeSlicer() *TimeSlicer         { return sm.slicer }
func (sm *SyncMaster) Status() Status                  { return sm.status }

// TrackSyncMaster is the number of the track sync master, 0 if none.
func (sm *SyncMaster) TrackSyncMaster() int { return sm.trackSyncMaster }

// Analyzer returns the analyzer of a source, nil if it is not enabled.
func (sm *SyncMaster) Analyzer(source loopsync.SyncSource) loopsync.Analyzer {
	if source < 0 || int(source) >= NumSources {
		return nil
	}
	return sm.analyzers[source]
}

// AddTrack registers a track. Its follower is configured from the session
// entry with the same track number, if there is one.
func (sm *SyncMaster) AddTrack(t loopsync.Track) error {
	n := t.Number()
	f := t.Follower()
	if n <= 0 || f == nil {
		return fmt.Errorf("adding track %d: %w", n, ErrInvalidTrack)
	}
	f.ID = n
	bpb, bpl := 0, 0
	for _, c := range sm.session.Tracks {
		if c.Number != n {
			continue
		}
		if err := f.SetSource(c.Source, c.Leader, c.Unit); err != nil {
			return fmt.Errorf("adding track %d: %w", n, err)
		}
		bpb, bpl = c.BeatsPerBar, c.BarsPerLoop
	}
	sm.tracks[n] = &trackState{track: t}
	sm.bartender.AddTrack(n, bpb, bpl)
	sm.pulsator.AddLeader(n)
	sm.slicer.AddTrack(t)
	sm.log.Debug("track added",
		zap.Int("track", n),
		zap.Stringer("source", f.Source),
		zap.Int("leader", f.Leader),
		zap.Stringer("unit", f.Unit))
	return nil
}

func (sm *SyncMaster) RemoveTrack(number int) {
	if _, ok := sm.tracks[number]; !ok {
		return
	}
	if sm.trackSyncMaster == number {
		sm.clearMaster()
	}
	delete(sm.tracks, number)
	sm.bartender.RemoveTrack(number)
	sm.pulsator.RemoveLeader(number)
	sm.slicer.RemoveTrack(number)
}

// ProcessBlock runs the engine for one block of frames: control messages,
// analysis, pulses, drift, and then the tracks in slices.
func (sm *SyncMaster) ProcessBlock(frames int) {
	if frames <= 0 {
		return
	}
	sm.processMessages()
	sm.pulsator.BeginBlock(frames)
	for i, a := range sm.analyzers {
		if a == nil {
			continue
		}
		source := loopsync.SyncSource(i)
		a.Analyze(frames)
		sm.analyzed(source, a)
		sm.pulsator.Gather(source, a)
	}
	sm.correctDrift()
	sm.freeRecordings()
	sm.slicer.Process(frames, sm.trackSyncMaster, (*slicing)(sm))
	sm.publish()
}

func (sm *SyncMaster) analyzed(source loopsync.SyncSource, a loopsync.Analyzer) {
	r := a.Result()
	if r.TimeSignatureChanged {
		switch source {
		case loopsync.SourceHost:
			if bpb, ok := sm.host.TimeSignature(); ok {
				sm.bartender.SetHostBeatsPerBar(bpb)
			}
		case loopsync.SourceTransport:
			sm.bartender.SetTimeSignature(source, sm.transport.BeatsPerBar(), sm.transport.BarsPerLoop())
		}
	}
	if r.TempoChanged {
		sm.log.Debug("tempo changed",
			zap.Stringer("source", source),
			zap.Float64("tempo", a.Tempo()),
			zap.Int("unitLength", a.UnitLength()))
	}
}

// correctDrift pulls the normalized beats of an external source back onto
// the raw ones when they drifted further apart than the session allows.
func (sm *SyncMaster) correctDrift() {
	threshold := sm.session.DriftThreshold
	if threshold <= 0 {
		return
	}
	for _, source := range [...]loopsync.SyncSource{loopsync.SourceHost, loopsync.SourceMidi} {
		a := sm.analyzers[source]
		if a == nil || !a.Running() || !a.Locked() {
			continue
		}
		d := a.Drift()
		if d <= threshold && d >= -threshold {
			continue
		}
		sm.log.Warn("drift correction", zap.Stringer("source", source), zap.Int("drift", d))
		a.CorrectDrift()
		sm.SendAlert("DriftCorrected", fmt.Sprintf("%s drifted by %d samples", source, d), Warning)
	}
}

// LockCount counts the followers whose recorded material depends on a unit
// length of source.
func (sm *SyncMaster) LockCount(source loopsync.SyncSource, unitLength int) int {
	n := 0
	for _, ts := range sm.tracks {
		if ts.track.Follower().LockedTo(source, unitLength) {
			n++
		}
	}
	return n
}

// RelevantPulse returns the pulse of the current block a track has to react
// to, or nil.
func (sm *SyncMaster) RelevantPulse(track int) *loopsync.Pulse {
	ts, ok := sm.tracks[track]
	if !ok {
		return nil
	}
	return sm.pulsator.RelevantPulse(ts.track.Follower(), sm.trackSyncMaster)
}

// NotifyBoundaryCrossed is called by a leader track, while it advances,
// when it crosses a unit boundary at offset in the current block.
func (sm *SyncMaster) NotifyBoundaryCrossed(leader int, unit loopsync.SyncUnit, offset int) {
	sm.pulsator.NotifyBoundaryCrossed(leader, unit, offset)
}

// NotifyTrackStarted tells that a track started recording on its own.
func (sm *SyncMaster) NotifyTrackStarted(track int) {
	ts, ok := sm.tracks[track]
	if !ok {
		return
	}
	if f := ts.track.Follower(); !f.Started {
		f.Lock(loopsync.SourceNone, 0)
	}
}

// NotifyTrackStopped tells that a track stopped recording on its own. A
// Master follower becomes the track sync master if there is none.
func (sm *SyncMaster) NotifyTrackStopped(track int) {
	ts, ok := sm.tracks[track]
	if !ok {
		return
	}
	f := ts.track.Follower()
	f.Finish()
	if f.Source == loopsync.SourceMaster && sm.trackSyncMaster == 0 {
		sm.becomeMaster(ts)
	}
}

// NotifyTrackReset tells that a track forgot its material. Its follower is
// unlocked, and if it was the track sync master there is none anymore.
func (sm *SyncMaster) NotifyTrackReset(track int) {
	ts, ok := sm.tracks[track]
	if !ok {
		return
	}
	ts.track.Follower().Reset()
	ts.rec = recording{}
	sm.bartender.Reset(loopsync.SourceTrack, track)
	if sm.trackSyncMaster == track {
		sm.clearMaster()
	}
}

// Follow changes what a track synchronizes to.
func (sm *SyncMaster) Follow(track int, source loopsync.SyncSource, leader int, unit loopsync.SyncUnit) error {
	ts, ok := sm.tracks[track]
	if !ok {
		return fmt.Errorf("follow on track %d: %w", track, ErrUnknownTrack)
	}
	if err := ts.track.Follower().SetSource(source, leader, unit); err != nil {
		return fmt.Errorf("follow on track %d: %w", track, err)
	}
	sm.slicer.MarkDirty()
	return nil
}

// Connect connects the Transport to a track, deriving its tempo and loop
// from the track.
func (sm *SyncMaster) Connect(track int) error {
	ts, ok := sm.tracks[track]
	if !ok {
		return fmt.Errorf("connect to track %d: %w", track, ErrUnknownTrack)
	}
	if err := sm.transport.Connect(ts.track.Properties()); err != nil {
		return fmt.Errorf("connect to track %d: %w", track, err)
	}
	return nil
}

func (sm *SyncMaster) becomeMaster(ts *trackState) {
	n := ts.track.Number()
	sm.trackSyncMaster = n
	sm.slicer.MarkDirty()
	sm.log.Info("track sync master", zap.Int("track", n))
	if !sm.session.Transport.ConnectMaster {
		return
	}
	if err := sm.Connect(n); err != nil {
		sm.log.Warn("connecting the transport to the master failed", zap.Error(err))
		sm.SendAlert("ConnectFailed", err.Error(), Warning)
	}
}

func (sm *SyncMaster) clearMaster() {
	sm.log.Info("track sync master cleared", zap.Int("track", sm.trackSyncMaster))
	sm.trackSyncMaster = 0
	sm.slicer.MarkDirty()
}

func (sm *SyncMaster) processMessages() {
	if sm.broker == nil {
		return
	}
loop:
	for {
		select {
		case msg := <-sm.broker.ToSync:
			if err := sm.handle(msg); err != nil {
				sm.log.Warn("control message failed", zap.Error(err))
				sm.SendAlert("ControlFailed", err.Error(), Warning)
			}
		default:
			break loop
		}
	}
}

func (sm *SyncMaster) handle(msg any) error {
	switch m := msg.(type) {
	case TransportMsg:
		switch m.Action {
		case TransportStart:
			sm.transport.Start()
		case TransportStop:
			sm.transport.Stop()
		case TransportPause:
			sm.transport.Pause()
		case TransportResume:
			sm.transport.Resume()
		case TransportTap:
			sm.transport.Tap()
		case TransportMidiStart:
			sm.transport.SendMidiStart()
		}
	case TempoMsg:
		if m.Millis > 0 {
			sm.transport.SetTempoMillis(m.Millis)
		} else {
			sm.transport.SetTempo(m.Tempo)
		}
	case TimeSignatureMsg:
		sm.transport.SetTimeSignature(m.BeatsPerBar, m.BarsPerLoop)
	case ConnectMsg:
		return sm.Connect(m.Track)
	case FollowMsg:
		return sm.Follow(m.Track, m.Source, m.Leader, m.Unit)
	case RecordMsg:
		if m.Record {
			return sm.Record(m.Track, m.Units)
		}
		return sm.StopRecording(m.Track)
	case ResetMsg:
		sm.NotifyTrackReset(m.Track)
	default:
		// ignore unknown messages
	}
	return nil
}

// SendAlert sends an alert to the model side, never blocking.
func (sm *SyncMaster) SendAlert(name, message string, priority AlertPriority) {
	if sm.broker == nil {
		return
	}
	loopsync.TrySend(sm.broker.ToModel, MsgToModel{Data: Alert{
		Name:     name,
		Priority: priority,
		Message:  message,
		Duration: defaultAlertDuration,
	}})
}

func (sm *SyncMaster) publish() {
	for i, a := range sm.analyzers {
		s := &sm.status.Sources[i]
		if a == nil {
			*s = SourceStatus{}
			continue
		}
		source := loopsync.SyncSource(i)
		beat, bar, loop := sm.bartender.Position(source, 0)
		*s = SourceStatus{
			Enabled:    true,
			Running:    a.Running(),
			Locked:     a.Locked(),
			Tempo:      a.Tempo(),
			UnitLength: a.UnitLength(),
			Drift:      a.Drift(),
			Beat:       beat,
			Bar:        bar,
			Loop:       loop,
		}
	}
	sm.status.Transport = sm.transport.State().String()
	sm.status.TrackSyncMaster = sm.trackSyncMaster
	sm.status.MidiOutDrift = sm.transport.MidiOutDrift()
	sm.status.Recording = 0
	for _, ts := range sm.tracks {
		if ts.rec.state == recRunning || ts.rec.state == recStopping {
			sm.status.Recording++
		}
	}
	if sm.broker != nil {
		loopsync.TrySend(sm.broker.ToModel, MsgToModel{HasStatus: true, Status: sm.status})
	}
}

func (s *slicing) TrackPulse(t loopsync.Track) *loopsync.Pulse {
	return s.pulsator.RelevantPulse(t.Follower(), s.trackSyncMaster)
}

func (s *slicing) Boundary(t loopsync.Track, p *loopsync.Pulse) *loopsync.SyncEvent {
	return (*SyncMaster)(s).boundary(t, p)
}

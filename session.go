package loopsync

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var ErrInvalidSession = errors.New("invalid session")

type (
	// Session is the configuration of the sync engine. It is read once when
	// a session is loaded and cached by the components; the engine never
	// writes it back.
	Session struct {
		SampleRate                int             `yaml:"sampleRate,omitempty"`
		BeatsPerBar               int             `yaml:"beatsPerBar,omitempty"`
		BarsPerLoop               int             `yaml:"barsPerLoop,omitempty"`
		MinTempo                  float64         `yaml:"minTempo,omitempty"`
		MaxTempo                  float64         `yaml:"maxTempo,omitempty"`
		MidiEnabled               bool            `yaml:"midiEnabled"`
		ClocksWhileStopped        bool            `yaml:"clocksWhileStopped"`
		ManualStart               bool            `yaml:"manualStart"`
		HostOverrideTimeSignature bool            `yaml:"hostOverrideTimeSignature"`
		DriftThreshold            int             `yaml:"driftThreshold,omitempty"`
		Transport                 TransportConfig `yaml:"transport,omitempty"`
		Midi                      MidiConfig      `yaml:"midi,omitempty"`
		Tracks                    []TrackConfig   `yaml:"tracks,omitempty"`
	}

	TransportConfig struct {
		Tempo float64 `yaml:"tempo,omitempty"`
		// ConnectMaster connects the Transport to the track sync master as
		// soon as one is established.
		ConnectMaster bool `yaml:"connectMaster"`
	}

	// MidiConfig names the MIDI ports by prefix. An empty name means no port.
	MidiConfig struct {
		Input  string `yaml:"input,omitempty"`
		Output string `yaml:"output,omitempty"`
	}

	TrackConfig struct {
		Number      int        `yaml:"number"`
		Source      SyncSource `yaml:"source,omitempty"`
		Leader      int        `yaml:"leader,omitempty"`
		Unit        SyncUnit   `yaml:"unit,omitempty"`
		BeatsPerBar int        `yaml:"beatsPerBar,omitempty"`
		BarsPerLoop int        `yaml:"barsPerLoop,omitempty"`
	}
)

const DefaultTempo = 120.0

// DefaultSession returns the session used when none is loaded.
func DefaultSession() Session {
	return Session{
		SampleRate:                DefaultSampleRate,
		BeatsPerBar:               DefaultBeatsPerBar,
		BarsPerLoop:               DefaultBarsPerLoop,
		MinTempo:                  DefaultMinTempo,
		MaxTempo:                  DefaultMaxTempo,
		MidiEnabled:               true,
		ClocksWhileStopped:        true,
		HostOverrideTimeSignature: true,
		DriftThreshold:            1000,
		Transport:                 TransportConfig{Tempo: DefaultTempo},
	}
}

// ParseSession reads a YAML session. Fields missing from the document keep
// their defaults. The result is validated with Fallback, and the list of
// fallbacks applied is returned so the caller can log them.
func ParseSession(data []byte) (Session, []string, error) {
	s := DefaultSession()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Session{}, nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	fixes := s.Fallback()
	seen := map[int]bool{}
	for _, t := range s.Tracks {
		if t.Number <= 0 {
			return Session{}, fixes, fmt.Errorf("%w: track number %d must be positive", ErrInvalidSession, t.Number)
		}
		if seen[t.Number] {
			return Session{}, fixes, fmt.Errorf("%w: duplicate track number %d", ErrInvalidSession, t.Number)
		}
		seen[t.Number] = true
	}
	return s, fixes, nil
}

func (s *Session) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// Fallback replaces unusable values with the defaults and describes every
// replacement made. Configuration errors never stop the engine.
func (s *Session) Fallback() (fixes []string) {
	if s.SampleRate <= 0 {
		fixes = append(fixes, fmt.Sprintf("sampleRate %d, using %d", s.SampleRate, DefaultSampleRate))
		s.SampleRate = DefaultSampleRate
	}
	if s.BeatsPerBar <= 0 {
		fixes = append(fixes, fmt.Sprintf("beatsPerBar %d, using %d", s.BeatsPerBar, DefaultBeatsPerBar))
		s.BeatsPerBar = DefaultBeatsPerBar
	}
	if s.BarsPerLoop <= 0 {
		fixes = append(fixes, fmt.Sprintf("barsPerLoop %d, using %d", s.BarsPerLoop, DefaultBarsPerLoop))
		s.BarsPerLoop = DefaultBarsPerLoop
	}
	if s.MinTempo <= 0 || s.MaxTempo < s.MinTempo*2 {
		fixes = append(fixes, fmt.Sprintf("tempo range [%g, %g], using [%g, %g]", s.MinTempo, s.MaxTempo, DefaultMinTempo, DefaultMaxTempo))
		s.MinTempo = DefaultMinTempo
		s.MaxTempo = DefaultMaxTempo
	}
	if s.DriftThreshold < 0 {
		fixes = append(fixes, fmt.Sprintf("driftThreshold %d, disabling drift correction", s.DriftThreshold))
		s.DriftThreshold = 0
	}
	if s.Transport.Tempo <= 0 {
		fixes = append(fixes, fmt.Sprintf("transport tempo %g, using %g", s.Transport.Tempo, DefaultTempo))
		s.Transport.Tempo = DefaultTempo
	}
	for i := range s.Tracks {
		t := &s.Tracks[i]
		if t.BeatsPerBar < 0 {
			fixes = append(fixes, fmt.Sprintf("track %d beatsPerBar %d, using session default", t.Number, t.BeatsPerBar))
			t.BeatsPerBar = 0
		}
		if t.BarsPerLoop < 0 {
			fixes = append(fixes, fmt.Sprintf("track %d barsPerLoop %d, using session default", t.Number, t.BarsPerLoop))
			t.BarsPerLoop = 0
		}
		if t.Source == SourceTrack && t.Leader == t.Number {
			fixes = append(fixes, fmt.Sprintf("track %d follows itself, using the default leader", t.Number))
			t.Leader = 0
		}
	}
	return fixes
}

package cmd

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/loopsync/loopsync"
	"github.com/loopsync/loopsync/syncmaster"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultStatusTemplate shows every enabled source with its tempo and
// position, then the transport state, the track sync master and the output
// level.
const DefaultStatusTemplate = `{{range .Sources}}{{.Name}} {{.State}} {{printf "%.2f" .Tempo}} {{add .Loop 1}}.{{add .Bar 1}}.{{add .Beat 1}}{{if .Drift}} drift {{.Drift}}{{end}} | {{end}}` +
	`transport {{.Transport}} | master {{default "-" .Master}}{{if .Recording}} | rec {{.Recording}}{{end}}` +
	`{{if .Level}} | level {{printf "%.2f" .Level}}{{end}}`

type (
	// StatusLine renders engine status snapshots as one line of text, with
	// a text/template extended by the sprig functions.
	StatusLine struct {
		tmpl  *template.Template
		caser cases.Caser
		buf   bytes.Buffer
	}

	statusView struct {
		Sources      []sourceView
		Transport    string
		Master       string
		Recording    int
		MidiOutDrift int
		Level        float32
	}

	sourceView struct {
		Name       string
		State      string
		Tempo      float64
		UnitLength int
		Drift      int
		Beat       int
		Bar        int
		Loop       int
		Running    bool
		Locked     bool
	}
)

func NewStatusLine(text string) (*StatusLine, error) {
	if text == "" {
		text = DefaultStatusTemplate
	}
	tmpl, err := template.New("status").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("could not parse status template: %w", err)
	}
	return &StatusLine{tmpl: tmpl, caser: cases.Title(language.English)}, nil
}

// Render renders status, with level being the peak output level since the
// previous render.
func (s *StatusLine) Render(status syncmaster.Status, level float32) (string, error) {
	view := statusView{
		Transport:    status.Transport,
		Recording:    status.Recording,
		MidiOutDrift: status.MidiOutDrift,
		Level:        level,
	}
	if status.TrackSyncMaster != 0 {
		view.Master = fmt.Sprint(status.TrackSyncMaster)
	}
	for i, src := range status.Sources {
		if !src.Enabled {
			continue
		}
		state := "stopped"
		switch {
		case src.Running && src.Locked:
			state = "locked"
		case src.Running:
			state = "running"
		}
		view.Sources = append(view.Sources, sourceView{
			Name:       s.caser.String(loopsync.SyncSource(i).String()),
			State:      state,
			Tempo:      src.Tempo,
			UnitLength: src.UnitLength,
			Drift:      src.Drift,
			Beat:       src.Beat,
			Bar:        src.Bar,
			Loop:       src.Loop,
			Running:    src.Running,
			Locked:     src.Locked,
		})
	}
	s.buf.Reset()
	if err := s.tmpl.Execute(&s.buf, view); err != nil {
		return "", fmt.Errorf("could not render status: %w", err)
	}
	return s.buf.String(), nil
}

//go:build cgo

package cmd

import (
	"github.com/loopsync/loopsync/syncmaster"
	"github.com/loopsync/loopsync/syncmaster/gomidi"
	"go.uber.org/zap"
)

func NewMidiContext(log *zap.Logger) syncmaster.MIDIContext {
	return gomidi.NewContext(gomidi.WithLogger(log))
}

//go:build !cgo

package cmd

import (
	"github.com/loopsync/loopsync/syncmaster"
	"go.uber.org/zap"
)

func NewMidiContext(log *zap.Logger) syncmaster.MIDIContext {
	// with no cgo, we cannot use MIDI, so return a null context
	return syncmaster.NullMIDIContext{}
}

//go:build plugin

package main

import (
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/loopsync/loopsync"
	"github.com/loopsync/loopsync/analyzer"
	"github.com/loopsync/loopsync/cmd"
	"github.com/loopsync/loopsync/hostsync"
	"go.uber.org/zap"
	"pipelined.dev/audio/vst2"
)

const PLUGIN_NAME = "loopsync"

var PLUGIN_ID = [4]byte{'L', 'p', 'S', 'y'}

// VSTIHostTransport reads the host time info once per block, in update, and
// serves it to the engine for the rest of the block.
type VSTIHostTransport struct {
	host vst2.Host
	info *vst2.TimeInfo
	rate int // from GetSampleRate, until the time info has one
}

func (c *VSTIHostTransport) update() {
	c.info = c.host.GetTimeInfo(vst2.PpqPosValid | vst2.TempoValid | vst2.TimeSigValid)
}

func (c *VSTIHostTransport) SampleRate() int {
	if c.info != nil && c.info.SampleRate > 0 {
		return int(math.Round(c.info.SampleRate))
	}
	return c.rate
}

func (c *VSTIHostTransport) HostTime() (t analyzer.HostTime, ok bool) {
	info := c.info
	if info == nil {
		return analyzer.HostTime{}, false
	}
	t.Playing = info.Flags&vst2.TransportPlaying != 0
	if info.Flags&vst2.PpqPosValid != 0 {
		t.PPQValid = true
		t.PPQ = info.PpqPos
	}
	if info.Flags&vst2.TempoValid != 0 && info.Tempo > 0 {
		t.TempoValid = true
		t.Tempo = info.Tempo
	}
	if info.Flags&vst2.TimeSigValid != 0 && info.TimeSigNumerator > 0 {
		t.TimeSigValid = true
		t.BeatsPerBar = int(info.TimeSigNumerator)
	}
	return t, true
}

// loadSession reads the plugin session from the user config directory, if
// there is one.
func loadSession(log *zap.Logger) loopsync.Session {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return loopsync.DefaultSession()
	}
	path := filepath.Join(configDir, "loopsync", "loopsync-vsti.yaml")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return loopsync.DefaultSession()
	}
	session, err := cmd.LoadSession(path, log)
	if err != nil {
		log.Warn("using the default session", zap.Error(err))
		return loopsync.DefaultSession()
	}
	return session
}

func init() {
	var (
		version = int32(100)
	)
	vst2.PluginAllocator = func(h vst2.Host) (vst2.Plugin, vst2.Dispatcher) {
		log, err := cmd.NewLogger(false)
		if err != nil {
			log = zap.NewNop()
		}
		session := loadSession(log)
		host := &VSTIHostTransport{host: h}
		if h.GetSampleRate != nil {
			host.rate = int(math.Round(float64(h.GetSampleRate())))
		}
		engine := hostsync.New(session, host, log)
		return vst2.Plugin{
				UniqueID:       PLUGIN_ID,
				Version:        version,
				InputChannels:  0,
				OutputChannels: 2,
				Name:           PLUGIN_NAME,
				Vendor:         "loopsync",
				Category:       vst2.PluginCategoryEffect,
				ProcessFloatFunc: func(in, out vst2.FloatBuffer) {
					left := out.Channel(0)
					right := out.Channel(1)
					host.update()
					buf := engine.Process(out.Frames)
					for i := 0; i < out.Frames; i++ {
						left[i], right[i] = buf[i][0], buf[i][1]
					}
				},
			}, vst2.Dispatcher{
				CanDoFunc: func(pcds vst2.PluginCanDoString) vst2.CanDoResponse {
					switch pcds {
					case vst2.PluginCanReceiveTimeInfo:
						return vst2.YesCanDo
					}
					return vst2.NoCanDo
				},
				CloseFunc: func() {
					log.Sync()
				},
			}
	}
}

func main() {}

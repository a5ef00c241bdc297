package oto

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/loopsync/loopsync"
)

type (
	OtoContext struct {
		context *oto.Context
	}

	// OtoOutput feeds an oto player from WriteAudio. The player pulls from
	// the read end of a pipe, so WriteAudio blocks until the device has
	// taken the previous data, pacing the caller like a blocking device
	// write.
	OtoOutput struct {
		player    *oto.Player
		reader    *io.PipeReader
		writer    *io.PipeWriter
		tmpBuffer []byte
	}
)

const otoBufferSize = 50 * time.Millisecond

var _ loopsync.AudioContext = (*OtoContext)(nil)

// NewContext opens the default audio device as a stereo float32 output and
// waits until it is ready.
func NewContext(sampleRate int) (*OtoContext, error) {
	context, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   otoBufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &OtoContext{context: context}, nil
}

func (c *OtoContext) Output() loopsync.AudioSink {
	r, w := io.Pipe()
	player := c.context.NewPlayer(r)
	player.Play()
	return &OtoOutput{player: player, reader: r, writer: w}
}

// Close suspends the device; oto contexts live until the process exits.
func (c *OtoContext) Close() error {
	if err := c.context.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

func (o *OtoOutput) WriteAudio(buffer loopsync.AudioBuffer) error {
	// we reuse the old capacity tmpBuffer by setting its length to zero
	o.tmpBuffer = buffer.AppendFloat32LE(o.tmpBuffer[:0])
	if _, err := o.writer.Write(o.tmpBuffer); err != nil {
		return fmt.Errorf("cannot write to player: %w", err)
	}
	return nil
}

func (o *OtoOutput) Close() error {
	o.writer.Close()
	err := o.player.Close()
	o.reader.Close()
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}

package loopsync

import (
	"encoding/binary"
	"math"
)

// AudioBuffer is a buffer of stereo audio samples of variable length, each
// sample represented by [2]float32. [0] is left channel, [1] is right.
type AudioBuffer [][2]float32

type AudioSink interface {
	WriteAudio(buffer AudioBuffer) error
	Close() error
}

type AudioContext interface {
	Output() AudioSink
	Close() error
}

// Fill fills the AudioBuffer with zeroes.
func (buffer AudioBuffer) Fill() {
	for i := range buffer {
		buffer[i] = [2]float32{}
	}
}

// AppendFloat32LE appends the interleaved little-endian float32 bytes of the
// buffer to out, clamping samples into [-1, 1].
func (buffer AudioBuffer) AppendFloat32LE(out []byte) []byte {
	for _, frame := range buffer {
		for _, v := range frame {
			v = min(max(v, -1), 1)
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
	}
	return out
}

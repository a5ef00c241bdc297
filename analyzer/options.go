package analyzer

import (
	"time"

	"github.com/loopsync/loopsync"
	"go.uber.org/zap"
)

type (
	// Options configures the analyzers. Not every option is meaningful for
	// every analyzer; the ones that are not are ignored.
	Options struct {
		Logger     *zap.Logger
		SampleRate int
		// Now returns the current time in microseconds on the same clock the
		// MIDI input timestamps its events with.
		Now func() int64
		// LockCounter counts the followers whose recorded material depends on
		// the given unit length of a source.
		LockCounter LockCounter
	}

	// Option is a function that modifies Options.
	Option func(*Options)

	LockCounter func(source loopsync.SyncSource, unitLength int) int
)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(opts *Options) {
		if l != nil {
			opts.Logger = l
		}
	}
}

func WithSampleRate(sampleRate int) Option {
	return func(opts *Options) {
		opts.SampleRate = sampleRate
	}
}

// WithClock replaces the microsecond clock used to detect MIDI clock
// stoppage.
func WithClock(now func() int64) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

func WithLockCounter(c LockCounter) Option {
	return func(opts *Options) {
		if c != nil {
			opts.LockCounter = c
		}
	}
}

var epoch = time.Now()

// Now is the default microsecond clock, monotonic since process start.
func Now() int64 {
	return time.Since(epoch).Microseconds()
}

func buildOptions(opts []Option) Options {
	o := Options{
		Logger:      zap.NewNop(),
		SampleRate:  loopsync.DefaultSampleRate,
		Now:         Now,
		LockCounter: func(loopsync.SyncSource, int) int { return 0 },
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.SampleRate <= 0 {
		o.Logger.Warn("invalid sample rate, using default", zap.Int("sampleRate", o.SampleRate))
		o.SampleRate = loopsync.DefaultSampleRate
	}
	return o
}

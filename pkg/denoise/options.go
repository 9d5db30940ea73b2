package denoise

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultSampleRate is the only rate the stock transform accepts.
	DefaultSampleRate = 48_000
	// DefaultIdleSleep is the worker's wait when less than one hop is queued.
	DefaultIdleSleep = 250 * time.Microsecond
	// DefaultDropLogEvery is the dropped-sample milestone for diagnostics.
	DefaultDropLogEvery = 48_000
)

// GuardOptions configure the inline over-suppression guard.
type GuardOptions struct {
	Enabled bool
	// Ratio is the wet/dry RMS ratio below which output is considered collapsed.
	Ratio float64
	// Mix is the dry share blended back in when the guard trips.
	Mix float64
	// FloorRMS is the input RMS under which the guard never trips.
	FloorRMS float64
}

// Options tune an Effect and every instance it spawns.
type Options struct {
	// MixRate is the host sample rate.
	MixRate int
	// TransformRate is the rate the transform requires.
	TransformRate int
	// QueueCapacity is the capacity of each transport queue in samples.
	QueueCapacity int
	// IdleSleep bounds the worker's cooperative wait.
	IdleSleep time.Duration
	// StatsInterval is the hop count between timing reports; 0 disables them.
	StatsInterval int
	// DropLogEvery logs each time the dropped-sample counter crosses a multiple.
	DropLogEvery uint64
	// MaxChunksPerCall caps hops processed per callback by InlineAdapter.
	MaxChunksPerCall int
	// TrimHops caps buffered inline input at TrimHops*hop samples.
	TrimHops int
	Guard    GuardOptions
	Logger   *zap.Logger
}

// DefaultOptions returns the reference tuning.
func DefaultOptions() Options {
	return Options{
		MixRate:          DefaultSampleRate,
		TransformRate:    DefaultSampleRate,
		QueueCapacity:    DefaultQueueCapacity,
		IdleSleep:        DefaultIdleSleep,
		StatsInterval:    DefaultStatsInterval,
		DropLogEvery:     DefaultDropLogEvery,
		MaxChunksPerCall: 4,
		TrimHops:         3,
		Guard: GuardOptions{
			Ratio:    0.03,
			Mix:      0.5,
			FloorRMS: 1e-3,
		},
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MixRate <= 0 {
		o.MixRate = def.MixRate
	}
	if o.TransformRate <= 0 {
		o.TransformRate = def.TransformRate
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = def.QueueCapacity
	}
	if o.IdleSleep <= 0 {
		o.IdleSleep = def.IdleSleep
	}
	if o.StatsInterval < 0 {
		o.StatsInterval = 0
	}
	if o.MaxChunksPerCall <= 0 {
		o.MaxChunksPerCall = def.MaxChunksPerCall
	}
	if o.TrimHops <= 0 {
		o.TrimHops = def.TrimHops
	}
	if o.Guard.Ratio <= 0 {
		o.Guard.Ratio = def.Guard.Ratio
	}
	if o.Guard.Mix <= 0 || o.Guard.Mix > 1 {
		o.Guard.Mix = def.Guard.Mix
	}
	if o.Guard.FloorRMS <= 0 {
		o.Guard.FloorRMS = def.Guard.FloorRMS
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

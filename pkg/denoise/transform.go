package denoise

import (
	"context"
	"errors"
)

var (
	// ErrSampleRateMismatch is returned when the host mix rate differs from the
	// rate the transform requires.
	ErrSampleRateMismatch = errors.New("denoise: host sample rate does not match transform rate")
	// ErrInvalidHopSize is returned when a transform reports a non-positive hop.
	ErrInvalidHopSize = errors.New("denoise: transform hop size must be positive")
	// ErrWorkerStopped is reported by a worker that was asked to stop before it
	// finished constructing its transform.
	ErrWorkerStopped = errors.New("denoise: worker stopped")
)

// TransformConfig is passed to a Factory when a Worker builds its denoiser.
type TransformConfig struct {
	SampleRate int
	Channels   int
	Params     SuppressionParams
}

// Denoiser is a block transform with a fixed hop size.
//
// Process reads exactly HopSize samples from in and writes HopSize samples to
// out. It may fail for a single hop; the caller substitutes the dry input.
type Denoiser interface {
	HopSize() int
	SampleRate() int
	Process(in []float32, out []float32) error
	Close() error
}

// Factory builds a Denoiser. It runs on the worker goroutine, never on the
// real-time callback, and should return early when ctx is cancelled.
type Factory func(ctx context.Context, cfg TransformConfig) (Denoiser, error)

package denoise

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

var errHop = errors.New("hop failed")

// fakeDenoiser scales each hop by gain, or fails every hop when fail is set.
type fakeDenoiser struct {
	hop   int
	rate  int
	gain  float32
	fail  bool
	zero  bool
	calls *atomic.Int64
}

func (d *fakeDenoiser) HopSize() int    { return d.hop }
func (d *fakeDenoiser) SampleRate() int { return d.rate }
func (d *fakeDenoiser) Close() error    { return nil }

func (d *fakeDenoiser) Process(in []float32, out []float32) error {
	if d.calls != nil {
		d.calls.Add(1)
	}
	if d.fail {
		return errHop
	}
	for i := 0; i < d.hop; i++ {
		if d.zero {
			out[i] = 0
			continue
		}
		out[i] = in[i] * d.gain
	}
	return nil
}

type fakeFactory struct {
	den    fakeDenoiser
	err    error
	block  bool
	gate   chan struct{}
	builds atomic.Int64
	calls  atomic.Int64
}

func (f *fakeFactory) build(ctx context.Context, cfg TransformConfig) (Denoiser, error) {
	f.builds.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	den := f.den
	if den.rate == 0 {
		den.rate = cfg.SampleRate
	}
	den.calls = &f.calls
	return &den, nil
}

func scaleFactory(hop int, gain float32) *fakeFactory {
	return &fakeFactory{den: fakeDenoiser{hop: hop, gain: gain}}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func stereo(values ...float32) []Frame {
	frames := make([]Frame, len(values))
	for i, v := range values {
		frames[i] = Frame{Left: v, Right: v}
	}
	return frames
}

func ramp(start float32, n int) []Frame {
	frames := make([]Frame, n)
	for i := range frames {
		v := start + float32(i)
		frames[i] = Frame{Left: v, Right: v}
	}
	return frames
}

func nanFrames(n int) []Frame {
	nan := float32(math.NaN())
	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = Frame{Left: nan, Right: nan}
	}
	return frames
}

func assertFinite(t *testing.T, frames []Frame) {
	t.Helper()
	for i, f := range frames {
		for _, v := range []float32{f.Left, f.Right} {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				t.Fatalf("frame %d is not finite: %+v", i, f)
			}
		}
	}
}

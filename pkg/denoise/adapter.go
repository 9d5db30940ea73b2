package denoise

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Frame is one interleaved stereo sample pair.
type Frame struct {
	Left  float32
	Right float32
}

// AdapterStats is a snapshot of an adapter's counters, safe to read from any
// goroutine while the callback runs.
type AdapterStats struct {
	Mode           string        `json:"mode"`
	Revision       uint64        `json:"revision"`
	WorkerState    string        `json:"worker_state"`
	Passthrough    bool          `json:"passthrough"`
	HopSize        int           `json:"hop_size"`
	Callbacks      uint64        `json:"callbacks"`
	Frames         uint64        `json:"frames"`
	DroppedSamples uint64        `json:"dropped_samples"`
	UnderrunFrames uint64        `json:"underrun_frames"`
	HopFailures    uint64        `json:"hop_failures"`
	GuardTrips     uint64        `json:"guard_trips,omitempty"`
	Timing         *TimingReport `json:"timing,omitempty"`
}

// Adapter bridges variable host callbacks to a hop-based Worker. Process must
// be called from a single goroutine; Stats may be called from any.
type Adapter struct {
	store   *ConfigStore
	factory Factory
	opts    Options
	logger  *zap.Logger

	worker      *Worker
	started     bool
	applied     uint64
	passthrough bool
	closed      bool

	mono []float32
	wet  []float32
	last Frame

	current      atomic.Pointer[Worker]
	revision     atomic.Uint64
	bypass       atomic.Bool
	callbacks    atomic.Uint64
	frames       atomic.Uint64
	dropped      atomic.Uint64
	underruns    atomic.Uint64
	retiredFails atomic.Uint64
}

// NewAdapter creates an adapter reading params from store. The first Process
// call starts the worker.
func NewAdapter(store *ConfigStore, factory Factory, opts Options) *Adapter {
	opts = opts.withDefaults()
	if store == nil {
		store = NewConfigStore(DefaultParams())
	}
	return &Adapter{
		store:   store,
		factory: factory,
		opts:    opts,
		logger:  opts.Logger,
		mono:    make([]float32, 0, 2048),
		wet:     make([]float32, 0, 2048),
	}
}

// Process fills out with exactly len(out) frames. Input frames past len(in)
// are treated as missing.
func (a *Adapter) Process(in []Frame, out []Frame) {
	n := len(out)
	a.callbacks.Add(1)
	a.frames.Add(uint64(n))
	if n == 0 && len(in) == 0 {
		return
	}
	if a.closed {
		a.copyThrough(in, out)
		return
	}

	a.refresh()
	if a.passthrough {
		a.copyThrough(in, out)
		return
	}

	size := max(n, len(in))
	a.ensureScratch(size)
	mono := a.mono[:len(in)]
	for i, f := range in {
		mono[i] = (f.Left + f.Right) * 0.5
	}

	if len(mono) > 0 {
		pushed := a.worker.Input().TryPush(mono)
		if pushed < len(mono) {
			a.noteDropped(uint64(len(mono) - pushed))
		}
	}

	wet := a.wet[:n]
	got := a.worker.Output().TryPop(wet)
	for i := 0; i < got; i++ {
		a.last = Frame{Left: wet[i], Right: wet[i]}
		out[i] = a.last
	}

	if got < n {
		a.underruns.Add(uint64(n - got))
	}
	for i := got; i < n; i++ {
		if i < len(mono) {
			a.last = Frame{Left: mono[i], Right: mono[i]}
		}
		out[i] = a.last
	}
}

// Stats returns the current counters.
func (a *Adapter) Stats() AdapterStats {
	stats := AdapterStats{
		Mode:           "worker",
		Revision:       a.revision.Load(),
		WorkerState:    WorkerStopped.String(),
		Passthrough:    a.bypass.Load(),
		Callbacks:      a.callbacks.Load(),
		Frames:         a.frames.Load(),
		DroppedSamples: a.dropped.Load(),
		UnderrunFrames: a.underruns.Load(),
		HopFailures:    a.retiredFails.Load(),
	}
	if w := a.current.Load(); w != nil {
		stats.WorkerState = w.State().String()
		stats.HopSize = w.HopSize()
		stats.HopFailures += w.HopFailures()
		if report, ok := w.Report(); ok {
			stats.Timing = &report
		}
	}
	return stats
}

// Close stops the worker. Later Process calls pass audio through unchanged.
func (a *Adapter) Close() error {
	a.stopWorker()
	a.closed = true
	a.setPassthrough(true)
	return nil
}

// refresh restarts the worker when the store revision moved, and latches
// passthrough when the current worker failed to build its transform.
func (a *Adapter) refresh() {
	if a.started && a.store.Revision() == a.applied {
		if a.worker != nil && a.worker.Failed() {
			a.stopWorker()
			a.setPassthrough(true)
		}
		return
	}

	params, revision := a.store.Read()
	a.stopWorker()
	a.started = true
	a.applied = revision
	a.revision.Store(revision)

	w, err := StartWorker(WorkerConfig{
		Factory:       a.factory,
		Params:        params,
		Revision:      revision,
		MixRate:       a.opts.MixRate,
		TransformRate: a.opts.TransformRate,
		QueueCapacity: a.opts.QueueCapacity,
		IdleSleep:     a.opts.IdleSleep,
		StatsInterval: a.opts.StatsInterval,
		Logger:        a.logger,
	})
	if err != nil {
		a.setPassthrough(true)
		return
	}
	a.worker = w
	a.current.Store(w)
	a.setPassthrough(false)
}

func (a *Adapter) stopWorker() {
	if a.worker == nil {
		return
	}
	a.worker.Stop()
	a.retiredFails.Add(a.worker.HopFailures())
	a.worker = nil
	a.current.Store(nil)
}

func (a *Adapter) setPassthrough(on bool) {
	a.passthrough = on
	a.bypass.Store(on)
}

func (a *Adapter) copyThrough(in []Frame, out []Frame) {
	k := copy(out, in)
	if k > 0 {
		a.last = out[k-1]
	}
	for i := k; i < len(out); i++ {
		out[i] = a.last
	}
}

func (a *Adapter) ensureScratch(size int) {
	if cap(a.mono) < size {
		a.mono = make([]float32, size)
	}
	a.mono = a.mono[:size]
	if cap(a.wet) < size {
		a.wet = make([]float32, size)
	}
	a.wet = a.wet[:size]
}

func (a *Adapter) noteDropped(count uint64) {
	total := a.dropped.Add(count)
	every := a.opts.DropLogEvery
	if every == 0 {
		return
	}
	if (total-count)/every != total/every {
		a.logger.Warn("input queue full, dropping samples",
			zap.Uint64("dropped_samples", total),
			zap.Uint64("revision", a.applied),
		)
	}
}

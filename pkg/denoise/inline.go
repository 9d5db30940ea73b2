package denoise

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// InlineAdapter runs the transform directly inside the callback, without a
// worker goroutine or transport queues. Output runs one hop behind input: a
// fresh stream starts with one hop of held output, after which every callback
// is served from processed hops in arrival order. A callback processes the
// hops its own output needs, or Options.MaxChunksPerCall hops when that is
// more, and a backlog beyond Options.TrimHops hops is trimmed oldest first.
type InlineAdapter struct {
	store   *ConfigStore
	factory Factory
	opts    Options
	logger  *zap.Logger

	den         Denoiser
	hop         int
	started     bool
	applied     uint64
	passthrough bool
	closed      bool
	timing      *TimingStats

	pending  []float32
	ready    []float32
	prime    int
	mono     []float32
	inChunk  []float32
	outChunk []float32
	last     Frame

	revision   atomic.Uint64
	hopSize    atomic.Int64
	bypass     atomic.Bool
	callbacks  atomic.Uint64
	frames     atomic.Uint64
	dropped    atomic.Uint64
	underruns  atomic.Uint64
	hopFails   atomic.Uint64
	guardTrips atomic.Uint64
	report     atomic.Pointer[TimingReport]
}

// NewInlineAdapter creates a threadless adapter reading params from store.
func NewInlineAdapter(store *ConfigStore, factory Factory, opts Options) *InlineAdapter {
	opts = opts.withDefaults()
	if store == nil {
		store = NewConfigStore(DefaultParams())
	}
	return &InlineAdapter{
		store:   store,
		factory: factory,
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Process fills out with exactly len(out) frames.
func (a *InlineAdapter) Process(in []Frame, out []Frame) {
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

	if cap(a.mono) < len(in) {
		a.mono = make([]float32, len(in))
	}
	mono := a.mono[:len(in)]
	for i, f := range in {
		mono[i] = (f.Left + f.Right) * 0.5
	}
	a.pending = append(a.pending, mono...)

	budget := max(a.opts.MaxChunksPerCall, (n+a.hop-1)/a.hop)
	consumed := 0
	for chunks := 0; chunks < budget && len(a.pending)-consumed >= a.hop; chunks++ {
		a.processHop(a.pending[consumed : consumed+a.hop])
		consumed += a.hop
	}
	if consumed > 0 {
		a.pending = append(a.pending[:0], a.pending[consumed:]...)
	}
	a.pending = a.trim(a.pending)

	filled := min(n, a.prime)
	for i := 0; i < filled; i++ {
		out[i] = a.last
	}
	a.prime -= filled

	got := min(n-filled, len(a.ready))
	for i := 0; i < got; i++ {
		a.last = Frame{Left: a.ready[i], Right: a.ready[i]}
		out[filled+i] = a.last
	}
	a.ready = append(a.ready[:0], a.ready[got:]...)
	a.ready = a.trim(a.ready)
	filled += got

	if filled < n {
		a.underruns.Add(uint64(n - filled))
	}
	for i := filled; i < n; i++ {
		if i < len(mono) {
			a.last = Frame{Left: mono[i], Right: mono[i]}
		}
		out[i] = a.last
	}
}

// trim drops the oldest samples of buf beyond TrimHops hops. It only bites
// when a host keeps delivering more input than it asks output for.
func (a *InlineAdapter) trim(buf []float32) []float32 {
	limit := a.opts.TrimHops * a.hop
	if len(buf) <= limit {
		return buf
	}
	excess := len(buf) - limit
	a.dropped.Add(uint64(excess))
	return append(buf[:0], buf[excess:]...)
}

// Stats returns the current counters.
func (a *InlineAdapter) Stats() AdapterStats {
	state := WorkerStopped
	if hop := a.hopSize.Load(); hop > 0 {
		state = WorkerRunning
	}
	stats := AdapterStats{
		Mode:           "inline",
		Revision:       a.revision.Load(),
		WorkerState:    state.String(),
		Passthrough:    a.bypass.Load(),
		HopSize:        int(a.hopSize.Load()),
		Callbacks:      a.callbacks.Load(),
		Frames:         a.frames.Load(),
		DroppedSamples: a.dropped.Load(),
		UnderrunFrames: a.underruns.Load(),
		HopFailures:    a.hopFails.Load(),
		GuardTrips:     a.guardTrips.Load(),
	}
	if report := a.report.Load(); report != nil {
		r := *report
		stats.Timing = &r
	}
	return stats
}

// Close releases the transform. Later Process calls pass audio through.
func (a *InlineAdapter) Close() error {
	err := a.closeDenoiser()
	a.closed = true
	a.bypass.Store(true)
	a.passthrough = true
	return err
}

func (a *InlineAdapter) refresh() {
	if a.started && a.store.Revision() == a.applied {
		return
	}
	params, revision := a.store.Read()
	if err := a.closeDenoiser(); err != nil {
		a.logger.Warn("denoiser close failed", zap.Error(err))
	}
	a.started = true
	a.applied = revision
	a.revision.Store(revision)

	den, err := a.build(params, revision)
	if err != nil {
		a.pending = a.pending[:0]
		a.ready = a.ready[:0]
		a.prime = 0
		a.passthrough = true
		a.bypass.Store(true)
		return
	}
	a.den = den
	a.hop = den.HopSize()
	a.hopSize.Store(int64(a.hop))
	a.timing = NewTimingStats(a.opts.StatsInterval, a.hop, a.opts.MixRate)
	if cap(a.inChunk) < a.hop {
		a.inChunk = make([]float32, a.hop)
		a.outChunk = make([]float32, a.hop)
	}
	a.inChunk = a.inChunk[:a.hop]
	a.outChunk = a.outChunk[:a.hop]
	// Buffered audio carries over a rebuild, so only a fresh stream (or a
	// longer hop) needs held output to cover the hop of latency.
	if buffered := a.prime + len(a.ready) + len(a.pending); buffered < a.hop {
		a.prime += a.hop - buffered
	}
	a.passthrough = false
	a.bypass.Store(false)
}

func (a *InlineAdapter) build(params SuppressionParams, revision uint64) (Denoiser, error) {
	if a.opts.MixRate != a.opts.TransformRate {
		a.logger.Error("unsupported mix rate; falling back to passthrough",
			zap.Int("mix_rate", a.opts.MixRate),
			zap.Int("transform_rate", a.opts.TransformRate),
			zap.Uint64("revision", revision),
		)
		return nil, ErrSampleRateMismatch
	}
	if a.factory == nil {
		return nil, errors.New("denoise: inline factory is nil")
	}

	started := time.Now()
	den, err := a.factory(context.Background(), TransformConfig{
		SampleRate: a.opts.MixRate,
		Channels:   1,
		Params:     params.Sanitize(),
	})
	if err == nil {
		switch {
		case den.HopSize() <= 0:
			err = fmt.Errorf("%w: got %d", ErrInvalidHopSize, den.HopSize())
		case den.SampleRate() != a.opts.MixRate:
			err = fmt.Errorf("%w: host=%d transform=%d", ErrSampleRateMismatch, a.opts.MixRate, den.SampleRate())
		}
		if err != nil {
			_ = den.Close()
		}
	}
	if err != nil {
		a.logger.Error("denoiser initialization failed; falling back to passthrough",
			zap.Error(err),
			zap.String("detail", fmt.Sprintf("%+v", err)),
			zap.Uint64("revision", revision),
		)
		return nil, err
	}
	a.logger.Info("inline denoiser initialized",
		zap.Int("hop_size", den.HopSize()),
		zap.Uint64("revision", revision),
		zap.Int64("load_time_ms", time.Since(started).Milliseconds()),
	)
	return den, nil
}

func (a *InlineAdapter) processHop(dry []float32) {
	copy(a.inChunk, dry)
	start := time.Now()
	result := a.outChunk
	if err := a.den.Process(a.inChunk, a.outChunk); err != nil {
		result = a.inChunk
		a.hopFailed(err)
	} else if !allFinite(a.outChunk) {
		result = a.inChunk
		a.hopFailed(errors.New("transform produced non-finite samples"))
	} else if a.opts.Guard.Enabled {
		a.guard(a.inChunk, a.outChunk)
	}
	if report, ok := a.timing.Observe(time.Since(start)); ok {
		a.report.Store(&report)
		a.logger.Debug("chunk timing",
			zap.Uint64("hops", report.Hops),
			zap.Float64("avg_ms", report.AvgMs),
			zap.Float64("max_ms", report.MaxMs),
			zap.Float64("budget_ms", report.BudgetMs),
			zap.Float64("load_ratio", report.LoadRatio),
		)
	}
	a.ready = append(a.ready, result...)
}

// guard blends dry back in when the wet hop collapsed far below the input.
func (a *InlineAdapter) guard(dry []float32, wet []float32) {
	g := a.opts.Guard
	inRMS := rms(dry)
	if inRMS <= g.FloorRMS {
		return
	}
	if rms(wet) >= inRMS*g.Ratio {
		return
	}
	a.guardTrips.Add(1)
	mix := float32(g.Mix)
	for i := range wet {
		wet[i] = mix*dry[i] + (1-mix)*wet[i]
	}
}

func (a *InlineAdapter) hopFailed(err error) {
	n := a.hopFails.Add(1)
	if n <= maxHopFailLogged || n%hopFailLogEvery == 0 {
		a.logger.Warn("inline process failed, using dry chunk",
			zap.Error(err),
			zap.Uint64("failed_hops", n),
		)
	}
}

func (a *InlineAdapter) closeDenoiser() error {
	if a.den == nil {
		return nil
	}
	err := a.den.Close()
	a.den = nil
	a.hop = 0
	a.hopSize.Store(0)
	return err
}

func (a *InlineAdapter) copyThrough(in []Frame, out []Frame) {
	k := copy(out, in)
	if k > 0 {
		a.last = out[k-1]
	}
	for i := k; i < len(out); i++ {
		out[i] = a.last
	}
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

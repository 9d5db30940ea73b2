package denoise

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// WorkerState is the lifecycle position of a Worker.
type WorkerState int32

const (
	WorkerStopped WorkerState = iota
	WorkerStarting
	WorkerRunning
)

// String returns the state name.
func (s WorkerState) String() string {
	switch s {
	case WorkerStarting:
		return "starting"
	case WorkerRunning:
		return "running"
	default:
		return "stopped"
	}
}

const (
	pushSpinLimit    = 64
	hopFailLogEvery  = 1000
	maxHopFailLogged = 1
)

// WorkerConfig describes one worker generation.
type WorkerConfig struct {
	Factory       Factory
	Params        SuppressionParams
	Revision      uint64
	MixRate       int
	TransformRate int
	QueueCapacity int
	IdleSleep     time.Duration
	StatsInterval int
	Logger        *zap.Logger
}

// Worker owns one denoiser instance on its own goroutine. It pulls hops from
// the input queue and pushes processed hops to the output queue. A Worker is
// never reconfigured; a new revision means a new Worker.
type Worker struct {
	// real-time side halves
	input  *Producer
	output *Consumer
	// worker side halves
	in  *Consumer
	out *Producer

	factory       Factory
	params        SuppressionParams
	revision      uint64
	sampleRate    int
	idleSleep     time.Duration
	statsInterval int
	logger        *zap.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	state    atomic.Int32
	hopSize  atomic.Int64
	failed   atomic.Bool
	hopFails atomic.Uint64
	report   atomic.Pointer[TimingReport]

	mu  sync.Mutex
	err error
}

// StartWorker validates the rate and launches the worker goroutine. A rate
// mismatch returns ErrSampleRateMismatch without constructing anything; the
// caller is expected to run in passthrough.
func StartWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Factory == nil {
		return nil, errors.New("denoise: worker factory is nil")
	}
	if cfg.MixRate != cfg.TransformRate {
		logger.Error("unsupported mix rate; falling back to passthrough",
			zap.Int("mix_rate", cfg.MixRate),
			zap.Int("transform_rate", cfg.TransformRate),
			zap.Uint64("revision", cfg.Revision),
		)
		return nil, fmt.Errorf("%w: host=%d transform=%d", ErrSampleRateMismatch, cfg.MixRate, cfg.TransformRate)
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	idle := cfg.IdleSleep
	if idle <= 0 {
		idle = DefaultIdleSleep
	}

	input, in := NewQueue(capacity)
	out, output := NewQueue(capacity)
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		input:         input,
		output:        output,
		in:            in,
		out:           out,
		factory:       cfg.Factory,
		params:        cfg.Params.Sanitize(),
		revision:      cfg.Revision,
		sampleRate:    cfg.MixRate,
		idleSleep:     idle,
		statsInterval: cfg.StatsInterval,
		logger:        logger,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	w.state.Store(int32(WorkerStarting))
	go w.run(ctx)
	return w, nil
}

// Input is the producer half used by the real-time side.
func (w *Worker) Input() *Producer { return w.input }

// Output is the consumer half used by the real-time side.
func (w *Worker) Output() *Consumer { return w.output }

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState { return WorkerState(w.state.Load()) }

// HopSize returns the transform's hop, or 0 before the transform is built.
func (w *Worker) HopSize() int { return int(w.hopSize.Load()) }

// Revision returns the configuration revision this worker applies.
func (w *Worker) Revision() uint64 { return w.revision }

// Params returns the parameters captured at start.
func (w *Worker) Params() SuppressionParams { return w.params }

// Failed reports a terminal construction or validation failure.
func (w *Worker) Failed() bool { return w.failed.Load() }

// HopFailures counts hops whose transform call failed and were passed dry.
func (w *Worker) HopFailures() uint64 { return w.hopFails.Load() }

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Err returns why the worker stopped, or nil while running or after a clean stop.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Report returns the latest timing report, if one was produced.
func (w *Worker) Report() (TimingReport, bool) {
	r := w.report.Load()
	if r == nil {
		return TimingReport{}, false
	}
	return *r, true
}

// Stop asks the worker to exit and waits for it. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(w.cancel)
	<-w.done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.state.Store(int32(WorkerStopped))

	started := time.Now()
	den, err := w.factory(ctx, TransformConfig{
		SampleRate: w.sampleRate,
		Channels:   1,
		Params:     w.params,
	})
	if err != nil {
		if ctx.Err() != nil {
			w.setErr(ErrWorkerStopped)
			return
		}
		w.fail(fmt.Errorf("build denoiser: %w", err), started)
		return
	}
	defer func() {
		if cerr := den.Close(); cerr != nil {
			w.logger.Warn("denoiser close failed", zap.Error(cerr))
		}
	}()

	hop := den.HopSize()
	switch {
	case hop <= 0:
		w.fail(fmt.Errorf("%w: got %d", ErrInvalidHopSize, hop), started)
		return
	case den.SampleRate() != w.sampleRate:
		w.fail(fmt.Errorf("%w: host=%d transform=%d", ErrSampleRateMismatch, w.sampleRate, den.SampleRate()), started)
		return
	case hop > w.in.Cap() || hop > w.out.Cap():
		w.fail(fmt.Errorf("hop size %d exceeds queue capacity %d", hop, w.in.Cap()), started)
		return
	}

	w.hopSize.Store(int64(hop))
	w.state.Store(int32(WorkerRunning))
	w.logger.Info("denoiser initialized",
		zap.Int("hop_size", hop),
		zap.Int("sample_rate", w.sampleRate),
		zap.Uint64("revision", w.revision),
		zap.Int64("load_time_ms", time.Since(started).Milliseconds()),
	)

	w.loop(ctx, den, hop)
}

func (w *Worker) loop(ctx context.Context, den Denoiser, hop int) {
	inChunk := make([]float32, hop)
	outChunk := make([]float32, hop)
	stats := NewTimingStats(w.statsInterval, hop, w.sampleRate)

	idle := time.NewTicker(w.idleSleep)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.in.Len() < hop {
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}

		popped := w.in.TryPop(inChunk)
		if popped < hop {
			clear(inChunk[popped:])
		}

		start := time.Now()
		result := outChunk
		if err := den.Process(inChunk, outChunk); err != nil {
			result = inChunk
			w.hopFailed(err)
		} else if !allFinite(outChunk) {
			result = inChunk
			w.hopFailed(errors.New("transform produced non-finite samples"))
		}
		elapsed := time.Since(start)

		if report, ok := stats.Observe(elapsed); ok {
			w.report.Store(&report)
			w.logger.Debug("chunk timing",
				zap.Uint64("hops", report.Hops),
				zap.Float64("avg_ms", report.AvgMs),
				zap.Float64("max_ms", report.MaxMs),
				zap.Float64("budget_ms", report.BudgetMs),
				zap.Float64("load_ratio", report.LoadRatio),
			)
		}

		if !w.pushAll(ctx, result) {
			return
		}
	}
}

// pushAll retries until the whole hop is queued or the worker is cancelled.
func (w *Worker) pushAll(ctx context.Context, samples []float32) bool {
	written := 0
	spins := 0
	for written < len(samples) {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		written += w.out.TryPush(samples[written:])
		if written == len(samples) {
			break
		}
		spins++
		if spins < pushSpinLimit {
			runtime.Gosched()
			continue
		}
		timer := time.NewTimer(w.idleSleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
	return true
}

func (w *Worker) hopFailed(err error) {
	n := w.hopFails.Add(1)
	if n <= maxHopFailLogged || n%hopFailLogEvery == 0 {
		w.logger.Warn("process failed in worker, using dry chunk",
			zap.Error(err),
			zap.Uint64("failed_hops", n),
		)
	}
}

func (w *Worker) fail(err error, started time.Time) {
	w.setErr(err)
	w.failed.Store(true)
	w.logger.Error("denoiser initialization failed; falling back to passthrough",
		zap.Error(err),
		zap.String("detail", fmt.Sprintf("%+v", err)),
		zap.Uint64("revision", w.revision),
		zap.Int64("load_time_ms", time.Since(started).Milliseconds()),
	)
}

func (w *Worker) setErr(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

func allFinite(samples []float32) bool {
	for _, s := range samples {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Package spectral implements a single-channel Wiener-style spectral
// suppressor with a fixed 480-sample hop at 48 kHz.
package spectral

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/saker-ai/denoise-bridge/pkg/denoise"
)

const (
	// SampleRate is the only rate the suppressor accepts.
	SampleRate = 48_000
	// HopSize is the number of samples consumed and produced per call.
	HopSize = 480
	// FrameSize is the analysis window length (50% overlap).
	FrameSize = 2 * HopSize
	// Bands is the number of ERB-spaced gain bands.
	Bands = 24

	warmupFrames  = 8
	noiseAlpha    = 0.98
	speechAlpha   = 0.999
	speechRatio   = 4.0
	powerEpsilon  = 1e-12
	gainSmoothing = 0.3
)

var (
	ErrUnsupportedRate     = errors.New("spectral: unsupported sample rate")
	ErrUnsupportedChannels = errors.New("spectral: only mono input is supported")
	ErrShortBuffer         = errors.New("spectral: buffer shorter than hop size")
	ErrClosed              = errors.New("spectral: denoiser closed")
)

// Denoiser tracks a per-bin noise estimate and applies band-reduced Wiener
// gains. It is not safe for concurrent use.
type Denoiser struct {
	params denoise.SuppressionParams
	floor  float64

	fft    *fourier.FFT
	window []float64
	edges  []int

	frame  []float64
	work   []float64
	coeffs []complex128
	tail   []float64

	power []float64
	noise []float64
	wien  []float64
	band  []float64
	gains []float64
	prev  []float64

	frames uint64
	closed bool
}

var _ denoise.Denoiser = (*Denoiser)(nil)

// New builds a suppressor for cfg.
func New(cfg denoise.TransformConfig) (*Denoiser, error) {
	if cfg.SampleRate != SampleRate {
		return nil, fmt.Errorf("%w: %d (want %d)", ErrUnsupportedRate, cfg.SampleRate, SampleRate)
	}
	if cfg.Channels != 1 {
		return nil, fmt.Errorf("%w: got %d channels", ErrUnsupportedChannels, cfg.Channels)
	}
	params := cfg.Params.Sanitize()
	bins := FrameSize/2 + 1
	d := &Denoiser{
		params: params,
		floor:  math.Pow(10, -params.AttenLimitDB/20),
		fft:    fourier.NewFFT(FrameSize),
		window: sqrtHann(FrameSize),
		edges:  erbEdges(bins, SampleRate, FrameSize, Bands),
		frame:  make([]float64, FrameSize),
		work:   make([]float64, FrameSize),
		coeffs: make([]complex128, bins),
		tail:   make([]float64, HopSize),
		power:  make([]float64, bins),
		noise:  make([]float64, bins),
		wien:   make([]float64, bins),
		band:   make([]float64, bins),
		gains:  make([]float64, bins),
		prev:   make([]float64, bins),
	}
	for i := range d.prev {
		d.prev[i] = 1
	}
	return d, nil
}

// Factory adapts New to denoise.Factory.
func Factory(ctx context.Context, cfg denoise.TransformConfig) (denoise.Denoiser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return New(cfg)
}

// HopSize implements denoise.Denoiser.
func (d *Denoiser) HopSize() int { return HopSize }

// SampleRate implements denoise.Denoiser.
func (d *Denoiser) SampleRate() int { return SampleRate }

// Latency is the delay between input and output in samples.
func (d *Denoiser) Latency() int { return HopSize }

// Params returns the sanitized parameters in use.
func (d *Denoiser) Params() denoise.SuppressionParams { return d.params }

// Close implements denoise.Denoiser.
func (d *Denoiser) Close() error {
	d.closed = true
	return nil
}

// Process consumes one hop from in and writes one hop to out. The output is
// delayed by one hop.
func (d *Denoiser) Process(in []float32, out []float32) error {
	if d.closed {
		return ErrClosed
	}
	if len(in) < HopSize || len(out) < HopSize {
		return fmt.Errorf("%w: in=%d out=%d", ErrShortBuffer, len(in), len(out))
	}

	copy(d.frame, d.frame[HopSize:])
	for i := 0; i < HopSize; i++ {
		d.frame[HopSize+i] = float64(in[i])
	}
	for i, s := range d.frame {
		d.work[i] = s * d.window[i]
	}
	d.fft.Coefficients(d.coeffs, d.work)

	for k, c := range d.coeffs {
		d.power[k] = real(c)*real(c) + imag(c)*imag(c)
	}
	d.trackNoise()
	d.computeGains()
	for k := range d.coeffs {
		d.coeffs[k] *= complex(d.gains[k], 0)
	}

	d.fft.Sequence(d.work, d.coeffs)
	scale := 1.0 / FrameSize
	for i := range d.work {
		d.work[i] *= scale * d.window[i]
	}
	for i := 0; i < HopSize; i++ {
		out[i] = float32(d.work[i] + d.tail[i])
	}
	copy(d.tail, d.work[HopSize:])
	d.frames++
	return nil
}

// trackNoise updates the per-bin noise PSD. The first frames seed it quickly;
// bins far above the estimate are treated as speech and update slowly.
func (d *Denoiser) trackNoise() {
	if d.frames < warmupFrames {
		w := 1.0 / float64(d.frames+1)
		for k, p := range d.power {
			d.noise[k] += (p - d.noise[k]) * w
		}
		return
	}
	for k, p := range d.power {
		alpha := noiseAlpha
		if p > speechRatio*d.noise[k] {
			alpha = speechAlpha
		}
		d.noise[k] = alpha*d.noise[k] + (1-alpha)*p
	}
}

// frameSNR is the local signal-to-noise ratio of the current frame in dB.
func (d *Denoiser) frameSNR() float64 {
	var sig, noise float64
	for k := range d.power {
		sig += d.power[k]
		noise += d.noise[k]
	}
	return 10 * math.Log10((sig+powerEpsilon)/(noise+powerEpsilon))
}

func (d *Denoiser) computeGains() {
	p := d.params
	snr := d.frameSNR()

	switch {
	case snr < p.MinDBThresh:
		fill(d.gains, d.floor)
		copy(d.prev, d.gains)
		return
	case snr > p.MaxDBErbThresh:
		fill(d.gains, 1)
		copy(d.prev, d.gains)
		return
	}

	for k := range d.power {
		xi := d.power[k]/(d.noise[k]+powerEpsilon) - 1
		if xi < 0 {
			xi = 0
		}
		d.wien[k] = xi / (1 + xi)
	}
	reduceBands(d.band, d.wien, d.edges, p.MaskReduction)

	refine := snr <= p.MaxDBDfThresh
	beta := math.Min(p.PostFilterBeta, 1)
	for k := range d.gains {
		g := d.band[k]
		if refine {
			g = math.Sqrt(g * d.wien[k])
		}
		if beta > 0 {
			g = (1-beta)*g + beta*g*math.Sin(math.Pi*g/2)
		}
		// release smoothing against musical noise
		if g < d.prev[k] {
			g = gainSmoothing*d.prev[k] + (1-gainSmoothing)*g
		}
		d.prev[k] = g
		d.gains[k] = math.Max(g, d.floor)
	}
}

// reduceBands writes the band-reduced gain of each bin into dst.
func reduceBands(dst []float64, gains []float64, edges []int, mode denoise.MaskReduction) {
	if mode == denoise.MaskReductionNone {
		copy(dst, gains)
		return
	}
	for b := 0; b+1 < len(edges); b++ {
		lo, hi := edges[b], edges[b+1]
		if hi <= lo {
			continue
		}
		var v float64
		for _, g := range gains[lo:hi] {
			if mode == denoise.MaskReductionMax {
				v = math.Max(v, g)
			} else {
				v += g
			}
		}
		if mode == denoise.MaskReductionMean {
			v /= float64(hi - lo)
		}
		fill(dst[lo:hi], v)
	}
}

// erbEdges splits bins into n bands equally spaced on the ERB-rate scale.
// Every band holds at least one bin.
func erbEdges(bins int, sampleRate int, fftSize int, n int) []int {
	edges := make([]int, n+1)
	binHz := float64(sampleRate) / float64(fftSize)
	top := hzToErb(float64(sampleRate) / 2)
	for b := 1; b < n; b++ {
		hz := erbToHz(top * float64(b) / float64(n))
		k := int(math.Round(hz / binHz))
		if k <= edges[b-1] {
			k = edges[b-1] + 1
		}
		if limit := bins - (n - b); k > limit {
			k = limit
		}
		edges[b] = k
	}
	edges[n] = bins
	return edges
}

func hzToErb(hz float64) float64 { return 21.4 * math.Log10(1+0.00437*hz) }

func erbToHz(erb float64) float64 { return (math.Pow(10, erb/21.4) - 1) / 0.00437 }

// sqrtHann is the periodic square-root Hann window; its square overlap-adds
// to one at 50% overlap.
func sqrtHann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = math.Sin(math.Pi * float64(i) / float64(n))
	}
	return w
}

func fill(dst []float64, v float64) {
	for i := range dst {
		dst[i] = v
	}
}

package denoise_test

import (
	"math"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saker-ai/denoise-bridge/pkg/denoise"
	"github.com/saker-ai/denoise-bridge/pkg/denoise/spectral"
)

func TestEffectInstantiateBumpsRevision(t *testing.T) {
	effect := denoise.NewEffect(spectral.Factory, denoise.DefaultParams(), denoise.DefaultOptions())
	_, before := effect.Params()

	a := effect.Instantiate()
	defer a.Close()
	_, after := effect.Params()
	if after != before+1 {
		t.Fatalf("revision=%d, want %d", after, before+1)
	}

	p := denoise.DefaultParams()
	p.AttenLimitDB = -18
	_, rev := effect.SetParams(p)
	got, cur := effect.Params()
	if cur != rev || got.AttenLimitDB != 18 {
		t.Fatalf("params=%+v rev=%d, want atten 18 at %d", got, cur, rev)
	}
}

func TestEffectProcessorsRunSpectralTransform(t *testing.T) {
	effect := denoise.NewEffect(spectral.Factory, denoise.DefaultParams(), denoise.DefaultOptions())

	for _, inline := range []bool{false, true} {
		proc := effect.NewProcessor(inline)
		phase := 0
		for call := 0; call < 40; call++ {
			n := 128 + (call*97)%800
			in := make([]denoise.Frame, n)
			for i := range in {
				v := float32(0.8 * math.Sin(2*math.Pi*440*float64(phase)/48_000))
				phase++
				in[i] = denoise.Frame{Left: v, Right: v}
			}
			out := make([]denoise.Frame, n)
			proc.Process(in, out)
			for i, f := range out {
				if math.IsNaN(float64(f.Left)) || math.IsInf(float64(f.Left), 0) || f.Left != f.Right {
					t.Fatalf("inline=%v call %d frame %d=%+v", inline, call, i, f)
				}
			}
		}
		stats := proc.Stats()
		if stats.Callbacks != 40 || stats.Passthrough {
			t.Fatalf("inline=%v stats=%+v, want 40 callbacks and no passthrough", inline, stats)
		}
		if err := proc.Close(); err != nil {
			t.Fatalf("Close error: %v", err)
		}
	}
}

func TestEffectRejectsOtherMixRates(t *testing.T) {
	opts := denoise.DefaultOptions()
	opts.MixRate = 44_100
	effect := denoise.NewEffect(spectral.Factory, denoise.DefaultParams(), opts)
	proc := effect.NewProcessor(false)
	defer proc.Close()

	in := []denoise.Frame{{Left: 0.5, Right: -0.25}}
	out := make([]denoise.Frame, 1)
	proc.Process(in, out)
	if out[0] != in[0] || !proc.Stats().Passthrough {
		t.Fatalf("out=%+v passthrough=%v, want verbatim copy", out[0], proc.Stats().Passthrough)
	}
}

func TestEffectUpdateParamsSanitizesPatch(t *testing.T) {
	effect := denoise.NewEffect(spectral.Factory, denoise.DefaultParams(), denoise.DefaultOptions())
	atten := -30.0
	beta := -1.0
	got, rev := effect.UpdateParams(denoise.ParamsPatch{AttenLimitDB: &atten, PostFilterBeta: &beta})
	if got.AttenLimitDB != 30 || got.PostFilterBeta != 0 {
		t.Fatalf("params=%+v, want atten 30 beta 0", got)
	}
	stored, cur := effect.Params()
	if stored != got || cur != rev {
		t.Fatalf("stored=%+v rev=%d, want %+v at %d", stored, cur, got, rev)
	}
}

func TestEffectSetParamsReportsStoredValues(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	opts := denoise.DefaultOptions()
	opts.Logger = zap.New(core)
	effect := denoise.NewEffect(spectral.Factory, denoise.DefaultParams(), opts)

	p := denoise.DefaultParams()
	p.AttenLimitDB = -20
	p.PostFilterBeta = -0.5
	got, rev := effect.SetParams(p)
	if got.AttenLimitDB != 20 || got.PostFilterBeta != 0 {
		t.Fatalf("params=%+v, want atten 20 beta 0", got)
	}
	stored, cur := effect.Params()
	if stored != got || cur != rev {
		t.Fatalf("stored=%+v rev=%d, want %+v at %d", stored, cur, got, rev)
	}

	entries := logs.FilterMessage("suppression params updated").All()
	if len(entries) != 1 {
		t.Fatalf("log entries=%d, want 1", len(entries))
	}
	if atten := entries[0].ContextMap()["atten_lim_db"]; atten != 20.0 {
		t.Fatalf("logged atten_lim_db=%v, want 20", atten)
	}
}

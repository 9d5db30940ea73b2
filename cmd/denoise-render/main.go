package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/denoise-bridge/internal/config"
	applogger "github.com/saker-ai/denoise-bridge/internal/logger"
	"github.com/saker-ai/denoise-bridge/pkg/denoise"
	"github.com/saker-ai/denoise-bridge/pkg/denoise/spectral"
)

// CLI defines the offline render command line.
type CLI struct {
	Input    string   `arg:"" type:"existingfile" help:"Input WAV file"`
	Output   string   `short:"o" default:"denoised.wav" help:"Output WAV file"`
	Config   string   `short:"c" type:"path" help:"conf.yaml supplying effect and suppression settings"`
	Preset   string   `short:"p" help:"Preset name or file to apply"`
	Atten    *float64 `help:"Attenuation limit in dB"`
	Mask     string   `help:"Band mask reduction: none, max or mean"`
	Inline   bool     `help:"Run the transform inside the callback instead of a worker"`
	MinBlock int      `default:"64" help:"Smallest callback in frames"`
	MaxBlock int      `default:"1024" help:"Largest callback in frames"`
	Seed     uint64   `default:"1" help:"Seed for callback sizes"`
	Speed    float64  `default:"4" help:"Pace callbacks at this multiple of real time (0 = unpaced)"`
	KeepRate bool     `help:"Resample the output back to the input rate"`
	Verbose  bool     `help:"Log at debug level"`
}

func main() {
	cli := &CLI{}
	kong.Parse(cli,
		kong.Name("denoise-render"),
		kong.Description("Run a WAV file through the streaming noise suppressor"),
		kong.UsageOnError(),
	)
	if err := run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cli *CLI) error {
	cfg, err := appconfig.LoadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// stdout carries the stats JSON.
	cfg.Log.Stdout = false
	cfg.Log.Stderr = true
	cfg.Log.Format = "console"
	cfg.Log.Level = "warn"
	if cli.Verbose {
		cfg.Log.Level = "debug"
	}
	cfg.Log.File.Enabled = false
	log, err := applogger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	params, err := resolveParams(cli, cfg)
	if err != nil {
		return err
	}

	frames, inRate, err := readWAV(cli.Input)
	if err != nil {
		return err
	}
	opts := cfg.Effect.Options(log.Component("render"))
	mixed, err := resampleFrames(frames, inRate, opts.MixRate)
	if err != nil {
		return fmt.Errorf("resample input: %w", err)
	}

	effect := denoise.NewEffect(spectral.Factory, params, opts)
	proc := effect.NewProcessor(cli.Inline || cfg.Effect.Inline)
	out := render(proc, mixed, renderOptions{
		MinBlock:   cli.MinBlock,
		MaxBlock:   cli.MaxBlock,
		Seed:       cli.Seed,
		TailFrames: tailFrames(opts, params),
		Speed:      cli.Speed,
		SampleRate: opts.MixRate,
	})
	if err := proc.Close(); err != nil {
		return err
	}

	outRate := opts.MixRate
	if cli.KeepRate && inRate != outRate {
		if out, err = resampleFrames(out, outRate, inRate); err != nil {
			return fmt.Errorf("resample output: %w", err)
		}
		outRate = inRate
	}
	if err := writeWAV(cli.Output, out, outRate); err != nil {
		return fmt.Errorf("write %s: %w", cli.Output, err)
	}

	log.Debug("render finished", zap.Int("frames", len(out)), zap.Int("sample_rate", outRate))
	stats, err := json.MarshalIndent(proc.Stats(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d frames at %d Hz)\n%s\n", cli.Output, len(out), outRate, stats)
	return nil
}

// resolveParams layers preset and flag overrides over the config section.
func resolveParams(cli *CLI, cfg appconfig.Config) (denoise.SuppressionParams, error) {
	params, err := cfg.Suppression.Params()
	if err != nil {
		return params, err
	}
	if cli.Preset != "" {
		preset, err := loadPreset(cfg.PresetsDir, cli.Preset)
		if err != nil {
			return params, err
		}
		if params, err = preset.Params(); err != nil {
			return params, err
		}
	}
	var patch denoise.ParamsPatch
	patch.AttenLimitDB = cli.Atten
	if cli.Mask != "" {
		mode, err := denoise.ParseMaskReduction(cli.Mask)
		if err != nil {
			return params, err
		}
		patch.MaskReduction = &mode
	}
	patch.Apply(&params)
	return params.Sanitize(), nil
}

func loadPreset(dir string, name string) (appconfig.Preset, error) {
	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		return appconfig.ReadPreset(name)
	}
	return appconfig.FindPreset(dir, name)
}

// tailFrames covers the transform latency plus two hops of adapter
// buffering so the last input reaches the output. Rates the transform
// rejects run passthrough and get a flat 40 ms.
func tailFrames(opts denoise.Options, params denoise.SuppressionParams) int {
	den, err := spectral.New(denoise.TransformConfig{SampleRate: opts.MixRate, Channels: 1, Params: params})
	if err != nil {
		return 4 * opts.MixRate / 100
	}
	defer den.Close()
	return den.Latency() + 2*den.HopSize()
}

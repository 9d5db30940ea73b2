package main

import (
	"math/rand/v2"
	"time"

	"github.com/saker-ai/denoise-bridge/pkg/denoise"
)

// renderOptions control how the input is cut into host callbacks.
type renderOptions struct {
	MinBlock   int
	MaxBlock   int
	Seed       uint64
	TailFrames int
	// Speed paces callbacks at Speed times real time; 0 runs unpaced.
	Speed      float64
	SampleRate int
}

// render drives proc with pseudo-random callback sizes and returns exactly
// len(in)+TailFrames output frames.
func render(proc denoise.Processor, in []denoise.Frame, opts renderOptions) []denoise.Frame {
	minBlock := max(opts.MinBlock, 1)
	maxBlock := max(opts.MaxBlock, minBlock)
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	total := len(in) + max(opts.TailFrames, 0)
	out := make([]denoise.Frame, total)
	silence := make([]denoise.Frame, maxBlock)
	start := time.Now()

	for pos := 0; pos < total; {
		n := minBlock + rng.IntN(maxBlock-minBlock+1)
		n = min(n, total-pos)

		block := silence[:n]
		if pos < len(in) {
			if pos+n <= len(in) {
				block = in[pos : pos+n]
			} else {
				block = make([]denoise.Frame, n)
				copy(block, in[pos:])
			}
		}
		proc.Process(block, out[pos:pos+n])
		pos += n

		if opts.Speed > 0 && opts.SampleRate > 0 {
			due := time.Duration(float64(pos) / float64(opts.SampleRate) / opts.Speed * float64(time.Second))
			if wait := due - time.Since(start); wait > 0 {
				time.Sleep(wait)
			}
		}
	}
	return out
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"

	"github.com/saker-ai/denoise-bridge/pkg/audio"
	"github.com/saker-ai/denoise-bridge/pkg/denoise"
)

// readWAV decodes path into stereo frames normalized to [-1, 1].
func readWAV(path string) ([]denoise.Frame, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("invalid wav file: %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, 0, fmt.Errorf("invalid wav buffer: %s", path)
	}

	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = int(dec.BitDepth)
	}
	if depth <= 0 || depth > 32 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d in %s", depth, path)
	}
	scale := 1 / float32(int64(1)<<(depth-1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) * scale
	}
	return audio.Deinterleave(samples, buf.Format.NumChannels), buf.Format.SampleRate, nil
}

// writeWAV stores frames as 16-bit stereo PCM.
func writeWAV(path string, frames []denoise.Frame, sampleRate int) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 2, 1)
	buf := &goaudio.Float32Buffer{
		Format: &goaudio.Format{
			SampleRate:  sampleRate,
			NumChannels: 2,
		},
		Data:           audio.Interleave(frames),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// resampleFrames converts both channels between rates.
func resampleFrames(frames []denoise.Frame, inRate, outRate int) ([]denoise.Frame, error) {
	if inRate == outRate {
		return frames, nil
	}
	left := make([]float32, len(frames))
	right := make([]float32, len(frames))
	for i, f := range frames {
		left[i], right[i] = f.Left, f.Right
	}
	l, err := audio.Resample(left, inRate, outRate)
	if err != nil {
		return nil, err
	}
	r, err := audio.Resample(right, inRate, outRate)
	if err != nil {
		return nil, err
	}
	out := make([]denoise.Frame, min(len(l), len(r)))
	for i := range out {
		out[i] = denoise.Frame{Left: l[i], Right: r[i]}
	}
	return out, nil
}

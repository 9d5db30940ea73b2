package audio

import (
	"fmt"

	resampler "github.com/godeps/go-audio-soxr"
)

// StreamResampler converts one channel between rates, keeping filter state
// across writes.
type StreamResampler struct {
	key    soxrKey
	r      *resampler.SimpleResamplerFloat32
	outBuf []float32
}

// NewStreamResampler creates a high quality streaming resampler.
func NewStreamResampler(inRate, outRate int) (*StreamResampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("audio: invalid rates %d -> %d", inRate, outRate)
	}
	key := soxrKey{inRate: inRate, outRate: outRate, quality: resampler.QualityHigh}
	r, err := acquireSoxr(key)
	if err != nil {
		return nil, fmt.Errorf("audio: soxr %d -> %d: %w", inRate, outRate, err)
	}
	return &StreamResampler{key: key, r: r}, nil
}

// Close returns the engine to the pool.
func (s *StreamResampler) Close() {
	if s == nil || s.r == nil {
		return
	}
	releaseSoxr(s.key, s.r)
	s.r = nil
	s.outBuf = nil
}

// Write resamples samples and buffers the output.
func (s *StreamResampler) Write(samples []float32) error {
	if s == nil || s.r == nil {
		return ErrResamplerClosed
	}
	if len(samples) == 0 {
		return nil
	}
	tmp := AcquireFloat32(len(samples))
	copy(tmp, samples)
	out, err := s.r.Process(tmp)
	ReleaseFloat32(tmp)
	if err != nil {
		return err
	}
	s.outBuf = append(s.outBuf, out...)
	return nil
}

// Flush drains the engine's delay line into the buffer.
func (s *StreamResampler) Flush() error {
	if s == nil || s.r == nil {
		return ErrResamplerClosed
	}
	out, err := s.r.Flush()
	if err != nil {
		return err
	}
	s.outBuf = append(s.outBuf, out...)
	return nil
}

// Buffered is the number of resampled samples waiting to be read.
func (s *StreamResampler) Buffered() int {
	if s == nil {
		return 0
	}
	return len(s.outBuf)
}

// Read moves up to len(dst) buffered samples into dst.
func (s *StreamResampler) Read(dst []float32) int {
	if s == nil {
		return 0
	}
	n := copy(dst, s.outBuf)
	s.outBuf = s.outBuf[n:]
	if len(s.outBuf) == 0 {
		s.outBuf = s.outBuf[:0:0]
	}
	return n
}

// Resample converts a whole channel in one call.
func Resample(samples []float32, inRate, outRate int) ([]float32, error) {
	if inRate == outRate {
		return samples, nil
	}
	r, err := NewStreamResampler(inRate, outRate)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if err := r.Write(samples); err != nil {
		return nil, err
	}
	if err := r.Flush(); err != nil {
		return nil, err
	}
	out := make([]float32, r.Buffered())
	r.Read(out)
	return out, nil
}

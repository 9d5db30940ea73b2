package audio

import (
	"errors"
	"sync"

	resampler "github.com/godeps/go-audio-soxr"
)

// ErrResamplerClosed is returned after Close.
var ErrResamplerClosed = errors.New("audio: resampler closed")

type soxrKey struct {
	inRate  int
	outRate int
	quality resampler.QualityPreset
}

// soxr engines are costly to build, so they are pooled per rate pair.
var soxrPools sync.Map

func soxrPool(key soxrKey) *sync.Pool {
	if pool, ok := soxrPools.Load(key); ok {
		return pool.(*sync.Pool)
	}
	actual, _ := soxrPools.LoadOrStore(key, &sync.Pool{})
	return actual.(*sync.Pool)
}

func acquireSoxr(key soxrKey) (*resampler.SimpleResamplerFloat32, error) {
	if v := soxrPool(key).Get(); v != nil {
		if r, ok := v.(*resampler.SimpleResamplerFloat32); ok && r != nil {
			return r, nil
		}
	}
	return resampler.NewEngineFloat32(float64(key.inRate), float64(key.outRate), key.quality)
}

func releaseSoxr(key soxrKey, r *resampler.SimpleResamplerFloat32) {
	if r == nil {
		return
	}
	r.Reset()
	soxrPool(key).Put(r)
}

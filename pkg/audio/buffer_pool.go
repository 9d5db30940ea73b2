package audio

import "sync"

// poolBlock is the allocation granularity of pooled slices. One websocket
// reply at the default mix rate is a few kilobytes, so most requests land in
// the first few blocks and a released slice is reusable by the next callback.
const poolBlock = 1024

// slicePool hands out slices with capacity rounded up to poolBlock. A slice
// that is too small for the request goes back to the pool instead of being
// dropped.
type slicePool[T any] struct {
	pool sync.Pool
}

func (p *slicePool[T]) acquire(size int) []T {
	if size <= 0 {
		return nil
	}
	if v, ok := p.pool.Get().(*[]T); ok {
		if cap(*v) >= size {
			return (*v)[:size]
		}
		p.pool.Put(v)
	}
	return make([]T, size, roundUp(size))
}

func (p *slicePool[T]) release(buf []T) {
	if cap(buf) == 0 {
		return
	}
	buf = buf[:0]
	p.pool.Put(&buf)
}

func roundUp(size int) int {
	return (size + poolBlock - 1) / poolBlock * poolBlock
}

var (
	bytesPool   slicePool[byte]
	float32Pool slicePool[float32]
)

// AcquireBytes returns a byte slice with length size.
func AcquireBytes(size int) []byte { return bytesPool.acquire(size) }

// ReleaseBytes puts a byte slice back to the pool.
func ReleaseBytes(buf []byte) { bytesPool.release(buf) }

// AcquireFloat32 returns a float32 slice with length size.
func AcquireFloat32(size int) []float32 { return float32Pool.acquire(size) }

// ReleaseFloat32 puts a float32 slice back to the pool.
func ReleaseFloat32(buf []float32) { float32Pool.release(buf) }

package denoise

import "sync/atomic"

// DefaultQueueCapacity is one second of mono audio at 48 kHz.
const DefaultQueueCapacity = 48_000

// ring is a fixed-capacity single-producer/single-consumer sample queue.
// head is only advanced by the consumer and tail only by the producer; both
// count samples since creation, so tail-head is always the occupied length.
type ring struct {
	buf  []float32
	head atomic.Uint64
	tail atomic.Uint64
}

// Producer is the write half of a sample queue. Only one goroutine may use it.
type Producer struct {
	r *ring
}

// Consumer is the read half of a sample queue. Only one goroutine may use it.
type Consumer struct {
	r *ring
}

// NewQueue allocates a queue of the given capacity and returns its two halves.
func NewQueue(capacity int) (*Producer, *Consumer) {
	if capacity < 1 {
		capacity = 1
	}
	r := &ring{buf: make([]float32, capacity)}
	return &Producer{r: r}, &Consumer{r: r}
}

// TryPush writes as many samples as fit and returns the count written.
// It never blocks; the caller accounts for the remainder.
func (p *Producer) TryPush(samples []float32) int {
	r := p.r
	tail := r.tail.Load()
	head := r.head.Load()
	size := uint64(len(r.buf))
	free := size - (tail - head)
	n := uint64(len(samples))
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}
	start := tail % size
	first := copy(r.buf[start:], samples[:n])
	copy(r.buf, samples[first:n])
	r.tail.Store(tail + n)
	return int(n)
}

// Len returns the number of queued samples.
func (p *Producer) Len() int { return p.r.len() }

// Free returns the number of samples that can be pushed right now.
func (p *Producer) Free() int { return max(len(p.r.buf)-p.r.len(), 0) }

// Cap returns the fixed queue capacity.
func (p *Producer) Cap() int { return len(p.r.buf) }

// TryPop copies up to len(dst) queued samples into dst and returns the count.
// It never blocks.
func (c *Consumer) TryPop(dst []float32) int {
	r := c.r
	head := r.head.Load()
	tail := r.tail.Load()
	size := uint64(len(r.buf))
	n := uint64(len(dst))
	if avail := tail - head; n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}
	start := head % size
	first := copy(dst[:n], r.buf[start:])
	copy(dst[first:n], r.buf)
	r.head.Store(head + n)
	return int(n)
}

// Len returns the number of queued samples.
func (c *Consumer) Len() int { return c.r.len() }

// Cap returns the fixed queue capacity.
func (c *Consumer) Cap() int { return len(c.r.buf) }

// head must be loaded first: a tail read afterwards can only be larger.
func (r *ring) len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	return int(tail - head)
}

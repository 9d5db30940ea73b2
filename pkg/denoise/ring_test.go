package denoise

import (
	"sync"
	"testing"
)

func TestQueueFIFOAndWraparound(t *testing.T) {
	p, c := NewQueue(8)

	if n := p.TryPush([]float32{1, 2, 3, 4, 5, 6}); n != 6 {
		t.Fatalf("push=%d, want 6", n)
	}
	dst := make([]float32, 4)
	if n := c.TryPop(dst); n != 4 {
		t.Fatalf("pop=%d, want 4", n)
	}
	// tail wraps past the end of the buffer here
	if n := p.TryPush([]float32{7, 8, 9, 10, 11, 12}); n != 6 {
		t.Fatalf("push=%d, want 6", n)
	}
	if p.Len() != 8 || p.Free() != 0 {
		t.Fatalf("len=%d free=%d, want 8 0", p.Len(), p.Free())
	}

	got := make([]float32, 16)
	n := c.TryPop(got)
	if n != 8 {
		t.Fatalf("pop=%d, want 8", n)
	}
	want := []float32{5, 6, 7, 8, 9, 10, 11, 12}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%v, want %v", i, got[i], want[i])
		}
	}
}

func TestQueuePushIsPartialWhenFull(t *testing.T) {
	p, c := NewQueue(5)
	if n := p.TryPush([]float32{1, 2, 3, 4, 5, 6, 7}); n != 5 {
		t.Fatalf("push=%d, want 5", n)
	}
	if n := p.TryPush([]float32{8}); n != 0 {
		t.Fatalf("push into full queue=%d, want 0", n)
	}
	if c.Len() != 5 || c.Cap() != 5 {
		t.Fatalf("len=%d cap=%d, want 5 5", c.Len(), c.Cap())
	}
}

func TestQueuePopEmpty(t *testing.T) {
	_, c := NewQueue(4)
	if n := c.TryPop(make([]float32, 4)); n != 0 {
		t.Fatalf("pop=%d, want 0", n)
	}
	if n := c.TryPop(nil); n != 0 {
		t.Fatalf("pop nil=%d, want 0", n)
	}
}

func TestQueueCapacityFloor(t *testing.T) {
	p, _ := NewQueue(0)
	if p.Cap() != 1 {
		t.Fatalf("cap=%d, want 1", p.Cap())
	}
}

func TestQueueConcurrentOrdering(t *testing.T) {
	const total = 200_000
	p, c := NewQueue(1024)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		chunk := make([]float32, 37)
		next := 0
		for next < total {
			n := min(len(chunk), total-next)
			for i := 0; i < n; i++ {
				chunk[i] = float32(next + i)
			}
			pushed := 0
			for pushed < n {
				pushed += p.TryPush(chunk[pushed:n])
			}
			next += n
		}
	}()

	dst := make([]float32, 53)
	expect := 0
	for expect < total {
		n := c.TryPop(dst)
		for i := 0; i < n; i++ {
			if dst[i] != float32(expect) {
				t.Fatalf("sample %d=%v, want %v", expect, dst[i], float32(expect))
			}
			expect++
		}
	}
	wg.Wait()
	if c.Len() != 0 {
		t.Fatalf("len after drain=%d, want 0", c.Len())
	}
}

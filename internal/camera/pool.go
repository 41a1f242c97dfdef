package camera

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrPoolExhausted is returned when no frame slot frees up within the wait.
var ErrPoolExhausted = errors.New("camera: no free frame buffer")

// DefaultAcquireWait bounds how long Checkout blocks for a free slot.
const DefaultAcquireWait = time.Second

// slot is one preallocated frame buffer.
type slot struct {
	id  int
	buf []byte
	out atomic.Bool
}

// Pool is a fixed arena of frame slots. A slot is held by exactly one
// owner between Checkout and Return.
type Pool struct {
	free chan *slot
	size int
	wait time.Duration

	// Metrics
	gets     atomic.Uint64
	returns  atomic.Uint64
	misses   atomic.Uint64
	inUse    atomic.Int64
	peakUsed atomic.Int64
}

// NewPool allocates n slots of bufSize bytes each.
func NewPool(n, bufSize int, wait time.Duration) *Pool {
	if n < 1 {
		n = 1
	}
	if wait <= 0 {
		wait = DefaultAcquireWait
	}
	p := &Pool{
		free: make(chan *slot, n),
		size: n,
		wait: wait,
	}
	for i := 0; i < n; i++ {
		p.free <- &slot{id: i, buf: make([]byte, 0, bufSize)}
	}
	return p
}

func (p *Pool) Size() int { return p.size }

// Checkout waits up to the pool's wait (or until ctx is done) for a slot.
func (p *Pool) Checkout(ctx context.Context) (*slot, error) {
	p.gets.Add(1)

	var s *slot
	select {
	case s = <-p.free:
	default:
		timer := time.NewTimer(p.wait)
		defer timer.Stop()
		select {
		case s = <-p.free:
		case <-timer.C:
			p.misses.Add(1)
			return nil, fmt.Errorf("waited %s: %w", p.wait, ErrPoolExhausted)
		case <-ctx.Done():
			p.misses.Add(1)
			return nil, ctx.Err()
		}
	}

	s.out.Store(true)
	used := p.inUse.Add(1)
	for {
		peak := p.peakUsed.Load()
		if used <= peak || p.peakUsed.CompareAndSwap(peak, used) {
			break
		}
	}
	return s, nil
}

// Return hands the slot back. Returning a slot twice is a no-op.
func (p *Pool) Return(s *slot) {
	if s == nil || !s.out.CompareAndSwap(true, false) {
		return
	}
	s.buf = s.buf[:0]
	p.inUse.Add(-1)
	p.returns.Add(1)
	p.free <- s
}

// Metrics returns pool statistics
func (p *Pool) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"pool_size":    p.size,
		"pool_in_use":  p.inUse.Load(),
		"pool_peak":    p.peakUsed.Load(),
		"pool_gets":    p.gets.Load(),
		"pool_returns": p.returns.Load(),
		"pool_misses":  p.misses.Load(),
	}
}

package lib

import (
	"context"
	"sync"
	"time"
)

type TimerPool struct {
	sp sync.Pool
	m  *PoolMetrics
}

func (p *TimerPool) acquire(timeout time.Duration) *time.Timer {
	v := p.sp.Get()
	if v == nil {
		p.m.acquired(false)
		return time.NewTimer(timeout)
	}
	p.m.acquired(true)
	t := v.(*time.Timer)
	t.Reset(timeout)
	return t
}

func (p *TimerPool) release(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	p.sp.Put(t)
	p.m.released()
}

// sleep waits for d, returning early with ctx.Err() or when abort is closed.
func sleep(ctx context.Context, d time.Duration, abort <-chan struct{}) error {
	t := timerPool.acquire(d)
	defer timerPool.release(t)

	select {
	case <-t.C:
		return nil
	case <-abort:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

package blob

import (
	"context"
	"time"
)

// Janitor periodically runs Store.GC, mirroring the teacher's
// spilldb/db.Janitor ticker+cancel shape.
type Janitor struct {
	Logf func(format string, v ...interface{})

	ctx      context.Context
	cancelFn func()
	done     chan struct{}

	store    *Store
	interval time.Duration
	cleanNow chan struct{}
}

// NewJanitor returns a Janitor that runs store.GC every interval (or
// 30 minutes if interval is zero).
func NewJanitor(store *Store, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ctx, cancelFn := context.WithCancel(context.Background())
	return &Janitor{
		Logf:     func(string, ...interface{}) {},
		ctx:      ctx,
		cancelFn: cancelFn,
		done:     make(chan struct{}),
		store:    store,
		interval: interval,
		cleanNow: make(chan struct{}),
	}
}

// CleanNow requests an out-of-band GC pass without waiting for the
// next tick.
func (j *Janitor) CleanNow() {
	select {
	case j.cleanNow <- struct{}{}:
	default:
	}
}

// Run blocks, running GC passes until Shutdown is called.
func (j *Janitor) Run() error {
	defer close(j.done)

	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-j.ctx.Done():
			return nil
		case <-t.C:
		case <-j.cleanNow:
		}

		start := time.Now()
		removed, err := j.store.GC()
		if err != nil {
			j.Logf("blob janitor: gc failed after %s: %v", time.Since(start), err)
			continue
		}
		j.Logf("blob janitor: gc removed %d blobs in %s", removed, time.Since(start))
	}
}

// Shutdown stops Run and waits for it to exit.
func (j *Janitor) Shutdown(ctx context.Context) error {
	j.cancelFn()
	select {
	case <-j.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

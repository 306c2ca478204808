package session

import (
	"sync"
	"time"

	"github.com/minuteline/consultd/internal/config"
)

// Timer emits ticks at a fixed interval on its own goroutine and accounts
// elapsed running time. Elapsed time is derived from the monotonic clock
// reading carried by time.Time, so wall-clock adjustments do not skew it.
//
// The timer knows nothing about billing: it keeps ticking until a caller
// stops it, even if the tick callback has signaled failure. Stopping after
// an exhausted deduction is the consumer's responsibility.
type Timer struct {
	interval time.Duration
	onTick   func()

	mu          sync.Mutex
	running     bool
	startedAt   time.Time
	accumulated time.Duration
	stopCh      chan struct{}
}

func NewTimer(interval time.Duration, onTick func()) *Timer {
	if interval <= 0 {
		interval = config.DefaultTickInterval
	}
	return &Timer{interval: interval, onTick: onTick}
}

// Start begins tick emission. Starting a running timer is a no-op; there is
// never more than one tick stream per timer.
func (t *Timer) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.startedAt = time.Now()
	stopCh := make(chan struct{})
	t.stopCh = stopCh
	t.mu.Unlock()

	go t.loop(stopCh)
}

// Stop halts tick emission and freezes elapsed accounting. Idempotent, and
// safe to call from inside the tick callback: no callback fires after Stop
// returns on the tick goroutine.
func (t *Timer) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.accumulated += time.Since(t.startedAt)
	close(t.stopCh)
	t.mu.Unlock()
}

func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Elapsed reports total time spent in the running state since the timer was
// created. Monotonic: never decreases, and frozen at the value present when
// Stop was called.
func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return t.accumulated + time.Since(t.startedAt)
	}
	return t.accumulated
}

func (t *Timer) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			// A stop may have raced the tick; never deliver past it.
			select {
			case <-stopCh:
				return
			default:
			}
			if t.onTick != nil {
				t.onTick()
			}
		}
	}
}

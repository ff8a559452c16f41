package scheduler

import (
	"sync"
	"time"
)

// turnGuard is the per-session single-flight lock plus the session's
// pending timer. The epoch changes whenever the session is paused, which
// invalidates both the current claim and every callback scheduled before.
type turnGuard struct {
	mu       sync.Mutex
	inFlight bool
	epoch    uint64
	timer    *time.Timer
}

// tryAcquire claims the session for one turn. It fails while another turn
// holds the claim.
func (g *turnGuard) tryAcquire() (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight {
		return 0, false
	}
	g.inFlight = true
	return g.epoch, true
}

// release drops a claim taken at epoch. It reports false when the claim was
// invalidated in the meantime; the caller must not schedule follow-ups then.
func (g *turnGuard) release(epoch uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if epoch != g.epoch {
		return false
	}
	g.inFlight = false
	return true
}

// invalidate clears any claim, bumps the epoch and cancels the pending timer.
func (g *turnGuard) invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false
	g.epoch++
	g.stopLocked()
}

func (g *turnGuard) currentEpoch() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch
}

func (g *turnGuard) current(epoch uint64) bool {
	return g.currentEpoch() == epoch
}

// schedule replaces the pending timer with fn after d.
func (g *turnGuard) schedule(d time.Duration, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
	g.timer = time.AfterFunc(d, fn)
}

func (g *turnGuard) stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
}

func (g *turnGuard) stopLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

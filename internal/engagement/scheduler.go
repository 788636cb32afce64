package engagement

import (
	"sync"
	"time"
)

// Periodic runs fn every interval until Stop is called. It is the single
// timer abstraction behind both the heartbeat and the external-watch flush.
//
// Ticks are scheduled against the planned grid, not the end of the previous
// run; ticks missed while the process was suspended are skipped, not replayed.
type Periodic struct {
	clock    Clock
	interval time.Duration
	fn       func(now time.Time)

	mu       sync.Mutex
	timer    Timer
	next     time.Time
	stopped  bool
	inFlight sync.WaitGroup
}

// StartPeriodic arms the first tick one interval from now.
func StartPeriodic(clock Clock, interval time.Duration, fn func(now time.Time)) *Periodic {
	p := &Periodic{
		clock:    clock,
		interval: interval,
		fn:       fn,
	}

	p.mu.Lock()
	p.next = clock.Now().Add(interval)
	p.timer = clock.AfterFunc(interval, p.tick)
	p.mu.Unlock()

	return p
}

func (p *Periodic) tick() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.inFlight.Add(1)
	p.mu.Unlock()

	p.fn(p.clock.Now())

	p.mu.Lock()
	if !p.stopped {
		now := p.clock.Now()
		p.next = p.next.Add(p.interval)
		for !p.next.After(now) {
			p.next = p.next.Add(p.interval)
		}
		p.timer = p.clock.AfterFunc(p.next.Sub(now), p.tick)
	}
	p.mu.Unlock()
	p.inFlight.Done()
}

// Stop cancels future ticks and waits for a running tick to return, so no
// tick is observed after Stop returns. Must not be called from fn.
func (p *Periodic) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()

	p.inFlight.Wait()
}

// internal/poller/runner.go
package poller

import (
	"context"
	"time"
)

// Run drives the poll loop until ctx is done.
// One goroutine per device. No overlap. The first poll runs immediately;
// afterwards the loop waits the interval, or the backoff delay after a
// failure, or until Refresh/Resume wakes it.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started", "interval", p.cfg.Interval)
	defer p.logger.Info("poller stopped")

	var delay time.Duration
	first := true

	for {
		if p.Paused() {
			select {
			case <-ctx.Done():
				return
			case <-p.resumeCh:
			}
		} else if !first {
			select {
			case <-ctx.Done():
				return
			case <-p.refreshCh:
				// gap already checked by Refresh
			case <-p.resumeCh:
			case <-p.clock.After(delay):
				if !p.reserveSlot(ctx) {
					return
				}
			}
		} else {
			p.limiter.ReserveN(p.clock.Now(), 1)
		}
		first = false

		if ctx.Err() != nil {
			return
		}

		res := p.PollOnce(ctx)
		delay = res.NextDelay
	}
}

// reserveSlot takes a token for a scheduled poll, waiting out the
// remaining gap if a forced refresh ran recently.
func (p *Poller) reserveSlot(ctx context.Context) bool {
	now := p.clock.Now()
	r := p.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	if wait <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(wait):
		return true
	}
}

// Start runs the loop in its own goroutine. Calling Start twice is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		p.Run(ctx)
	}(p.done)
}

// Stop cancels the loop, waits for the in-flight poll (bounded by the poll
// timeout) and disconnects the transport. Idempotent.
func (p *Poller) Stop() error {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.runMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	p.stopOnce.Do(func() {
		p.pollMu.Lock()
		defer p.pollMu.Unlock()
		p.stopErr = p.client.Disconnect()
		p.connected = false
	})
	return p.stopErr
}

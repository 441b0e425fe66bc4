// internal/browser/network.go
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"
)

const networkIdleCheckFrequency = 100 * time.Millisecond

// requestTracker counts in-flight requests of one tab from CDP network events.
type requestTracker struct {
	logger *zap.Logger

	mu       sync.RWMutex
	inflight map[network.RequestID]struct{}
}

func newRequestTracker(logger *zap.Logger) *requestTracker {
	return &requestTracker{
		logger:   logger.Named("network"),
		inflight: make(map[network.RequestID]struct{}),
	}
}

// handle is registered with chromedp.ListenTarget and must not block.
func (t *requestTracker) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		// Redirects reuse the request ID, so the map keeps the count honest.
		t.mu.Lock()
		t.inflight[e.RequestID] = struct{}{}
		t.mu.Unlock()
	case *network.EventLoadingFinished:
		t.done(e.RequestID)
	case *network.EventLoadingFailed:
		t.done(e.RequestID)
	}
}

func (t *requestTracker) done(id network.RequestID) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.mu.Unlock()
}

func (t *requestTracker) active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.inflight)
}

// reset forgets requests that belonged to a previous document.
func (t *requestTracker) reset() {
	t.mu.Lock()
	t.inflight = make(map[network.RequestID]struct{})
	t.mu.Unlock()
}

// waitIdle blocks until no request has been in flight for quietPeriod.
// The quiet timer restarts whenever activity resumes.
func (t *requestTracker) waitIdle(ctx context.Context, quietPeriod time.Duration) error {
	timer := time.NewTimer(quietPeriod)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	defer timer.Stop()

	isIdle := false
	ticker := time.NewTicker(networkIdleCheckFrequency)
	defer ticker.Stop()

	check := func() {
		if t.active() > 0 {
			if isIdle {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				isIdle = false
			}
			return
		}
		if !isIdle {
			timer.Reset(quietPeriod)
			isIdle = true
		}
	}
	check()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			check()
		case <-timer.C:
			t.logger.Debug("Network is idle.", zap.Duration("quiet_period", quietPeriod))
			return nil
		}
	}
}

package headless

import (
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// networkTracker counts in-flight requests of a tab from CDP network events.
type networkTracker struct {
	mu           sync.Mutex
	pending      map[network.RequestID]struct{}
	lastActivity time.Time
	now          func() time.Time
}

func newNetworkTracker() *networkTracker {
	return &networkTracker{
		pending:      make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
		now:          time.Now,
	}
}

func (t *networkTracker) captureEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.started(e.RequestID)
	case *network.EventLoadingFinished:
		t.finished(e.RequestID)
	case *network.EventLoadingFailed:
		t.finished(e.RequestID)
	}
}

func (t *networkTracker) started(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[id] = struct{}{}
	t.lastActivity = t.now()
}

func (t *networkTracker) finished(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
	t.lastActivity = t.now()
}

func (t *networkTracker) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// idleFor reports how long the tab has had zero requests in flight, or 0 while busy.
func (t *networkTracker) idleFor(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) > 0 {
		return 0
	}
	return now.Sub(t.lastActivity)
}

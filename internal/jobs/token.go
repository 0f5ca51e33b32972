package jobs

import (
	"sync"
	"time"
)

// Token is the cancellation oracle of one job. It reports a plain cancel
// once Cancel is called and a timeout once the soft time limit has passed
// since Start. Token implements quanttxt.CancellationOracle.
type Token struct {
	mu        sync.Mutex
	limit     time.Duration
	now       func() time.Time
	deadline  time.Time
	started   bool
	cancelled bool
}

// NewToken returns a token with the given soft time limit. A zero limit
// never times out.
func NewToken(limit time.Duration, now func() time.Time) *Token {
	if now == nil {
		now = time.Now
	}
	return &Token{limit: limit, now: now}
}

// Start begins the soft time limit. Calls after the first are ignored.
func (t *Token) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	t.deadline = t.now().Add(t.limit)
}

// Cancel requests cancellation.
func (t *Token) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
}

// Cancelled reports whether the job should stop and whether the reason is
// the time limit. An explicit cancel takes precedence over a timeout.
func (t *Token) Cancelled() (cancelled, timeout bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return true, false
	}
	if t.started && t.limit > 0 && !t.now().Before(t.deadline) {
		return true, true
	}
	return false, false
}

package scheduler

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Backoff computes exponential retry delays with additive jitter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// JitterFunc returns a value in [0, n). n may be zero.
type JitterFunc func(n time.Duration) time.Duration

func randomJitter(n time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(n)))
}

// Delay returns min(Base*2^retryCount, Max) plus jitter in [0, Jitter).
func (b Backoff) Delay(retryCount int, jitter JitterFunc) time.Duration {
	delay := b.Base
	for i := 0; i < retryCount && delay < b.Max; i++ {
		delay *= 2
	}
	delay = min(delay, b.Max)
	if jitter == nil {
		jitter = randomJitter
	}
	return delay + jitter(b.Jitter)
}

type retryEntry struct {
	timer clockwork.Timer
	gen   uint64
}

// RetryQueue holds one pending retry timer per schedule. Timers run on the
// injected clock so tests can drive them.
type RetryQueue struct {
	clock clockwork.Clock

	mu      sync.Mutex
	gen     uint64
	pending map[string]retryEntry
	stopped bool
}

func NewRetryQueue(clock clockwork.Clock) *RetryQueue {
	return &RetryQueue{clock: clock, pending: make(map[string]retryEntry)}
}

// Schedule arms fn to run after delay, replacing any retry already pending for id.
// After StopAll it arms nothing until Resume and reports false.
func (q *RetryQueue) Schedule(id string, delay time.Duration, fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return false
	}
	if prev, ok := q.pending[id]; ok {
		prev.timer.Stop()
	}
	q.gen++
	gen := q.gen
	timer := q.clock.AfterFunc(delay, func() {
		// fake clocks fire inline from Advance
		go q.fire(id, gen, fn)
	})
	q.pending[id] = retryEntry{timer: timer, gen: gen}
	return true
}

func (q *RetryQueue) fire(id string, gen uint64, fn func()) {
	q.mu.Lock()
	entry, ok := q.pending[id]
	if !ok || entry.gen != gen {
		q.mu.Unlock()
		return
	}
	delete(q.pending, id)
	q.mu.Unlock()

	fn()
}

// Cancel stops the pending retry for id. It reports whether one existed.
func (q *RetryQueue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.pending[id]
	if ok {
		entry.timer.Stop()
		delete(q.pending, id)
	}
	return ok
}

func (q *RetryQueue) Pending(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[id]
	return ok
}

func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// StopAll cancels every pending retry and refuses new ones until Resume.
func (q *RetryQueue) StopAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	for id, entry := range q.pending {
		entry.timer.Stop()
		delete(q.pending, id)
	}
}

func (q *RetryQueue) Resume() {
	q.mu.Lock()
	q.stopped = false
	q.mu.Unlock()
}

package scheduler

import (
	"sync"
	"time"
)

// ErrorLimiter drops repeats of the same error kind inside a cooldown window.
// Callers pass a stable key (an error class, not the full message) so that
// paths or sequence numbers in the text do not defeat it.
type ErrorLimiter struct {
	mu         sync.Mutex
	cooldown   time.Duration
	now        func() time.Time
	last       map[string]time.Time
	suppressed map[string]int
}

// NewErrorLimiter creates a limiter. A zero cooldown lets everything through.
func NewErrorLimiter(cooldown time.Duration) *ErrorLimiter {
	return &ErrorLimiter{
		cooldown:   cooldown,
		now:        time.Now,
		last:       make(map[string]time.Time),
		suppressed: make(map[string]int),
	}
}

// Allow reports whether key should be logged now. When it returns true it
// also returns how many occurrences were dropped since key last passed.
// Other keys whose cooldown has run out are forgotten.
func (l *ErrorLimiter) Allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if t, ok := l.last[key]; ok && now.Sub(t) < l.cooldown {
		l.suppressed[key]++
		return false, 0
	}

	dropped := l.suppressed[key]
	delete(l.suppressed, key)
	l.last[key] = now

	for k, t := range l.last {
		if k != key && now.Sub(t) >= l.cooldown {
			delete(l.last, k)
			delete(l.suppressed, k)
		}
	}
	return true, dropped
}

// Log calls logf with msg when key passes the limiter, appending the dropped count.
func (l *ErrorLimiter) Log(key, msg string, logf func(format string, args ...interface{})) {
	ok, dropped := l.Allow(key)
	if !ok {
		return
	}
	if dropped > 0 {
		logf("%s (suppressed %d repeats)", msg, dropped)
		return
	}
	logf("%s", msg)
}

func (l *ErrorLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.last)
}

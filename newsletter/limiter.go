// Package newsletter provides subscriber management and the per-client
// subscription rate limiter.
//
// The limiter is advisory, in-process state: it resets on restart and is not
// shared across horizontally scaled instances. It caps abuse from a single
// origin; it is not a security control.
package newsletter

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrUnresolvedClient is returned when the client identifier could not be
// resolved to anything better than "unknown".
var ErrUnresolvedClient = errors.New("newsletter: client identifier could not be resolved")

// RateLimitError reports that a client is over its subscription quota.
// HoursRemaining is the whole number of hours until the window resets.
type RateLimitError struct {
	HoursRemaining int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("newsletter: subscription limit reached, try again in %d hour(s)", e.HoursRemaining)
}

// UnknownClient is the identifier value that the limiter rejects as unresolved.
const UnknownClient = "unknown"

// entry tracks successful subscriptions for one client identifier within a
// rolling window anchored at firstSubscription.
type entry struct {
	count             int
	firstSubscription time.Time
	lastSubscription  time.Time
}

// Limiter caps the number of successful newsletter subscriptions per client
// identifier within a rolling window. The count advances only when a
// subscription has actually been persisted.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	max     int
	window  time.Duration

	now  func() time.Time
	stop chan struct{}
}

// NewLimiter creates a Limiter allowing max successful subscriptions per
// window and starts an hourly sweep of expired entries.
func NewLimiter(max int, window time.Duration) *Limiter {
	l := &Limiter{
		entries: make(map[string]*entry),
		max:     max,
		window:  window,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.sweep(time.Hour)
	return l
}

// Stop terminates the background sweep goroutine.
func (l *Limiter) Stop() {
	close(l.stop)
}

func (l *Limiter) expired(e *entry, now time.Time) bool {
	return now.Sub(e.firstSubscription) > l.window
}

func (l *Limiter) hoursRemaining(e *entry, now time.Time) int {
	remaining := l.window - now.Sub(e.firstSubscription)
	hours := int(math.Ceil(remaining.Hours()))
	// A not-yet-expired entry always has at least one hour reported, even at
	// the exact moment the window elapses.
	if hours < 1 {
		hours = 1
	}
	return hours
}

// Check reports whether the identifier may attempt a subscription. It never
// mutates limiter state: counting happens via RecordSuccess (or Reserve).
func (l *Limiter) Check(identifier string) error {
	if identifier == "" || identifier == UnknownClient {
		return ErrUnresolvedClient
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[identifier]
	if !ok || l.expired(e, now) {
		return nil
	}
	if e.count >= l.max {
		return &RateLimitError{HoursRemaining: l.hoursRemaining(e, now)}
	}
	return nil
}

// RecordSuccess counts a persisted subscription against the identifier.
// Callers must only invoke it after the subscriber write succeeded; calling
// it speculatively corrupts the count.
func (l *Limiter) RecordSuccess(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(identifier)
}

func (l *Limiter) record(identifier string) {
	now := l.now()
	e, ok := l.entries[identifier]
	if !ok || l.expired(e, now) {
		l.entries[identifier] = &entry{count: 1, firstSubscription: now, lastSubscription: now}
		return
	}
	e.count++
	e.lastSubscription = now
}

// Reserve atomically checks the quota and claims a slot, closing the window
// between Check and RecordSuccess that separate calls leave open under
// concurrent requests. On success it returns a release func that rolls the
// slot back; call it if the subscriber write fails, so that only persisted
// subscriptions stay counted.
func (l *Limiter) Reserve(identifier string) (release func(), err error) {
	if identifier == "" || identifier == UnknownClient {
		return nil, ErrUnresolvedClient
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.entries[identifier]; ok && !l.expired(e, now) && e.count >= l.max {
		return nil, &RateLimitError{HoursRemaining: l.hoursRemaining(e, now)}
	}
	l.record(identifier)

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		e, ok := l.entries[identifier]
		if !ok {
			return
		}
		e.count--
		if e.count <= 0 {
			delete(l.entries, identifier)
		}
	}, nil
}

// sweep periodically removes entries whose window has fully expired. This is
// best-effort housekeeping to bound memory; expired entries also pass Check
// on demand.
func (l *Limiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		l.mu.Lock()
		now := l.now()
		for id, e := range l.entries {
			if l.expired(e, now) {
				delete(l.entries, id)
			}
		}
		l.mu.Unlock()
	}
}

// Package ratelimit implements fixed-size counting windows keyed by string.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultWindow = time.Minute
	DefaultLimit  = 10
)

// Policy sets the per-key message caps for one window. Keys absent from
// Limits use Default. A cap of zero or less disables limiting for that key.
type Policy struct {
	Window  time.Duration
	Default int
	Limits  map[string]int
}

func (p Policy) limitFor(key string) int {
	if n, ok := p.Limits[key]; ok {
		return n
	}
	return p.Default
}

type Limiter struct {
	mu      sync.Mutex
	policy  Policy
	now     func() time.Time
	buckets map[string]*bucket
}

type bucket struct {
	count int
	reset time.Time
}

func New(p Policy, now func() time.Time) *Limiter {
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	if p.Default == 0 {
		p.Default = DefaultLimit
	}
	limits := make(map[string]int, len(p.Limits))
	for k, v := range p.Limits {
		limits[k] = v
	}
	p.Limits = limits
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		policy:  p,
		now:     now,
		buckets: make(map[string]*bucket),
	}
}

// Allow counts one message for key. The first message after a window has
// elapsed opens a new window; once the count reaches the cap, further
// messages in that window are refused.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	limit := l.policy.limitFor(key)
	if limit <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok || now.After(b.reset) {
		l.buckets[key] = &bucket{count: 1, reset: now.Add(l.policy.Window)}
		return true
	}
	if b.count >= limit {
		return false
	}
	b.count++
	return true
}

// Remaining reports how many more messages key may send in its current window.
func (l *Limiter) Remaining(key string) int {
	limit := l.policy.limitFor(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok || l.now().After(b.reset) {
		return limit
	}
	if b.count >= limit {
		return 0
	}
	return limit - b.count
}

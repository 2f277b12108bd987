package ingest

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the number of simultaneous upstream fetches allowed
// when none is configured.
const DefaultConcurrency = 5

// Limiter bounds the number of in-flight fetches across every run sharing
// it. It knows nothing about stations.
type Limiter struct {
	sem   *semaphore.Weighted
	max   int
	usage gauge
}

// NewLimiter admits at most n holders; n <= 0 selects DefaultConcurrency.
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		n = DefaultConcurrency
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), max: n}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.usage.enter()
	return nil
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	l.usage.leave()
	l.sem.Release(1)
}

// Max is the configured bound.
func (l *Limiter) Max() int { return l.max }

// gauge counts concurrent holders and remembers the highest count seen.
type gauge struct {
	active atomic.Int64
	peak   atomic.Int64
}

func (g *gauge) enter() {
	n := g.active.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) leave() { g.active.Add(-1) }

func (g *gauge) current() int { return int(g.active.Load()) }

func (g *gauge) highest() int { return int(g.peak.Load()) }

// Package limiter bounds how many workers may be actively working at once,
// independent of how many workers were created.
//
//	l := limiter.New(4)
//	l.Acquire(worker)
//	defer l.Release(worker)
//
// Acquire blocks natively on a counting semaphore; a released slot wakes a
// waiter immediately. InUse never exceeds Max and never goes negative.
package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Observer receives slot events, typically to collect synchronisation statistics.
type Observer interface {
	// OnAcquire is called after worker obtained a slot, with the time spent waiting.
	OnAcquire(worker int, waited time.Duration)
	// OnRelease is called after worker returned its slot.
	OnRelease(worker int)
}

// Limiter is a counting semaphore with observable occupancy.
type Limiter struct {
	sem *semaphore.Weighted
	max int

	mu        sync.Mutex
	inUse     int
	highWater int
	observer  Observer
}

// New creates a limiter with max slots. Values below one are raised to one.
func New(max int) *Limiter {
	if max < 1 {
		logrus.WithFields(logrus.Fields{
			"function":  "New",
			"requested": max,
		}).Warn("Concurrency limit below 1, using 1")
		max = 1
	}
	return &Limiter{
		sem: semaphore.NewWeighted(int64(max)),
		max: max,
	}
}

// SetObserver installs an observer for slot events. Pass nil to remove it.
func (l *Limiter) SetObserver(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = o
}

// Acquire blocks until a slot is available and takes it.
func (l *Limiter) Acquire(worker int) {
	start := time.Now()
	// Background context never cancels, so Acquire cannot fail.
	_ = l.sem.Acquire(context.Background(), 1)
	l.taken(worker, time.Since(start))
}

// TryAcquire takes a slot if one is free without blocking.
func (l *Limiter) TryAcquire(worker int) bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.taken(worker, 0)
	return true
}

func (l *Limiter) taken(worker int, waited time.Duration) {
	l.mu.Lock()
	l.inUse++
	if l.inUse > l.highWater {
		l.highWater = l.inUse
	}
	observer := l.observer
	inUse := l.inUse
	l.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Acquire",
		"worker":   worker,
		"in_use":   inUse,
		"max":      l.max,
		"waited":   waited,
	}).Debug("Concurrency slot acquired")

	if observer != nil {
		observer.OnAcquire(worker, waited)
	}
}

// Release returns a slot. Releasing a slot that was never acquired panics.
func (l *Limiter) Release(worker int) {
	l.mu.Lock()
	if l.inUse == 0 {
		l.mu.Unlock()
		panic("limiter: release without matching acquire")
	}
	l.inUse--
	observer := l.observer
	l.mu.Unlock()

	l.sem.Release(1)

	if observer != nil {
		observer.OnRelease(worker)
	}
}

// Max returns the configured number of slots.
func (l *Limiter) Max() int {
	return l.max
}

// InUse returns the number of slots currently held.
func (l *Limiter) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inUse
}

// Available returns the number of free slots.
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max - l.inUse
}

// HighWater returns the largest number of slots ever held at once.
func (l *Limiter) HighWater() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.highWater
}

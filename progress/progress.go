// Package progress tracks per-worker completion fractions and the aggregate
// status of a chunked job.
//
// A Tracker is written by whichever pool runs the job and read by any number
// of observers. Progress entries only move forward: a write that would lower
// an entry is ignored, so every reader sees a non-decreasing sequence per
// worker.
//
// The status message is a single string with last-write-wins semantics.
// When several workers fail concurrently only the most recent failure is
// visible there; Failures keeps the complete list.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind classifies a worker failure.
type Kind uint8

const (
	// KindChunkRead indicates the worker could not read its chunk.
	KindChunkRead Kind = iota
	// KindChunkWrite indicates the worker could not write its chunk back.
	KindChunkWrite
	// KindTransform indicates the technique rejected the chunk.
	KindTransform
	// KindWorkerReported indicates a child process reported an error over IPC.
	KindWorkerReported
	// KindProcessAbnormalExit indicates a child exited non-zero or was signaled.
	KindProcessAbnormalExit
	// KindSpawn indicates a worker could not be started.
	KindSpawn
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindChunkRead:
		return "chunk_read"
	case KindChunkWrite:
		return "chunk_write"
	case KindTransform:
		return "transform"
	case KindWorkerReported:
		return "worker_reported"
	case KindProcessAbnormalExit:
		return "process_abnormal_exit"
	case KindSpawn:
		return "spawn"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler so kinds serialise by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	for candidate := KindChunkRead; candidate <= KindSpawn; candidate++ {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown failure kind %q", text)
}

// Failure records one worker failure.
type Failure struct {
	Worker  int       `json:"worker"`
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Tracker holds the progress table, status message and failure log of a job.
type Tracker struct {
	mu           sync.RWMutex
	progress     []float64
	status       string
	failures     []Failure
	timeProvider TimeProvider
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{timeProvider: DefaultTimeProvider{}}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (t *Tracker) SetTimeProvider(tp TimeProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeProvider = tp
}

// Reset prepares the tracker for a job with n workers. All entries start at
// zero, the status is cleared and the failure log emptied.
func (t *Tracker) Reset(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = make([]float64, n)
	t.status = ""
	t.failures = nil
}

// Len returns the number of tracked workers.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.progress)
}

// Set raises the progress of worker to fraction. Values are clamped to
// [0, 1]; lower values than the current entry and unknown workers are
// ignored. It reports whether the entry changed.
func (t *Tracker) Set(worker int, fraction float64) bool {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if worker < 0 || worker >= len(t.progress) {
		logrus.WithFields(logrus.Fields{
			"function": "Set",
			"worker":   worker,
			"workers":  len(t.progress),
		}).Warn("Progress update for unknown worker ignored")
		return false
	}
	if fraction <= t.progress[worker] {
		return false
	}
	t.progress[worker] = fraction
	return true
}

// Complete marks worker as fully done.
func (t *Tracker) Complete(worker int) bool {
	return t.Set(worker, 1)
}

// Get returns the progress of worker, or 0 for an unknown worker.
func (t *Tracker) Get(worker int) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if worker < 0 || worker >= len(t.progress) {
		return 0
	}
	return t.progress[worker]
}

// All returns a copy of the progress table.
func (t *Tracker) All() []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]float64, len(t.progress))
	copy(out, t.progress)
	return out
}

// AllComplete reports whether at least one worker is tracked and every
// entry equals 1.
func (t *Tracker) AllComplete() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.progress) == 0 {
		return false
	}
	for _, p := range t.progress {
		if p < 1 {
			return false
		}
	}
	return true
}

// Overall returns the mean progress across workers.
func (t *Tracker) Overall() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.progress) == 0 {
		return 0
	}
	var sum float64
	for _, p := range t.progress {
		sum += p
	}
	return sum / float64(len(t.progress))
}

// SetStatus overwrites the status message.
func (t *Tracker) SetStatus(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = msg
}

// Status returns the last status message.
func (t *Tracker) Status() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Fail records a worker failure and makes msg the status message.
func (t *Tracker) Fail(worker int, kind Kind, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = msg
	t.failures = append(t.failures, Failure{
		Worker:  worker,
		Kind:    kind,
		Message: msg,
		At:      t.timeProvider.Now(),
	})
}

// Failures returns a copy of every failure recorded since the last Reset,
// oldest first.
func (t *Tracker) Failures() []Failure {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Failure, len(t.failures))
	copy(out, t.failures)
	return out
}

// FailureCount returns the number of failures recorded since the last Reset.
func (t *Tracker) FailureCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.failures)
}

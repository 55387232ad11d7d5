package engine

import (
	"sort"
	"sync"
	"time"
)

// WorkerSyncStats summarises how one thread-mode worker interacted with the
// concurrency limiter and the file lock.
type WorkerSyncStats struct {
	Worker       int           `json:"worker"`
	SlotAcquires int           `json:"slot_acquires"`
	SlotReleases int           `json:"slot_releases"`
	SlotWait     time.Duration `json:"slot_wait_ns"`
	LockAcquires int           `json:"lock_acquires"`
	LockWait     time.Duration `json:"lock_wait_ns"`
	LockHeld     time.Duration `json:"lock_held_ns"`
}

// SyncStats collects per-worker synchronisation counters for a job. It
// implements limiter.Observer.
type SyncStats struct {
	mu      sync.Mutex
	workers map[int]*WorkerSyncStats
}

// NewSyncStats creates an empty collector.
func NewSyncStats() *SyncStats {
	return &SyncStats{workers: make(map[int]*WorkerSyncStats)}
}

func (s *SyncStats) entry(worker int) *WorkerSyncStats {
	e, ok := s.workers[worker]
	if !ok {
		e = &WorkerSyncStats{Worker: worker}
		s.workers[worker] = e
	}
	return e
}

// OnAcquire records a concurrency slot acquisition.
func (s *SyncStats) OnAcquire(worker int, waited time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(worker)
	e.SlotAcquires++
	e.SlotWait += waited
}

// OnRelease records a concurrency slot release.
func (s *SyncStats) OnRelease(worker int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(worker).SlotReleases++
}

// RecordLock records one acquisition of the file lock.
func (s *SyncStats) RecordLock(worker int, waited, held time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(worker)
	e.LockAcquires++
	e.LockWait += waited
	e.LockHeld += held
}

// Workers returns a copy of every worker's counters ordered by worker index.
func (s *SyncStats) Workers() []WorkerSyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerSyncStats, 0, len(s.workers))
	for _, e := range s.workers {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Worker < out[j].Worker })
	return out
}

// Totals returns the counters summed over all workers. Worker is -1.
func (s *SyncStats) Totals() WorkerSyncStats {
	total := WorkerSyncStats{Worker: -1}
	for _, e := range s.Workers() {
		total.SlotAcquires += e.SlotAcquires
		total.SlotReleases += e.SlotReleases
		total.SlotWait += e.SlotWait
		total.LockAcquires += e.LockAcquires
		total.LockWait += e.LockWait
		total.LockHeld += e.LockHeld
	}
	return total
}

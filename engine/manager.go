package engine

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/cryptcore/chunk"
	"github.com/opd-ai/cryptcore/limits"
	"github.com/opd-ai/cryptcore/progress"
	"github.com/opd-ai/cryptcore/technique"
	"github.com/sirupsen/logrus"
)

// Mode selects how a job's chunks are executed.
type Mode uint8

const (
	// ModeThreads runs chunks as goroutines sharing one file handle.
	ModeThreads Mode = iota
	// ModeProcesses runs each chunk in its own child process.
	ModeProcesses
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeThreads:
		return "threads"
	case ModeProcesses:
		return "processes"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ErrUnknownMode indicates an unrecognised execution mode name.
var ErrUnknownMode = errors.New("unknown execution mode")

// ParseMode converts "threads"/"processes" into a Mode.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "threads", "thread", "t":
		return ModeThreads, nil
	case "processes", "process", "p":
		return ModeProcesses, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}

// Option configures a TaskManager.
type Option func(*TaskManager)

// WithTechnique sets the technique used by thread-mode jobs.
func WithTechnique(t technique.Technique) Option {
	return func(m *TaskManager) { m.technique = t }
}

// WithMaxConcurrent sets how many thread-mode workers may hold a slot at once.
func WithMaxConcurrent(n int) Option {
	return func(m *TaskManager) { m.maxConcurrent = n }
}

// WithPollInterval sets how long the process-mode parent waits for IPC
// readability between liveness checks.
func WithPollInterval(d time.Duration) Option {
	return func(m *TaskManager) { m.pollInterval = d }
}

// WithExecutable sets the program started for process-mode workers.
func WithExecutable(path string, args ...string) Option {
	return func(m *TaskManager) {
		m.executable = path
		m.childArgs = args
	}
}

// WithChildEnv appends environment assignments for process-mode workers.
func WithChildEnv(env ...string) Option {
	return func(m *TaskManager) { m.childEnv = append(m.childEnv, env...) }
}

// WithOpener replaces the file accessor used by thread-mode jobs.
func WithOpener(open OpenFunc) Option {
	return func(m *TaskManager) { m.open = open }
}

// Snapshot is a point-in-time view of the current or last job.
type Snapshot struct {
	JobID      string             `json:"job_id,omitempty"`
	Mode       Mode               `json:"mode"`
	Path       string             `json:"path,omitempty"`
	Direction  string             `json:"direction,omitempty"`
	Technique  string             `json:"technique"`
	Running    bool               `json:"running"`
	Complete   bool               `json:"complete"`
	Progress   []float64          `json:"progress"`
	Overall    float64            `json:"overall"`
	Status     string             `json:"status"`
	Failures   []progress.Failure `json:"failures,omitempty"`
	Workers    []WorkerRecord     `json:"workers,omitempty"`
	SyncStats  []WorkerSyncStats  `json:"sync_stats,omitempty"`
	StartedAt  time.Time          `json:"started_at,omitempty"`
	FinishedAt time.Time          `json:"finished_at,omitempty"`
}

// TaskManager selects an execution mode, drives the matching pool and exposes
// polling accessors that are safe to call from other goroutines while a job
// runs.
type TaskManager struct {
	technique     technique.Technique
	maxConcurrent int
	pollInterval  time.Duration
	executable    string
	childArgs     []string
	childEnv      []string
	open          OpenFunc

	tracker *progress.Tracker
	running atomic.Bool

	mu        sync.RWMutex
	jobID     string
	mode      Mode
	path      string
	direction technique.Direction
	started   time.Time
	finished  time.Time
	threads   *ThreadPool
	processes *ProcessPool
	stats     *SyncStats
	hierarchy []int
}

// NewTaskManager creates a manager with the XOR technique, four concurrency
// slots and a 100 ms process-mode poll interval unless overridden.
func NewTaskManager(opts ...Option) *TaskManager {
	m := &TaskManager{
		technique:     technique.NewXOR(),
		maxConcurrent: limits.DefaultMaxConcurrent,
		pollInterval:  limits.DefaultPollInterval,
		open:          OpenChunkFile,
		tracker:       progress.NewTracker(),
		stats:         NewSyncStats(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.technique == nil {
		m.technique = technique.NewXOR()
	}
	if m.pollInterval <= 0 {
		m.pollInterval = limits.DefaultPollInterval
	}
	if m.open == nil {
		m.open = OpenChunkFile
	}

	logrus.WithFields(logrus.Fields{
		"function":       "NewTaskManager",
		"technique":      m.technique.Type(),
		"max_concurrent": m.maxConcurrent,
		"poll_interval":  m.pollInterval,
	}).Debug("Task manager created")
	return m
}

// SetTechnique replaces the technique used by subsequent thread-mode jobs.
// Process-mode children always use the default XOR technique.
func (m *TaskManager) SetTechnique(t technique.Technique) {
	if t == nil {
		t = technique.NewXOR()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.technique = t
}

// CurrentTechniqueType returns the type of the configured technique.
func (m *TaskManager) CurrentTechniqueType() technique.Type {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.technique.Type()
}

// Run starts a job in the given mode. See RunWithThreads and RunWithProcesses.
func (m *TaskManager) Run(path string, dir technique.Direction, mode Mode, workers int) error {
	if mode == ModeProcesses {
		return m.RunWithProcesses(path, dir, workers)
	}
	return m.RunWithThreads(path, dir, workers)
}

// RunWithThreads transforms path with workers goroutines and blocks until all
// of them finish. It returns a pre-flight error, or ErrJobFailed when at
// least one worker failed; GetStatusMessage describes the latest failure.
func (m *TaskManager) RunWithThreads(path string, dir technique.Direction, workers int) error {
	size, err := m.begin(path, dir, ModeThreads, workers)
	if err != nil {
		return err
	}
	defer m.end()

	specs, err := chunk.Plan(size, workers)
	if err != nil {
		return m.abort(err)
	}

	m.mu.Lock()
	pool := NewThreadPool(ThreadPoolConfig{
		JobID:         m.jobID,
		Technique:     m.technique,
		MaxConcurrent: m.maxConcurrent,
		Tracker:       m.tracker,
		Stats:         m.stats,
		Open:          m.open,
	})
	m.threads = pool
	m.mu.Unlock()

	failed, err := pool.Run(path, specs, dir)
	if errors.Is(err, ErrFileOpen) {
		m.tracker.SetStatus(fmt.Sprintf("Could not open file: %s", path))
		return err
	}
	if err != nil {
		return err
	}
	return m.result(failed, len(specs))
}

// RunWithProcesses transforms path with one child process per chunk. Files
// above limits.LargeFileThreshold get a size-scaled process count instead of
// workers. Children always apply the default XOR technique.
func (m *TaskManager) RunWithProcesses(path string, dir technique.Direction, workers int) error {
	size, err := m.begin(path, dir, ModeProcesses, workers)
	if err != nil {
		return err
	}
	defer m.end()

	n := chunk.ProcessCount(size, workers)
	specs, err := chunk.Plan(size, n)
	if err != nil {
		return m.abort(err)
	}
	m.tracker.Reset(len(specs))

	if m.CurrentTechniqueType() != technique.DefaultType {
		logrus.WithFields(logrus.Fields{
			"function":  "RunWithProcesses",
			"job_id":    m.JobID(),
			"technique": m.CurrentTechniqueType(),
		}).Warn("Worker processes ignore the configured technique and use XOR")
	}

	m.mu.Lock()
	pool := NewProcessPool(ProcessPoolConfig{
		JobID:        m.jobID,
		Executable:   m.executable,
		Args:         m.childArgs,
		Env:          m.childEnv,
		PollInterval: m.pollInterval,
		Tracker:      m.tracker,
	})
	m.processes = pool
	m.mu.Unlock()

	failed, runErr := m.runProcesses(pool, path, specs, dir)
	if runErr != nil {
		return runErr
	}
	return m.result(failed, len(specs))
}

func (m *TaskManager) runProcesses(pool *ProcessPool, path string, specs []chunk.Spec, dir technique.Direction) (int, error) {
	done := make(chan struct{})
	go func() {
		// Children are spawned from inside Run; refresh the hierarchy while
		// it starts them so observers see the pids early.
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			m.UpdateProcessHierarchy()
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()
	failed, err := pool.Run(path, specs, dir)
	close(done)
	m.UpdateProcessHierarchy()
	return failed, err
}

// begin validates the request, runs the pre-flight checks and resets the
// job state. It returns the file size.
func (m *TaskManager) begin(path string, dir technique.Direction, mode Mode, workers int) (uint64, error) {
	if !m.running.CompareAndSwap(false, true) {
		return 0, ErrJobRunning
	}

	m.mu.Lock()
	m.jobID = uuid.NewString()
	m.mode = mode
	m.path = path
	m.direction = dir
	m.started = time.Now()
	m.finished = time.Time{}
	m.threads = nil
	m.processes = nil
	m.hierarchy = nil
	m.stats = NewSyncStats()
	jobID := m.jobID
	m.mu.Unlock()
	m.tracker.Reset(0)

	logrus.WithFields(logrus.Fields{
		"function":  "begin",
		"job_id":    jobID,
		"path":      path,
		"mode":      mode,
		"direction": dir,
		"workers":   workers,
	}).Info("Starting job")

	if err := limits.ValidateWorkerCount(workers); err != nil {
		m.tracker.SetStatus(fmt.Sprintf("Invalid worker count: %d", workers))
		m.end()
		return 0, fmt.Errorf("%w: %v", ErrInvalidWorkers, err)
	}

	size, err := statTarget(path)
	if err != nil {
		m.tracker.SetStatus(preflightStatus(path, err))
		logrus.WithFields(logrus.Fields{
			"function": "begin",
			"job_id":   jobID,
			"path":     path,
			"error":    err.Error(),
		}).Error("Pre-flight check failed")
		m.end()
		return 0, err
	}

	m.tracker.Reset(workers)
	return size, nil
}

func (m *TaskManager) abort(err error) error {
	m.tracker.SetStatus(err.Error())
	return err
}

func (m *TaskManager) end() {
	m.mu.Lock()
	m.finished = time.Now()
	m.mu.Unlock()
	m.running.Store(false)
}

func (m *TaskManager) result(failed, total int) error {
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d workers failed: %s", ErrJobFailed, failed, total, m.tracker.Status())
}

// JobID returns the identifier of the current or last job.
func (m *TaskManager) JobID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobID
}

// Mode returns the execution mode of the current or last job.
func (m *TaskManager) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Running reports whether a job is in progress.
func (m *TaskManager) Running() bool {
	return m.running.Load()
}

// GetProgress returns the progress fraction of worker, or 0 when the index
// is out of range.
func (m *TaskManager) GetProgress(worker int) float64 {
	return m.tracker.Get(worker)
}

// GetAllProgress returns a copy of the progress table.
func (m *TaskManager) GetAllProgress() []float64 {
	return m.tracker.All()
}

// GetStatusMessage returns the latest status or failure message.
func (m *TaskManager) GetStatusMessage() string {
	return m.tracker.Status()
}

// Failures returns every worker failure of the current or last job.
func (m *TaskManager) Failures() []progress.Failure {
	return m.tracker.Failures()
}

// IsComplete reports whether every progress entry equals 1 and, for a
// process-mode job, every tracked child has exited. It is false before the
// first job.
func (m *TaskManager) IsComplete() bool {
	if !m.tracker.AllComplete() {
		return false
	}
	m.mu.RLock()
	pool := m.processes
	mode := m.mode
	m.mu.RUnlock()
	if mode == ModeProcesses && pool != nil {
		return pool.AllExited()
	}
	return true
}

// ListActiveWorkers returns the records of the current or last job's workers.
// In process mode pruned children are omitted.
func (m *TaskManager) ListActiveWorkers() []WorkerRecord {
	m.mu.RLock()
	threads, processes := m.threads, m.processes
	m.mu.RUnlock()
	switch {
	case processes != nil:
		return processes.Workers()
	case threads != nil:
		return threads.Workers()
	default:
		return nil
	}
}

// ActiveProcessIDs returns the child pids still tracked for the current or
// last process-mode job.
func (m *TaskManager) ActiveProcessIDs() []int {
	m.mu.RLock()
	pool := m.processes
	m.mu.RUnlock()
	if pool == nil {
		return nil
	}
	return pool.PIDs()
}

// PruneFinishedProcesses removes exited children from the tracked pid set
// and returns how many were removed.
func (m *TaskManager) PruneFinishedProcesses() int {
	m.mu.RLock()
	pool := m.processes
	m.mu.RUnlock()
	if pool == nil {
		return 0
	}
	n := pool.Prune()
	if n > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "PruneFinishedProcesses",
			"job_id":   m.JobID(),
			"removed":  n,
		}).Debug("Pruned finished worker processes")
	}
	return n
}

// UpdateProcessHierarchy rebuilds the observability-only set of related
// process ids: the tracked children, this process and its parent. It is not
// a process-tree walk.
func (m *TaskManager) UpdateProcessHierarchy() {
	pids := m.ActiveProcessIDs()
	if len(pids) > 0 {
		seen := make(map[int]bool, len(pids)+2)
		for _, pid := range pids {
			seen[pid] = true
		}
		for _, pid := range []int{os.Getpid(), os.Getppid()} {
			if !seen[pid] {
				pids = append(pids, pid)
				seen[pid] = true
			}
		}
	}
	m.mu.Lock()
	m.hierarchy = pids
	m.mu.Unlock()
}

// ProcessHierarchy returns the set built by the last UpdateProcessHierarchy.
func (m *TaskManager) ProcessHierarchy() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.hierarchy...)
}

// ProcessInfo returns a short description of pid.
func (m *TaskManager) ProcessInfo(pid int) string {
	return fmt.Sprintf("PID: %d", pid)
}

// SyncStats returns the per-worker synchronisation counters of the current
// or last thread-mode job.
func (m *TaskManager) SyncStats() []WorkerSyncStats {
	m.mu.RLock()
	stats := m.stats
	m.mu.RUnlock()
	return stats.Workers()
}

// SyncTotals returns the synchronisation counters summed over all workers.
func (m *TaskManager) SyncTotals() WorkerSyncStats {
	m.mu.RLock()
	stats := m.stats
	m.mu.RUnlock()
	return stats.Totals()
}

// Snapshot returns a consistent-enough view of the current or last job for
// presentation layers.
func (m *TaskManager) Snapshot() Snapshot {
	m.mu.RLock()
	s := Snapshot{
		JobID:      m.jobID,
		Mode:       m.mode,
		Path:       m.path,
		Technique:  m.technique.Type().String(),
		StartedAt:  m.started,
		FinishedAt: m.finished,
	}
	if m.jobID != "" {
		s.Direction = m.direction.String()
	}
	m.mu.RUnlock()

	s.Running = m.Running()
	s.Complete = m.IsComplete()
	s.Progress = m.tracker.All()
	s.Overall = m.tracker.Overall()
	s.Status = m.tracker.Status()
	s.Failures = m.tracker.Failures()
	s.Workers = m.ListActiveWorkers()
	s.SyncStats = m.SyncStats()
	return s
}

package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/opd-ai/cryptcore/chunk"
	"github.com/opd-ai/cryptcore/limits"
	"github.com/opd-ai/cryptcore/progress"
	"github.com/opd-ai/cryptcore/technique"
	"github.com/sirupsen/logrus"
)

// child tracks one spawned worker process from the parent's side.
type child struct {
	index int
	pid   int
	cmd   *exec.Cmd
	done  chan struct{}

	// Valid once done is closed.
	waitErr  error
	exitCode int
}

func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ProcessPool runs every chunk of a job in its own child process. Children
// share nothing with the parent but a one-directional pipe on which each
// reports exactly one terminal message.
type ProcessPool struct {
	jobID        string
	executable   string
	args         []string
	env          []string
	pollInterval time.Duration
	tracker      *progress.Tracker

	mu       sync.RWMutex
	children []*child
	records  []WorkerRecord
	tracked  []int
}

// ProcessPoolConfig configures a ProcessPool.
type ProcessPoolConfig struct {
	JobID string
	// Executable is the program started for each chunk. It must call
	// RunChild when IsChild reports true. Empty means os.Executable().
	Executable string
	// Args are passed to Executable.
	Args []string
	// Env is appended to the parent's environment for every child.
	Env          []string
	PollInterval time.Duration
	Tracker      *progress.Tracker
}

// NewProcessPool creates a pool.
func NewProcessPool(cfg ProcessPoolConfig) *ProcessPool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = limits.DefaultPollInterval
	}
	if cfg.Tracker == nil {
		cfg.Tracker = progress.NewTracker()
	}
	return &ProcessPool{
		jobID:        cfg.JobID,
		executable:   cfg.Executable,
		args:         cfg.Args,
		env:          cfg.Env,
		pollInterval: cfg.PollInterval,
		tracker:      cfg.Tracker,
	}
}

// Run spawns one child per chunk and consumes their reports until every
// child has finished. It returns the number of failed workers. A non-nil
// error means no child was started.
func (p *ProcessPool) Run(path string, specs []chunk.Spec, dir technique.Direction) (int, error) {
	exe := p.executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			p.tracker.Fail(-1, progress.KindSpawn, "Failed to locate executable for worker processes")
			return 0, fmt.Errorf("%w: locate executable: %v", ErrWorkerSpawn, err)
		}
	}

	r, w, err := os.Pipe()
	if err != nil {
		p.tracker.SetStatus("Failed to create pipe")
		return 0, fmt.Errorf("%w: %v", ErrChannelCreation, err)
	}
	defer r.Close()

	logrus.WithFields(logrus.Fields{
		"function":   "ProcessPool.Run",
		"job_id":     p.jobID,
		"path":       path,
		"processes":  len(specs),
		"direction":  dir,
		"executable": exe,
	}).Info("Starting process-mode job")

	p.mu.Lock()
	p.children = nil
	p.tracked = nil
	p.records = make([]WorkerRecord, len(specs))
	for i, s := range specs {
		p.records[i] = WorkerRecord{Index: i, Chunk: s, State: StateCreated}
	}
	p.mu.Unlock()

	for _, s := range specs {
		if err := p.spawn(exe, w, childTask{JobID: p.jobID, Path: path, Spec: s, Direction: dir}); err != nil {
			msg := fmt.Sprintf("Failed to create process %d", s.Index)
			logrus.WithFields(logrus.Fields{
				"function": "ProcessPool.Run",
				"job_id":   p.jobID,
				"worker":   s.Index,
				"error":    err.Error(),
			}).Error("Failed to spawn worker process")
			p.tracker.Fail(s.Index, progress.KindSpawn, msg)
			p.setState(s.Index, 0, StateFailed)
			break
		}
	}

	// Only children hold the write end now; EOF means they are all gone.
	w.Close()

	p.mu.RLock()
	started := len(p.children)
	p.mu.RUnlock()
	if started == 0 {
		return p.tracker.FailureCount(), nil
	}

	p.consume(r)
	p.reap()

	failed := p.tracker.FailureCount()
	if failed == 0 {
		p.tracker.SetStatus("All processes completed successfully!")
	}

	logrus.WithFields(logrus.Fields{
		"function": "ProcessPool.Run",
		"job_id":   p.jobID,
		"started":  started,
		"failed":   failed,
	}).Info("Process-mode job finished")

	return failed, nil
}

// spawn starts the child for task with w as its IPC channel.
func (p *ProcessPool) spawn(exe string, w *os.File, task childTask) error {
	cmd := exec.Command(exe, p.args...)
	cmd.Env = append(append(os.Environ(), p.env...), task.environ()...)
	cmd.ExtraFiles = []*os.File{w}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrWorkerSpawn, err)
	}

	c := &child{index: task.Spec.Index, pid: cmd.Process.Pid, cmd: cmd, done: make(chan struct{})}
	go func() {
		c.waitErr = cmd.Wait()
		c.exitCode = cmd.ProcessState.ExitCode()
		close(c.done)
	}()

	p.mu.Lock()
	p.children = append(p.children, c)
	p.tracked = append(p.tracked, c.pid)
	p.mu.Unlock()
	p.setState(task.Spec.Index, c.pid, StateRunning)

	logrus.WithFields(logrus.Fields{
		"function": "ProcessPool.spawn",
		"job_id":   p.jobID,
		"worker":   task.Spec.Index,
		"pid":      c.pid,
	}).Debug("Worker process started")
	return nil
}

// consume reads reports until completion is detected or the channel closes.
func (p *ProcessPool) consume(r *os.File) {
	var lines lineBuffer
	buf := make([]byte, 256)
	pollable := true

	for {
		if pollable {
			if err := r.SetReadDeadline(time.Now().Add(p.pollInterval)); err != nil {
				// Not pollable on this platform: fall back to blocking reads
				// that end with EOF once every child has exited.
				pollable = false
			}
		}

		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range lines.Feed(buf[:n]) {
				p.handleLine(line)
			}
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, os.ErrDeadlineExceeded):
			if p.finished() {
				return
			}
		case errors.Is(err, io.EOF):
			if rest := lines.Remainder(); rest != "" {
				p.handleLine(rest)
			}
			return
		default:
			logrus.WithFields(logrus.Fields{
				"function": "ProcessPool.consume",
				"job_id":   p.jobID,
				"error":    err.Error(),
			}).Error("IPC channel read failed")
			return
		}
	}
}

// handleLine applies one IPC report to the tracker.
func (p *ProcessPool) handleLine(line string) {
	msg, err := ParseMessage(line)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ProcessPool.handleLine",
			"job_id":   p.jobID,
			"line":     line,
			"error":    err.Error(),
		}).Warn("Ignoring malformed IPC message")
		return
	}

	if msg.IsError() {
		logrus.WithFields(logrus.Fields{
			"function": "ProcessPool.handleLine",
			"job_id":   p.jobID,
			"worker":   msg.Worker,
			"error":    msg.Err,
		}).Error("Worker process reported failure")
		p.setState(msg.Worker, 0, StateFailed)
		p.tracker.Fail(msg.Worker, progress.KindWorkerReported,
			fmt.Sprintf("Process %d error: %s", msg.Worker, msg.Err))
		return
	}

	p.tracker.Set(msg.Worker, msg.Fraction())
	if msg.Percent == 100 {
		p.setState(msg.Worker, 0, StateDone)
	}
}

// finished reports whether every progress entry reads 1 and every child has exited.
func (p *ProcessPool) finished() bool {
	return p.tracker.AllComplete() && p.AllExited()
}

// reap waits for every child and records abnormal exits and children that
// exited without reporting.
func (p *ProcessPool) reap() {
	p.mu.RLock()
	children := append([]*child(nil), p.children...)
	p.mu.RUnlock()

	for _, c := range children {
		<-c.done

		if c.waitErr != nil {
			msg := fmt.Sprintf("Process %d failed with status %d", c.pid, c.exitCode)
			logrus.WithFields(logrus.Fields{
				"function":  "ProcessPool.reap",
				"job_id":    p.jobID,
				"worker":    c.index,
				"pid":       c.pid,
				"exit_code": c.exitCode,
				"error":     c.waitErr.Error(),
			}).Error("Worker process exited abnormally")
			p.setState(c.index, 0, StateFailed)
			p.tracker.Fail(c.index, progress.KindProcessAbnormalExit, msg)
			continue
		}

		if p.tracker.Get(c.index) < 1 && p.state(c.index) != StateFailed {
			p.setState(c.index, 0, StateFailed)
			p.tracker.Fail(c.index, progress.KindProcessAbnormalExit,
				fmt.Sprintf("Process %d exited without reporting a result", c.index))
		}
	}
}

func (p *ProcessPool) setState(worker, pid int, s WorkerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if worker < 0 || worker >= len(p.records) {
		return
	}
	if pid != 0 {
		p.records[worker].PID = pid
	}
	// A failure is final even if a late success report arrives.
	if p.records[worker].State == StateFailed {
		return
	}
	p.records[worker].State = s
}

func (p *ProcessPool) state(worker int) WorkerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if worker < 0 || worker >= len(p.records) {
		return StateCreated
	}
	return p.records[worker].State
}

// Workers returns a snapshot of the records of every tracked child.
func (p *ProcessPool) Workers() []WorkerRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tracked := make(map[int]bool, len(p.tracked))
	for _, pid := range p.tracked {
		tracked[pid] = true
	}
	out := make([]WorkerRecord, 0, len(p.records))
	for _, rec := range p.records {
		if rec.PID == 0 || tracked[rec.PID] {
			out = append(out, rec)
		}
	}
	return out
}

// PIDs returns the process ids still tracked by the pool.
func (p *ProcessPool) PIDs() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]int(nil), p.tracked...)
}

// Alive reports, without blocking, whether the child with pid is still running.
func (p *ProcessPool) Alive(pid int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.children {
		if c.pid == pid {
			return !c.exited()
		}
	}
	return false
}

// AllExited reports, without blocking, whether every tracked child has exited.
func (p *ProcessPool) AllExited() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tracked := make(map[int]bool, len(p.tracked))
	for _, pid := range p.tracked {
		tracked[pid] = true
	}
	for _, c := range p.children {
		if tracked[c.pid] && !c.exited() {
			return false
		}
	}
	return true
}

// Prune drops exited children from the tracked pid set and returns how many
// were removed.
func (p *ProcessPool) Prune() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	exited := make(map[int]bool, len(p.children))
	for _, c := range p.children {
		if c.exited() {
			exited[c.pid] = true
		}
	}
	kept := p.tracked[:0]
	for _, pid := range p.tracked {
		if !exited[pid] {
			kept = append(kept, pid)
		}
	}
	removed := len(p.tracked) - len(kept)
	p.tracked = kept
	return removed
}

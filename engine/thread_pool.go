package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/cryptcore/chunk"
	"github.com/opd-ai/cryptcore/limiter"
	"github.com/opd-ai/cryptcore/progress"
	"github.com/opd-ai/cryptcore/technique"
	"github.com/sirupsen/logrus"
)

// ThreadPool runs every chunk of a job as a goroutine inside this process.
// All workers share one open file handle; seek+read and seek+write happen
// under a single pool-wide lock while the transform runs outside it.
type ThreadPool struct {
	jobID     string
	technique technique.Technique
	limiter   *limiter.Limiter
	tracker   *progress.Tracker
	stats     *SyncStats
	open      OpenFunc

	// fileMu guards the shared file handle and failure status writes.
	fileMu sync.Mutex

	stateMu sync.RWMutex
	records []WorkerRecord
}

// ThreadPoolConfig configures a ThreadPool.
type ThreadPoolConfig struct {
	JobID         string
	Technique     technique.Technique
	MaxConcurrent int
	Tracker       *progress.Tracker
	Stats         *SyncStats
	Open          OpenFunc
}

// NewThreadPool creates a pool. A nil technique selects XOR, a nil opener
// selects OpenChunkFile.
func NewThreadPool(cfg ThreadPoolConfig) *ThreadPool {
	if cfg.Technique == nil {
		cfg.Technique = technique.NewXOR()
	}
	if cfg.Open == nil {
		cfg.Open = OpenChunkFile
	}
	if cfg.Tracker == nil {
		cfg.Tracker = progress.NewTracker()
	}
	if cfg.Stats == nil {
		cfg.Stats = NewSyncStats()
	}

	l := limiter.New(cfg.MaxConcurrent)
	l.SetObserver(cfg.Stats)

	return &ThreadPool{
		jobID:     cfg.JobID,
		technique: cfg.Technique,
		limiter:   l,
		tracker:   cfg.Tracker,
		stats:     cfg.Stats,
		open:      cfg.Open,
	}
}

// Limiter exposes the pool's concurrency limiter.
func (p *ThreadPool) Limiter() *limiter.Limiter {
	return p.limiter
}

// Workers returns a snapshot of every worker record.
func (p *ThreadPool) Workers() []WorkerRecord {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	out := make([]WorkerRecord, len(p.records))
	copy(out, p.records)
	return out
}

func (p *ThreadPool) setState(worker int, s WorkerState) {
	p.stateMu.Lock()
	p.records[worker].State = s
	p.stateMu.Unlock()
}

// Run transforms every chunk of path and blocks until all workers have
// terminated. It returns the number of workers that failed. ErrFileOpen means
// no worker was started; ErrFileFlush means every worker ran but the final
// sync failed.
func (p *ThreadPool) Run(path string, specs []chunk.Spec, dir technique.Direction) (int, error) {
	logrus.WithFields(logrus.Fields{
		"function":  "ThreadPool.Run",
		"job_id":    p.jobID,
		"path":      path,
		"workers":   len(specs),
		"direction": dir,
		"technique": p.technique.Type(),
		"max_slots": p.limiter.Max(),
	}).Info("Starting thread-mode job")

	f, err := p.open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrFileOpen, path, err)
	}

	p.stateMu.Lock()
	p.records = make([]WorkerRecord, len(specs))
	for i, s := range specs {
		p.records[i] = WorkerRecord{Index: i, Chunk: s, State: StateCreated}
	}
	p.stateMu.Unlock()

	var wg sync.WaitGroup
	for _, s := range specs {
		wg.Add(1)
		go func(s chunk.Spec) {
			defer wg.Done()
			p.work(f, s, dir)
		}(s)
	}
	wg.Wait()

	var flushErr error
	if err := f.Sync(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ThreadPool.Run",
			"job_id":   p.jobID,
			"path":     path,
			"error":    err.Error(),
		}).Error("Failed to flush file")
		flushErr = fmt.Errorf("%w: %s: %v", ErrFileFlush, path, err)
	}
	if err := f.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ThreadPool.Run",
			"job_id":   p.jobID,
			"path":     path,
			"error":    err.Error(),
		}).Warn("Failed to close file handle")
	}

	failed := p.tracker.FailureCount()
	switch {
	case flushErr != nil:
		p.tracker.SetStatus(fmt.Sprintf("Error flushing file: %s", path))
	case failed == 0:
		p.tracker.SetStatus("All threads completed successfully!")
	}

	logrus.WithFields(logrus.Fields{
		"function":   "ThreadPool.Run",
		"job_id":     p.jobID,
		"failed":     failed,
		"high_water": p.limiter.HighWater(),
	}).Info("Thread-mode job finished")

	return failed, flushErr
}

// work runs one chunk through acquire → read → transform → write.
func (p *ThreadPool) work(f ChunkFile, spec chunk.Spec, dir technique.Direction) {
	i := spec.Index

	p.setState(i, StateAcquiringSlot)
	p.limiter.Acquire(i)
	defer p.limiter.Release(i)

	if spec.Empty() {
		p.setState(i, StateDone)
		p.tracker.Complete(i)
		return
	}

	buf := make([]byte, spec.Length)

	p.setState(i, StateReading)
	if err := p.locked(i, func() error { return readChunk(f, spec, buf) }); err != nil {
		p.fail(i, progress.KindChunkRead, err)
		return
	}
	p.tracker.Set(i, 1.0/3)

	p.setState(i, StateTransforming)
	if err := technique.Apply(p.technique, buf, spec.Offset, dir); err != nil {
		p.fail(i, progress.KindTransform, err)
		return
	}
	p.tracker.Set(i, 2.0/3)

	p.setState(i, StateWriting)
	if err := p.locked(i, func() error { return writeChunk(f, spec, buf) }); err != nil {
		p.fail(i, progress.KindChunkWrite, err)
		return
	}

	p.setState(i, StateDone)
	p.tracker.Complete(i)

	logrus.WithFields(logrus.Fields{
		"function": "ThreadPool.work",
		"job_id":   p.jobID,
		"worker":   i,
		"offset":   spec.Offset,
		"length":   spec.Length,
	}).Debug("Chunk processed")
}

// locked runs fn while holding the file lock and records lock statistics.
func (p *ThreadPool) locked(worker int, fn func() error) error {
	start := time.Now()
	p.fileMu.Lock()
	acquired := time.Now()
	err := fn()
	p.fileMu.Unlock()
	p.stats.RecordLock(worker, acquired.Sub(start), time.Since(acquired))
	return err
}

// fail records a worker failure under the file lock.
func (p *ThreadPool) fail(worker int, kind progress.Kind, err error) {
	msg := fmt.Sprintf("Error in thread %d: %v", worker, err)

	logrus.WithFields(logrus.Fields{
		"function": "ThreadPool.work",
		"job_id":   p.jobID,
		"worker":   worker,
		"kind":     kind,
		"error":    err.Error(),
	}).Error("Worker failed")

	p.setState(worker, StateFailed)
	p.fileMu.Lock()
	p.tracker.Fail(worker, kind, msg)
	p.fileMu.Unlock()
}

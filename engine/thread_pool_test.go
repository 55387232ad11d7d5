package engine

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/opd-ai/cryptcore/chunk"
	"github.com/opd-ai/cryptcore/progress"
	"github.com/opd-ai/cryptcore/technique"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faultyFile fails reads or writes that start at a chosen offset.
type faultyFile struct {
	ChunkFile

	mu          sync.Mutex
	pos         int64
	failReadAt  int64
	failWriteAt int64
	failSync    bool
}

func (f *faultyFile) Seek(offset int64, whence int) (int64, error) {
	n, err := f.ChunkFile.Seek(offset, whence)
	f.mu.Lock()
	f.pos = n
	f.mu.Unlock()
	return n, err
}

func (f *faultyFile) Read(p []byte) (int, error) {
	f.mu.Lock()
	fail := f.pos == f.failReadAt
	f.mu.Unlock()
	if fail {
		return 0, errors.New("injected read fault")
	}
	return f.ChunkFile.Read(p)
}

func (f *faultyFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	fail := f.pos == f.failWriteAt
	f.mu.Unlock()
	if fail {
		return 0, errors.New("injected write fault")
	}
	return f.ChunkFile.Write(p)
}

func (f *faultyFile) Sync() error {
	if f.failSync {
		return errors.New("injected sync fault")
	}
	return f.ChunkFile.Sync()
}

func faultyOpener(readAt, writeAt int64) OpenFunc {
	return func(path string) (ChunkFile, error) {
		f, err := OpenChunkFile(path)
		if err != nil {
			return nil, err
		}
		return &faultyFile{ChunkFile: f, failReadAt: readAt, failWriteAt: writeAt}, nil
	}
}

func runThreadPool(t *testing.T, cfg ThreadPoolConfig, path string, size uint64, workers int, dir technique.Direction) (*ThreadPool, int) {
	t.Helper()
	if cfg.Tracker == nil {
		cfg.Tracker = progress.NewTracker()
	}
	cfg.Tracker.Reset(workers)

	specs, err := chunk.Plan(size, workers)
	require.NoError(t, err)

	pool := NewThreadPool(cfg)
	failed, err := pool.Run(path, specs, dir)
	require.NoError(t, err)
	return pool, failed
}

func TestThreadPoolRoundTrip(t *testing.T) {
	sizes := []int{1, 7, 1023, 4096, 64*1024 + 7}
	workers := []int{1, 2, 3, 4, 8, 16}

	for _, size := range sizes {
		for _, n := range workers {
			t.Run(fmt.Sprintf("size=%d/workers=%d", size, n), func(t *testing.T) {
				original := patternData(size)
				path := writeTempFile(t, original)
				tracker := progress.NewTracker()

				_, failed := runThreadPool(t, ThreadPoolConfig{Tracker: tracker}, path, uint64(size), n, technique.Encrypt)
				require.Zero(t, failed)
				assert.Equal(t, xorBytes(original, technique.DefaultXORKey), readFile(t, path))
				assert.True(t, tracker.AllComplete())
				assert.Equal(t, "All threads completed successfully!", tracker.Status())

				_, failed = runThreadPool(t, ThreadPoolConfig{Tracker: tracker}, path, uint64(size), n, technique.Decrypt)
				require.Zero(t, failed)
				assert.Equal(t, original, readFile(t, path))
			})
		}
	}
}

func TestThreadPoolRespectsConcurrencyBound(t *testing.T) {
	const size = 256 * 1024
	path := writeTempFile(t, patternData(size))
	stats := NewSyncStats()

	pool, failed := runThreadPool(t, ThreadPoolConfig{MaxConcurrent: 2, Stats: stats}, path, size, 16, technique.Encrypt)
	require.Zero(t, failed)

	assert.LessOrEqual(t, pool.Limiter().HighWater(), 2)
	assert.Zero(t, pool.Limiter().InUse())

	workers := stats.Workers()
	require.Len(t, workers, 16)
	for _, w := range workers {
		assert.Equal(t, 1, w.SlotAcquires, "worker %d", w.Worker)
		assert.Equal(t, 1, w.SlotReleases, "worker %d", w.Worker)
		assert.Equal(t, 2, w.LockAcquires, "worker %d reads and writes once", w.Worker)
	}
}

func TestThreadPoolWorkerStates(t *testing.T) {
	path := writeTempFile(t, patternData(3))

	// Eight workers on three bytes leaves five empty chunks.
	pool, failed := runThreadPool(t, ThreadPoolConfig{}, path, 3, 8, technique.Encrypt)
	require.Zero(t, failed)

	records := pool.Workers()
	require.Len(t, records, 8)
	for i, rec := range records {
		assert.Equal(t, i, rec.Index)
		assert.Zero(t, rec.PID)
		assert.Equal(t, StateDone, rec.State)
	}
}

func TestThreadPoolWriteFailureIsolated(t *testing.T) {
	original := patternData(40)
	path := writeTempFile(t, original)
	tracker := progress.NewTracker()

	// Worker 1 owns [10, 20).
	pool, failed := runThreadPool(t, ThreadPoolConfig{Tracker: tracker, Open: faultyOpener(-1, 10)}, path, 40, 4, technique.Encrypt)
	assert.Equal(t, 1, failed)

	got := readFile(t, path)
	want := xorBytes(original, technique.DefaultXORKey)
	copy(want[10:20], original[10:20])
	assert.Equal(t, want, got)

	assert.InDelta(t, 2.0/3, tracker.Get(1), 1e-9)
	for _, i := range []int{0, 2, 3} {
		assert.Equal(t, 1.0, tracker.Get(i))
	}
	assert.False(t, tracker.AllComplete())
	assert.Contains(t, tracker.Status(), "Error in thread 1:")

	failures := tracker.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, progress.KindChunkWrite, failures[0].Kind)
	assert.Equal(t, StateFailed, pool.Workers()[1].State)
}

func TestThreadPoolReadFailure(t *testing.T) {
	original := patternData(40)
	path := writeTempFile(t, original)
	tracker := progress.NewTracker()

	_, failed := runThreadPool(t, ThreadPoolConfig{Tracker: tracker, Open: faultyOpener(30, -1)}, path, 40, 4, technique.Encrypt)
	assert.Equal(t, 1, failed)
	assert.Zero(t, tracker.Get(3))
	assert.Equal(t, original[30:], readFile(t, path)[30:])

	failures := tracker.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, 3, failures[0].Worker)
	assert.Equal(t, progress.KindChunkRead, failures[0].Kind)
}

func TestThreadPoolOpenFailure(t *testing.T) {
	open := func(string) (ChunkFile, error) { return nil, io.ErrClosedPipe }
	pool := NewThreadPool(ThreadPoolConfig{Open: open})

	failed, err := pool.Run("whatever", []chunk.Spec{{Index: 0, Length: 1}}, technique.Encrypt)
	assert.ErrorIs(t, err, ErrFileOpen)
	assert.Zero(t, failed)
	assert.Empty(t, pool.Workers())
}

func TestThreadPoolChaCha20RoundTripAcrossPlans(t *testing.T) {
	const size = 10_000
	original := patternData(size)
	path := writeTempFile(t, original)

	tech, err := technique.New(technique.TypeChaCha20, "correct horse")
	require.NoError(t, err)

	_, failed := runThreadPool(t, ThreadPoolConfig{Technique: tech}, path, size, 5, technique.Encrypt)
	require.Zero(t, failed)
	encrypted := readFile(t, path)
	assert.NotEqual(t, original, encrypted)

	// The keystream depends on file position only, so a different chunking
	// still decrypts.
	_, failed = runThreadPool(t, ThreadPoolConfig{Technique: tech}, path, size, 3, technique.Decrypt)
	require.Zero(t, failed)
	assert.Equal(t, original, readFile(t, path))
}

func TestThreadPoolFlushFailureIsNotAWorkerFailure(t *testing.T) {
	original := patternData(300)
	path := writeTempFile(t, original)

	tracker := progress.NewTracker()
	tracker.Reset(3)
	pool := NewThreadPool(ThreadPoolConfig{
		Technique: technique.NewXOR(),
		Tracker:   tracker,
		Open: func(path string) (ChunkFile, error) {
			f, err := OpenChunkFile(path)
			if err != nil {
				return nil, err
			}
			return &faultyFile{ChunkFile: f, failReadAt: -1, failWriteAt: -1, failSync: true}, nil
		},
	})
	specs, err := chunk.Plan(300, 3)
	require.NoError(t, err)

	failed, err := pool.Run(path, specs, technique.Encrypt)
	assert.ErrorIs(t, err, ErrFileFlush)
	assert.Zero(t, failed)
	assert.Zero(t, tracker.FailureCount())
	assert.Equal(t, fmt.Sprintf("Error flushing file: %s", path), tracker.Status())
	assert.Equal(t, []float64{1, 1, 1}, tracker.All())
}

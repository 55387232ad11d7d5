// Package limits provides centralized sizing limits for the transformation engine.
// This ensures consistent validation across different components of the system.
package limits

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultWorkers is the number of chunks a job is split into by default.
	DefaultWorkers = 4

	// DefaultMaxConcurrent is the default number of thread-mode workers that
	// may be actively reading, transforming or writing at once.
	DefaultMaxConcurrent = 4

	// MaxWorkers is the absolute maximum number of workers for a single job.
	MaxWorkers = 256

	// LargeFileThreshold is the file size above which process mode scales
	// its process count with the file size (10 MiB).
	LargeFileThreshold = 10 * 1024 * 1024

	// BytesPerProcess is the share of a large file assigned to each scaled
	// child process (2 MiB).
	BytesPerProcess = 2 * 1024 * 1024

	// MinScaledProcesses is the lower bound for the scaled process count.
	MinScaledProcesses = 4

	// MaxScaledProcesses is the upper bound for the scaled process count.
	MaxScaledProcesses = 8

	// DefaultPollInterval is how long the process-mode parent waits for the
	// IPC channel to become readable before re-checking child liveness.
	DefaultPollInterval = 100 * time.Millisecond

	// MinPollInterval and MaxPollInterval bound configurable poll intervals.
	MinPollInterval = time.Millisecond
	MaxPollInterval = 5 * time.Second

	// MaxIPCMessage is the maximum length of one IPC line including the
	// trailing newline. It stays under PIPE_BUF so every write is atomic.
	MaxIPCMessage = 512
)

var (
	// ErrWorkerCountInvalid indicates a zero or negative worker count
	ErrWorkerCountInvalid = errors.New("worker count must be at least 1")

	// ErrWorkerCountTooLarge indicates a worker count above MaxWorkers
	ErrWorkerCountTooLarge = errors.New("worker count too large")

	// ErrConcurrencyInvalid indicates a zero or negative concurrency bound
	ErrConcurrencyInvalid = errors.New("max concurrent workers must be at least 1")

	// ErrPollIntervalInvalid indicates a poll interval outside the allowed range
	ErrPollIntervalInvalid = errors.New("poll interval out of range")
)

// ValidateWorkerCount validates a requested worker count against MaxWorkers.
// Returns an error with context including the actual and maximum counts.
func ValidateWorkerCount(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: got %d", ErrWorkerCountInvalid, n)
	}
	if n > MaxWorkers {
		return fmt.Errorf("%w: %d exceeds limit %d", ErrWorkerCountTooLarge, n, MaxWorkers)
	}
	return nil
}

// ValidateMaxConcurrent validates the thread-mode concurrency bound.
func ValidateMaxConcurrent(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: got %d", ErrConcurrencyInvalid, n)
	}
	return nil
}

// ValidatePollInterval validates a process-mode poll interval.
func ValidatePollInterval(d time.Duration) error {
	if d < MinPollInterval || d > MaxPollInterval {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrPollIntervalInvalid, d, MinPollInterval, MaxPollInterval)
	}
	return nil
}

// ScaledProcessCount returns the number of child processes to use for a file
// of the given size. Files at or below LargeFileThreshold keep the requested
// count unchanged; larger files get one process per BytesPerProcess, clamped
// to [MinScaledProcesses, MaxScaledProcesses].
func ScaledProcessCount(fileSize uint64, requested int) int {
	if fileSize <= LargeFileThreshold {
		return requested
	}
	n := fileSize / BytesPerProcess
	if n > MaxScaledProcesses {
		n = MaxScaledProcesses
	}
	if n < MinScaledProcesses {
		n = MinScaledProcesses
	}
	return int(n)
}

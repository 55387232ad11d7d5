package engine

import "errors"

// Pre-flight errors. These are reported before any worker starts.
var (
	// ErrFileNotFound indicates the target path does not exist or is not a regular file.
	ErrFileNotFound = errors.New("file does not exist")

	// ErrEmptyFile indicates the target file has no content.
	ErrEmptyFile = errors.New("file is empty")

	// ErrFileOpen indicates the target could not be opened for read and write.
	ErrFileOpen = errors.New("could not open file")

	// ErrChannelCreation indicates the process-mode IPC pipe could not be created.
	ErrChannelCreation = errors.New("failed to create IPC channel")

	// ErrInvalidWorkers indicates a worker count outside the allowed range.
	ErrInvalidWorkers = errors.New("invalid worker count")

	// ErrJobRunning indicates a job was started while another is still running.
	ErrJobRunning = errors.New("a job is already running")
)

// Per-worker errors. These are recorded in the tracker and never abort siblings.
var (
	// ErrWorkerSpawn indicates a worker process could not be started.
	ErrWorkerSpawn = errors.New("failed to spawn worker")

	// ErrChunkRead indicates a worker could not read its chunk.
	ErrChunkRead = errors.New("error reading file chunk")

	// ErrChunkWrite indicates a worker could not write its chunk back.
	ErrChunkWrite = errors.New("error writing file chunk")

	// ErrProcessAbnormalExit indicates a child exited non-zero, was signaled or
	// exited without reporting a result.
	ErrProcessAbnormalExit = errors.New("process exited abnormally")

	// ErrJobFailed is returned by a run when at least one worker failed.
	ErrJobFailed = errors.New("job failed")
)

// ErrFileFlush indicates the thread-mode file handle could not be synced after
// every worker finished. It is a job-level error, not a worker failure.
var ErrFileFlush = errors.New("error flushing file")

// ErrMalformedMessage indicates an IPC line that does not follow the wire format.
var ErrMalformedMessage = errors.New("malformed IPC message")

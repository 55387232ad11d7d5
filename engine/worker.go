package engine

import (
	"fmt"

	"github.com/opd-ai/cryptcore/chunk"
)

// WorkerState is the lifecycle state of one chunk worker.
type WorkerState uint8

const (
	// StateCreated indicates the worker exists but has not started.
	StateCreated WorkerState = iota
	// StateAcquiringSlot indicates the worker waits for a concurrency slot.
	StateAcquiringSlot
	// StateReading indicates the worker reads its chunk.
	StateReading
	// StateTransforming indicates the worker applies the technique.
	StateTransforming
	// StateWriting indicates the worker writes its chunk back.
	StateWriting
	// StateRunning indicates a child process was spawned and has not reported yet.
	StateRunning
	// StateDone indicates the chunk was written back successfully.
	StateDone
	// StateFailed indicates the worker stopped on an error.
	StateFailed
)

// String implements fmt.Stringer.
func (s WorkerState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAcquiringSlot:
		return "acquiring_slot"
	case StateReading:
		return "reading"
	case StateTransforming:
		return "transforming"
	case StateWriting:
		return "writing"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s WorkerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *WorkerState) UnmarshalText(text []byte) error {
	for candidate := StateCreated; candidate <= StateFailed; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown worker state %q", text)
}

// Terminal reports whether the worker has finished, successfully or not.
func (s WorkerState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// WorkerRecord identifies one worker of a job. Thread-mode workers have a
// zero PID and are identified by Index alone.
type WorkerRecord struct {
	Index int         `json:"index"`
	PID   int         `json:"pid,omitempty"`
	Chunk chunk.Spec  `json:"chunk"`
	State WorkerState `json:"state"`
}

// ID returns a human-readable identifier for the worker.
func (w WorkerRecord) ID() string {
	if w.PID != 0 {
		return fmt.Sprintf("process %d (pid %d)", w.Index, w.PID)
	}
	return fmt.Sprintf("thread %d", w.Index)
}

package engine

import (
	"testing"
	"time"

	"github.com/opd-ai/cryptcore/chunk"
	"github.com/stretchr/testify/assert"
)

func TestWorkerStateTerminal(t *testing.T) {
	tests := []struct {
		state    WorkerState
		name     string
		terminal bool
	}{
		{StateCreated, "created", false},
		{StateAcquiringSlot, "acquiring_slot", false},
		{StateReading, "reading", false},
		{StateTransforming, "transforming", false},
		{StateWriting, "writing", false},
		{StateRunning, "running", false},
		{StateDone, "done", true},
		{StateFailed, "failed", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.state.String())
			assert.Equal(t, tt.terminal, tt.state.Terminal())
		})
	}
}

func TestWorkerRecordID(t *testing.T) {
	assert.Equal(t, "thread 2", WorkerRecord{Index: 2, Chunk: chunk.Spec{Index: 2}}.ID())
	assert.Equal(t, "process 1 (pid 4242)", WorkerRecord{Index: 1, PID: 4242}.ID())
}

func TestSyncStatsAggregates(t *testing.T) {
	s := NewSyncStats()
	s.OnAcquire(1, 5*time.Millisecond)
	s.OnAcquire(0, 0)
	s.OnRelease(1)
	s.RecordLock(1, time.Millisecond, 2*time.Millisecond)
	s.RecordLock(1, time.Millisecond, 3*time.Millisecond)

	workers := s.Workers()
	if assert.Len(t, workers, 2) {
		assert.Equal(t, 0, workers[0].Worker)
		assert.Equal(t, 1, workers[1].Worker)
		assert.Equal(t, 1, workers[1].SlotAcquires)
		assert.Equal(t, 1, workers[1].SlotReleases)
		assert.Equal(t, 2, workers[1].LockAcquires)
		assert.Equal(t, 5*time.Millisecond, workers[1].LockHeld)
	}

	total := s.Totals()
	assert.Equal(t, -1, total.Worker)
	assert.Equal(t, 2, total.SlotAcquires)
	assert.Equal(t, 5*time.Millisecond, total.SlotWait)
	assert.Equal(t, 2*time.Millisecond, total.LockWait)
}

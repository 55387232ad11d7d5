package chunk

import (
	"testing"

	"github.com/opd-ai/cryptcore/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanRejectsInvalidInput(t *testing.T) {
	_, err := Plan(0, 4)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = Plan(100, 0)
	assert.ErrorIs(t, err, ErrInvalidWorkerCount)

	_, err = Plan(100, -1)
	assert.ErrorIs(t, err, ErrInvalidWorkerCount)
}

func TestPlanEvenSplit(t *testing.T) {
	specs, err := Plan(100, 4)
	require.NoError(t, err)
	require.Len(t, specs, 4)

	for i, s := range specs {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, uint64(i*25), s.Offset)
		assert.Equal(t, uint64(25), s.Length)
	}
}

func TestPlanClampsFinalChunk(t *testing.T) {
	specs, err := Plan(10, 4)
	require.NoError(t, err)

	want := []Spec{
		{Index: 0, Offset: 0, Length: 3},
		{Index: 1, Offset: 3, Length: 3},
		{Index: 2, Offset: 6, Length: 3},
		{Index: 3, Offset: 9, Length: 1},
	}
	assert.Equal(t, want, specs)
}

func TestPlanMoreWorkersThanBytes(t *testing.T) {
	specs, err := Plan(3, 8)
	require.NoError(t, err)
	require.Len(t, specs, 8, "every worker index must own a chunk")

	var nonEmpty int
	for _, s := range specs {
		if !s.Empty() {
			nonEmpty++
		}
	}
	assert.Equal(t, 3, nonEmpty)
	assert.True(t, specs[7].Empty())
	assert.Equal(t, uint64(3), specs[7].Offset)
	assert.NoError(t, Validate(specs, 3))
}

// TestPlanPartitionProperty checks the partition invariant over a grid of
// sizes and worker counts.
func TestPlanPartitionProperty(t *testing.T) {
	sizes := []uint64{1, 2, 3, 7, 64, 1000, 4096, 4097, 1 << 20, 10*1024*1024 + 3}

	for _, size := range sizes {
		for workers := 1; workers <= 16; workers++ {
			specs, err := Plan(size, workers)
			require.NoError(t, err)
			require.Len(t, specs, workers)
			require.NoError(t, Validate(specs, size), "size=%d workers=%d", size, workers)

			var total uint64
			var lastEnd uint64
			prevOffset := int64(-1)
			for _, s := range specs {
				total += s.Length
				if !s.Empty() {
					assert.Greater(t, int64(s.Offset), prevOffset, "offsets must strictly increase")
					prevOffset = int64(s.Offset)
				}
				assert.GreaterOrEqual(t, s.Offset, lastEnd, "chunks must not overlap")
				lastEnd = s.End()
			}
			assert.Equal(t, size, total)
		}
	}
}

func TestValidateDetectsBrokenPlans(t *testing.T) {
	tests := []struct {
		name  string
		specs []Spec
		size  uint64
	}{
		{
			name:  "gap",
			specs: []Spec{{0, 0, 4}, {1, 5, 5}},
			size:  10,
		},
		{
			name:  "overlap",
			specs: []Spec{{0, 0, 6}, {1, 5, 5}},
			size:  10,
		},
		{
			name:  "short",
			specs: []Spec{{0, 0, 4}, {1, 4, 4}},
			size:  10,
		},
		{
			name:  "index mismatch",
			specs: []Spec{{0, 0, 5}, {2, 5, 5}},
			size:  10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Validate(tt.specs, tt.size), ErrInvalidPlan)
		})
	}
}

func TestProcessCountScalesLargeFiles(t *testing.T) {
	const mib = 1024 * 1024

	assert.Equal(t, 4, ProcessCount(mib, 4))
	assert.Equal(t, 2, ProcessCount(mib, 2))

	n := ProcessCount(12*mib, 4)
	assert.Greater(t, n, 4)
	assert.LessOrEqual(t, n, limits.MaxScaledProcesses)

	small, err := Plan(12*mib, 4)
	require.NoError(t, err)
	scaled, err := Plan(12*mib, n)
	require.NoError(t, err)
	assert.Less(t, scaled[0].Length, small[0].Length, "chunk size should shrink when scaled")
}

func TestSpecString(t *testing.T) {
	s := Spec{Index: 2, Offset: 10, Length: 5}
	assert.Equal(t, "chunk 2 [10, 15)", s.String())
	assert.Equal(t, uint64(15), s.End())
}

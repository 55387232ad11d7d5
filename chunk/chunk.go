package chunk

import (
	"errors"
	"fmt"

	"github.com/opd-ai/cryptcore/limits"
	"github.com/sirupsen/logrus"
)

// ErrEmptyInput indicates that a zero-byte file was handed to the planner.
var ErrEmptyInput = errors.New("cannot plan chunks for empty input")

// ErrInvalidWorkerCount indicates a worker count below one.
var ErrInvalidWorkerCount = errors.New("worker count must be at least 1")

// ErrInvalidPlan indicates a chunk list that does not partition the file.
var ErrInvalidPlan = errors.New("chunks do not partition the file")

// Spec describes the byte range owned by a single worker.
type Spec struct {
	Index  int    `json:"index"`
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// End returns the exclusive end offset of the chunk.
func (s Spec) End() uint64 {
	return s.Offset + s.Length
}

// Empty reports whether the chunk covers no bytes.
func (s Spec) Empty() bool {
	return s.Length == 0
}

// String implements fmt.Stringer.
func (s Spec) String() string {
	return fmt.Sprintf("chunk %d [%d, %d)", s.Index, s.Offset, s.End())
}

// Plan splits fileSize bytes into workerCount contiguous chunks ordered by
// increasing offset.
func Plan(fileSize uint64, workerCount int) ([]Spec, error) {
	if workerCount < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkerCount, workerCount)
	}
	if fileSize == 0 {
		return nil, ErrEmptyInput
	}

	n := uint64(workerCount)
	size := (fileSize + n - 1) / n

	specs := make([]Spec, workerCount)
	for i := range specs {
		offset := min(uint64(i)*size, fileSize)
		length := min(size, fileSize-offset)
		specs[i] = Spec{Index: i, Offset: offset, Length: length}
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Plan",
		"file_size":    fileSize,
		"worker_count": workerCount,
		"chunk_size":   size,
	}).Debug("Planned file chunks")

	return specs, nil
}

// ProcessCount returns the number of child processes to use for a
// process-mode job over a file of the given size.
func ProcessCount(fileSize uint64, requested int) int {
	n := limits.ScaledProcessCount(fileSize, requested)
	if n != requested {
		logrus.WithFields(logrus.Fields{
			"function":  "ProcessCount",
			"file_size": fileSize,
			"requested": requested,
			"scaled":    n,
		}).Info("Scaled process count for large file")
	}
	return n
}

// Validate checks that specs exactly partition [0, fileSize): indices match
// positions, each chunk starts where the previous one ended and the lengths
// sum to fileSize.
func Validate(specs []Spec, fileSize uint64) error {
	var next uint64
	for i, s := range specs {
		if s.Index != i {
			return fmt.Errorf("%w: chunk at position %d has index %d", ErrInvalidPlan, i, s.Index)
		}
		if s.Offset != next {
			return fmt.Errorf("%w: %s starts at %d, expected %d", ErrInvalidPlan, s, s.Offset, next)
		}
		next = s.End()
	}
	if next != fileSize {
		return fmt.Errorf("%w: chunks cover %d bytes, file has %d", ErrInvalidPlan, next, fileSize)
	}
	return nil
}

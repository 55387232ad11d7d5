package engine

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/opd-ai/cryptcore/chunk"
	"github.com/opd-ai/cryptcore/technique"
	"github.com/sirupsen/logrus"
)

// Environment variables describing a process-mode child's task.
const (
	ChildEnv          = "CRYPTCORE_CHILD"
	childPathEnv      = "CRYPTCORE_CHILD_PATH"
	childChunkEnv     = "CRYPTCORE_CHILD_CHUNK"
	childDirectionEnv = "CRYPTCORE_CHILD_DIRECTION"
	childJobEnv       = "CRYPTCORE_CHILD_JOB"
	childLogLevelEnv  = "CRYPTCORE_CHILD_LOG_LEVEL"
)

// childChannelFD is the descriptor the IPC write end is passed on.
const childChannelFD = 3

// Exit codes of RunChild. A child that reports a chunk failure over IPC
// still exits with childExitOK.
const (
	childExitOK      = 0
	childExitNoChan  = 2
	childExitBadTask = 3
	childExitNoWrite = 4
)

// childTask is the work description handed to a child process.
type childTask struct {
	JobID     string
	Path      string
	Spec      chunk.Spec
	Direction technique.Direction
}

// environ renders the task as environment assignments.
func (t childTask) environ() []string {
	return []string{
		ChildEnv + "=1",
		childPathEnv + "=" + t.Path,
		fmt.Sprintf("%s=%d:%d:%d", childChunkEnv, t.Spec.Index, t.Spec.Offset, t.Spec.Length),
		childDirectionEnv + "=" + t.Direction.String(),
		childJobEnv + "=" + t.JobID,
		childLogLevelEnv + "=" + logrus.GetLevel().String(),
	}
}

// parseChildTask reads a task from an environment lookup function.
func parseChildTask(getenv func(string) string) (childTask, error) {
	task := childTask{JobID: getenv(childJobEnv), Path: getenv(childPathEnv)}
	if task.Path == "" {
		return task, fmt.Errorf("%s not set", childPathEnv)
	}

	parts := strings.Split(getenv(childChunkEnv), ":")
	if len(parts) != 3 {
		return task, fmt.Errorf("%s must be index:offset:length", childChunkEnv)
	}
	index, err := strconv.Atoi(parts[0])
	if err != nil || index < 0 {
		return task, fmt.Errorf("bad chunk index %q", parts[0])
	}
	offset, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return task, fmt.Errorf("bad chunk offset %q", parts[1])
	}
	length, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return task, fmt.Errorf("bad chunk length %q", parts[2])
	}
	task.Spec = chunk.Spec{Index: index, Offset: offset, Length: length}

	task.Direction, err = technique.ParseDirection(getenv(childDirectionEnv))
	if err != nil {
		return task, err
	}
	return task, nil
}

// IsChild reports whether this process was started as a process-mode worker.
// Programs embedding the engine must call RunChild early in main when it does.
func IsChild() bool {
	return os.Getenv(ChildEnv) == "1"
}

// RunChild executes the chunk described by the environment, reports the
// outcome on the inherited IPC channel and returns the process exit code.
//
//	func main() {
//	    if engine.IsChild() {
//	        os.Exit(engine.RunChild())
//	    }
//	    ...
//	}
func RunChild() int {
	if lvl, err := logrus.ParseLevel(os.Getenv(childLogLevelEnv)); err == nil {
		logrus.SetLevel(lvl)
	}

	channel := os.NewFile(childChannelFD, "cryptcore-ipc")
	if _, err := channel.Stat(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "RunChild",
			"fd":       childChannelFD,
			"error":    err.Error(),
		}).Error("IPC channel descriptor missing")
		return childExitNoChan
	}
	defer channel.Close()

	task, err := parseChildTask(os.Getenv)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "RunChild",
			"error":    err.Error(),
		}).Error("Invalid child task")
		return childExitBadTask
	}

	msg := runChildTask(task, OpenChunkFile)
	if _, err := channel.Write(msg.Encode()); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "RunChild",
			"job_id":   task.JobID,
			"worker":   task.Spec.Index,
			"error":    err.Error(),
		}).Error("Failed to report result to parent")
		return childExitNoWrite
	}
	return childExitOK
}

// runChildTask reads, transforms and writes back one chunk with its own file
// handle. Children always use the default XOR technique: the parent's
// configured technique is not passed across the process boundary.
func runChildTask(task childTask, open OpenFunc) Message {
	spec := task.Spec
	log := logrus.WithFields(logrus.Fields{
		"function": "runChildTask",
		"job_id":   task.JobID,
		"worker":   spec.Index,
		"pid":      os.Getpid(),
	})

	if spec.Empty() {
		log.Debug("Empty chunk, nothing to do")
		return SuccessMessage(spec.Index)
	}

	f, err := open(task.Path)
	if err != nil {
		log.WithField("error", err.Error()).Error("Could not open file")
		return ErrorMessage(spec.Index, fmt.Errorf("could not open file: %v", err))
	}
	defer f.Close()

	buf := make([]byte, spec.Length)
	if err := readChunk(f, spec, buf); err != nil {
		log.WithField("error", err.Error()).Error("Chunk read failed")
		return ErrorMessage(spec.Index, err)
	}

	if err := technique.Apply(technique.NewXOR(), buf, spec.Offset, task.Direction); err != nil {
		return ErrorMessage(spec.Index, err)
	}

	if err := writeChunk(f, spec, buf); err != nil {
		log.WithField("error", err.Error()).Error("Chunk write failed")
		return ErrorMessage(spec.Index, err)
	}
	if err := f.Sync(); err != nil {
		return ErrorMessage(spec.Index, fmt.Errorf("%w: flush: %v", ErrChunkWrite, err))
	}

	log.WithFields(logrus.Fields{
		"offset": spec.Offset,
		"length": spec.Length,
	}).Debug("Chunk processed")
	return SuccessMessage(spec.Index)
}

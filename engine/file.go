package engine

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/opd-ai/cryptcore/chunk"
)

// ChunkFile is the random-access accessor workers use to read and write
// their byte ranges.
type ChunkFile interface {
	io.ReadWriteSeeker
	Sync() error
	Close() error
}

// OpenFunc opens path for binary read and write.
type OpenFunc func(path string) (ChunkFile, error)

// OpenChunkFile opens an existing file for read and write without truncating it.
func OpenChunkFile(path string) (ChunkFile, error) {
	return os.OpenFile(path, os.O_RDWR, 0)
}

// statTarget returns the size of the file at path, or ErrFileNotFound /
// ErrEmptyFile when it cannot be processed.
func statTarget(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return 0, fmt.Errorf("%w: %s: %v", ErrFileNotFound, path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s is not a regular file", ErrFileNotFound, path)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	return uint64(info.Size()), nil
}

// preflightStatus returns the status message for a pre-flight error.
func preflightStatus(path string, err error) string {
	switch {
	case errors.Is(err, ErrEmptyFile):
		return "File is empty: " + path
	case errors.Is(err, ErrFileNotFound):
		return "File does not exist: " + path
	default:
		return err.Error()
	}
}

// readChunk seeks to the chunk's offset and fills buf completely.
func readChunk(f io.ReadSeeker, spec chunk.Spec, buf []byte) error {
	if _, err := f.Seek(int64(spec.Offset), io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek to %d: %v", ErrChunkRead, spec.Offset, err)
	}
	if _, err := io.ReadFull(f, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrChunkRead, err)
	}
	return nil
}

// writeChunk seeks to the chunk's offset and writes buf completely.
func writeChunk(f io.WriteSeeker, spec chunk.Spec, buf []byte) error {
	if _, err := f.Seek(int64(spec.Offset), io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek to %d: %v", ErrChunkWrite, spec.Offset, err)
	}
	n, err := f.Write(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChunkWrite, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: %v", ErrChunkWrite, io.ErrShortWrite)
	}
	return nil
}

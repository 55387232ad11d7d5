package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/cryptcore/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatTarget(t *testing.T) {
	dir := t.TempDir()
	full := writeTempFile(t, patternData(42))
	empty := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	tests := []struct {
		name    string
		path    string
		size    uint64
		wantErr error
	}{
		{"regular file", full, 42, nil},
		{"empty file", empty, 0, ErrEmptyFile},
		{"missing file", filepath.Join(dir, "missing.bin"), 0, ErrFileNotFound},
		{"directory", dir, 0, ErrFileNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := statTarget(tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.size, size)
		})
	}
}

func TestPreflightStatus(t *testing.T) {
	_, err := statTarget("/definitely/not/here")
	assert.Equal(t, "File does not exist: /definitely/not/here", preflightStatus("/definitely/not/here", err))

	empty := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = statTarget(empty)
	assert.Equal(t, "File is empty: "+empty, preflightStatus(empty, err))
}

func TestReadWriteChunk(t *testing.T) {
	path := writeTempFile(t, []byte("0123456789"))
	f, err := OpenChunkFile(path)
	require.NoError(t, err)
	defer f.Close()

	spec := chunk.Spec{Index: 1, Offset: 3, Length: 4}
	buf := make([]byte, spec.Length)
	require.NoError(t, readChunk(f, spec, buf))
	assert.Equal(t, "3456", string(buf))

	require.NoError(t, writeChunk(f, spec, []byte("abcd")))
	require.NoError(t, f.Sync())
	assert.Equal(t, "012abcd789", string(readFile(t, path)))
}

func TestReadChunkPastEnd(t *testing.T) {
	path := writeTempFile(t, []byte("short"))
	f, err := OpenChunkFile(path)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 10)
	err = readChunk(f, chunk.Spec{Offset: 2, Length: 10}, buf)
	assert.ErrorIs(t, err, ErrChunkRead)
}

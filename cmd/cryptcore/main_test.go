package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/cryptcore/config"
	"github.com/opd-ai/cryptcore/engine"
	"github.com/opd-ai/cryptcore/technique"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain lets process-mode runs re-execute the test binary as a worker.
func TestMain(m *testing.M) {
	if engine.IsChild() {
		os.Exit(engine.RunChild())
	}
	os.Exit(m.Run())
}

func TestParseCLIFlags(t *testing.T) {
	var out bytes.Buffer
	cfg, _, err := parseCLIFlags([]string{
		"-workers", "8",
		"-mode", "processes",
		"-direction", "decrypt",
		"-poll-interval", "20ms",
		"-roundtrip",
		"data.bin",
	}, config.Default(), &out)
	require.NoError(t, err)

	assert.Equal(t, "data.bin", cfg.path)
	assert.Equal(t, 8, cfg.opts.Workers)
	assert.Equal(t, engine.ModeProcesses, cfg.opts.ExecutionMode())
	assert.Equal(t, technique.Decrypt, cfg.opts.JobDirection())
	assert.Equal(t, 20*time.Millisecond, cfg.opts.PollInterval)
	assert.True(t, cfg.roundtrip)
	assert.False(t, cfg.help)
}

func TestParseCLIFlagsFileFlagWins(t *testing.T) {
	var out bytes.Buffer
	cfg, _, err := parseCLIFlags([]string{"-file", "a.bin", "b.bin"}, config.Default(), &out)
	require.NoError(t, err)
	assert.Equal(t, "a.bin", cfg.path)
}

func TestParseCLIFlagsUnknownFlag(t *testing.T) {
	var out bytes.Buffer
	_, _, err := parseCLIFlags([]string{"-bogus"}, config.Default(), &out)
	assert.Error(t, err)
	assert.Contains(t, out.String(), "bogus")
}

func TestValidateCLIConfig(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*CLIConfig)
		wantErr     bool
		errContains string
	}{
		{
			name:    "valid config with defaults",
			mutate:  func(c *CLIConfig) {},
			wantErr: false,
		},
		{
			name:        "missing file",
			mutate:      func(c *CLIConfig) { c.path = "" },
			wantErr:     true,
			errContains: "no file given",
		},
		{
			name:        "zero workers",
			mutate:      func(c *CLIConfig) { c.opts.Workers = 0 },
			wantErr:     true,
			errContains: "worker count",
		},
		{
			name:        "unknown mode",
			mutate:      func(c *CLIConfig) { c.opts.Mode = "fibers" },
			wantErr:     true,
			errContains: "unknown execution mode",
		},
		{
			name:        "pause without roundtrip",
			mutate:      func(c *CLIConfig) { c.pause = true },
			wantErr:     true,
			errContains: "-pause requires -roundtrip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &CLIConfig{opts: config.Default(), path: "data.bin"}
			tt.mutate(cfg)

			err := validateCLIConfig(cfg)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestBuildTechnique(t *testing.T) {
	opts := config.Default()
	tech, err := buildTechnique(opts)
	require.NoError(t, err)
	assert.Equal(t, technique.TypeXOR, tech.Type())

	opts.Technique = "chacha20"
	opts.Passphrase = "from flags"
	tech, err = buildTechnique(opts)
	require.NoError(t, err)
	assert.Equal(t, technique.TypeChaCha20, tech.Type())
}

func TestBuildTechniqueProcessModeSkipsPrompt(t *testing.T) {
	opts := config.Default()
	opts.Mode = "processes"
	opts.Technique = "chacha20"
	opts.Passphrase = ""

	tech, err := buildTechnique(opts)
	require.NoError(t, err)
	assert.Equal(t, technique.TypeXOR, tech.Type())
	assert.Empty(t, opts.Passphrase)
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "Encrypt", capitalize("encrypt"))
	assert.Equal(t, "", capitalize(""))
}

func TestRunRoundTrip(t *testing.T) {
	t.Setenv(config.EnvFileVar, filepath.Join(t.TempDir(), "none.env"))

	original := []byte("The quick brown fox jumps over the lazy dog, twice over.")
	for _, mode := range []string{"threads", "processes"} {
		t.Run(mode, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "fox.txt")
			require.NoError(t, os.WriteFile(path, original, 0o600))

			code := run([]string{"-progress=false", "-log-level", "error", "-mode", mode, "-workers", "3", "-roundtrip", path})
			assert.Equal(t, 0, code)

			got, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, original, got)
		})
	}
}

func TestRunSingleDirection(t *testing.T) {
	t.Setenv(config.EnvFileVar, filepath.Join(t.TempDir(), "none.env"))

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x2A, 0xFF}, 0o600))

	code := run([]string{"-progress=false", "-log-level", "error", "-workers", "2", path})
	require.Equal(t, 0, code)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2A, 0x00, 0xD5}, got)
}

func TestRunFailures(t *testing.T) {
	t.Setenv(config.EnvFileVar, filepath.Join(t.TempDir(), "none.env"))
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"help", []string{"-help"}, 0},
		{"unknown flag", []string{"-bogus"}, 2},
		{"missing file argument", []string{"-progress=false"}, 1},
		{"file does not exist", []string{"-progress=false", "-log-level", "error", filepath.Join(dir, "missing.bin")}, 1},
		{"empty file", []string{"-progress=false", "-log-level", "error", empty}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, run(tt.args))
		})
	}
}

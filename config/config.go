package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opd-ai/cryptcore/engine"
	"github.com/opd-ai/cryptcore/limits"
	"github.com/opd-ai/cryptcore/technique"
	"github.com/sirupsen/logrus"
)

// DefaultEnvFile is the .env file read when no other path is configured.
const DefaultEnvFile = ".env"

// EnvFileVar names the environment variable that overrides DefaultEnvFile.
const EnvFileVar = "CRYPTCORE_ENV_FILE"

// Environment variables recognised by ApplyEnvironment.
const (
	EnvWorkers       = "CRYPTCORE_WORKERS"
	EnvMaxConcurrent = "CRYPTCORE_MAX_CONCURRENT"
	EnvMode          = "CRYPTCORE_MODE"
	EnvDirection     = "CRYPTCORE_DIRECTION"
	EnvTechnique     = "CRYPTCORE_TECHNIQUE"
	EnvPassphrase    = "CRYPTCORE_PASSPHRASE"
	EnvPollInterval  = "CRYPTCORE_POLL_INTERVAL"
	EnvLogLevel      = "CRYPTCORE_LOG_LEVEL"
	EnvLogFormat     = "CRYPTCORE_LOG_FORMAT"
	EnvLogFile       = "CRYPTCORE_LOG_FILE"
	EnvStatusAddr    = "CRYPTCORE_STATUS_ADDR"
	EnvProgressBar   = "CRYPTCORE_PROGRESS"
)

// Options holds every setting of a cryptcore run.
type Options struct {
	// Job configuration
	Workers       int
	MaxConcurrent int
	Mode          string
	Direction     string
	Technique     string
	Passphrase    string
	PollInterval  time.Duration

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogFile   string

	// Presentation
	StatusAddr  string
	ProgressBar bool
}

// Default returns the built-in options.
func Default() *Options {
	return &Options{
		Workers:       limits.DefaultWorkers,
		MaxConcurrent: limits.DefaultMaxConcurrent,
		Mode:          engine.ModeThreads.String(),
		Direction:     technique.Encrypt.String(),
		Technique:     technique.DefaultType.String(),
		PollInterval:  limits.DefaultPollInterval,
		LogLevel:      "warn",
		LogFormat:     "text",
		LogFile:       "",
		StatusAddr:    "",
		ProgressBar:   true,
	}
}

// Load returns the defaults overlaid with the .env file at envFile and then
// the process environment. An empty envFile selects $CRYPTCORE_ENV_FILE or
// DefaultEnvFile. A missing .env file is not an error.
func Load(envFile string) (*Options, error) {
	if envFile == "" {
		envFile = os.Getenv(EnvFileVar)
	}
	if envFile == "" {
		envFile = DefaultEnvFile
	}

	fileVars, err := LoadEnvFile(envFile)
	if err != nil {
		return nil, err
	}

	opts := Default()
	opts.ApplyEnvironment(func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileVars[key]
	})

	logrus.WithFields(logrus.Fields{
		"function":       "Load",
		"env_file":       envFile,
		"file_vars":      len(fileVars),
		"workers":        opts.Workers,
		"max_concurrent": opts.MaxConcurrent,
		"mode":           opts.Mode,
		"technique":      opts.Technique,
	}).Debug("Loaded configuration")
	return opts, nil
}

// ApplyEnvironment overrides options with the CRYPTCORE_* values returned by
// getenv. Empty values leave the option unchanged.
func (o *Options) ApplyEnvironment(getenv func(string) string) {
	parseIntSetting(getenv, EnvWorkers, &o.Workers)
	parseIntSetting(getenv, EnvMaxConcurrent, &o.MaxConcurrent)
	parseDurationSetting(getenv, EnvPollInterval, &o.PollInterval)
	parseBoolSetting(getenv, EnvProgressBar, &o.ProgressBar)

	for key, dst := range map[string]*string{
		EnvMode:       &o.Mode,
		EnvDirection:  &o.Direction,
		EnvTechnique:  &o.Technique,
		EnvPassphrase: &o.Passphrase,
		EnvLogLevel:   &o.LogLevel,
		EnvLogFormat:  &o.LogFormat,
		EnvLogFile:    &o.LogFile,
		EnvStatusAddr: &o.StatusAddr,
	} {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
}

func parseIntSetting(getenv func(string) string, key string, dst *int) {
	raw := getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     key,
			"value":       raw,
			"error":       err.Error(),
			"using_value": *dst,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	*dst = v
}

func parseDurationSetting(getenv func(string) string, key string, dst *time.Duration) {
	raw := getenv(key)
	if raw == "" {
		return
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseDurationSetting",
			"env_var":     key,
			"value":       raw,
			"error":       err.Error(),
			"using_value": *dst,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	*dst = v
}

func parseBoolSetting(getenv func(string) string, key string, dst *bool) {
	raw := getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseBoolSetting",
			"env_var":     key,
			"value":       raw,
			"error":       err.Error(),
			"using_value": *dst,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	*dst = v
}

// Validate checks every option and returns the first problem found.
func (o *Options) Validate() error {
	if err := limits.ValidateWorkerCount(o.Workers); err != nil {
		return err
	}
	if err := limits.ValidateMaxConcurrent(o.MaxConcurrent); err != nil {
		return err
	}
	if err := limits.ValidatePollInterval(o.PollInterval); err != nil {
		return err
	}
	if _, err := engine.ParseMode(o.Mode); err != nil {
		return err
	}
	if _, err := technique.ParseDirection(o.Direction); err != nil {
		return err
	}
	if _, err := technique.Parse(o.Technique); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", o.LogLevel, err)
	}
	switch strings.ToLower(o.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", o.LogFormat)
	}
	return nil
}

// ExecutionMode returns the parsed Mode. Call Validate first.
func (o *Options) ExecutionMode() engine.Mode {
	m, _ := engine.ParseMode(o.Mode)
	return m
}

// JobDirection returns the parsed Direction. Call Validate first.
func (o *Options) JobDirection() technique.Direction {
	d, _ := technique.ParseDirection(o.Direction)
	return d
}

// TechniqueType returns the parsed technique Type. Call Validate first.
func (o *Options) TechniqueType() technique.Type {
	t, _ := technique.Parse(o.Technique)
	return t
}

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/opd-ai/cryptcore/config"
	"github.com/opd-ai/cryptcore/engine"
	"github.com/opd-ai/cryptcore/render"
	"github.com/opd-ai/cryptcore/server"
	"github.com/opd-ai/cryptcore/technique"
	"golang.org/x/term"
)

// CLI configuration
type CLIConfig struct {
	opts      *config.Options
	path      string
	roundtrip bool
	pause     bool
	help      bool
}

// parseCLIFlags parses args on top of defaults. The target file may be given
// with -file or as the first positional argument.
func parseCLIFlags(args []string, defaults *config.Options, output io.Writer) (*CLIConfig, *flag.FlagSet, error) {
	cfg := &CLIConfig{opts: defaults}
	fs := flag.NewFlagSet("cryptcore", flag.ContinueOnError)
	fs.SetOutput(output)

	// Target
	fs.StringVar(&cfg.path, "file", "", "File to transform in place")

	// Job configuration
	fs.IntVar(&cfg.opts.Workers, "workers", defaults.Workers, "Number of workers (chunks)")
	fs.IntVar(&cfg.opts.MaxConcurrent, "max-concurrent", defaults.MaxConcurrent, "Thread mode: workers allowed to run at once")
	fs.StringVar(&cfg.opts.Mode, "mode", defaults.Mode, "Execution mode (threads, processes)")
	fs.StringVar(&cfg.opts.Direction, "direction", defaults.Direction, "Direction (encrypt, decrypt)")
	fs.StringVar(&cfg.opts.Technique, "technique", defaults.Technique, "Technique (xor, chacha20); process mode always uses xor")
	fs.StringVar(&cfg.opts.Passphrase, "passphrase", defaults.Passphrase, "Passphrase for keyed techniques (prompted when empty)")
	fs.DurationVar(&cfg.opts.PollInterval, "poll-interval", defaults.PollInterval, "Process mode: IPC poll interval")

	// Logging configuration
	fs.StringVar(&cfg.opts.LogLevel, "log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.opts.LogFormat, "log-format", defaults.LogFormat, "Log format (text, json)")
	fs.StringVar(&cfg.opts.LogFile, "log-file", defaults.LogFile, "Log file path (default: stderr)")

	// Presentation
	fs.StringVar(&cfg.opts.StatusAddr, "status-addr", defaults.StatusAddr, "Serve job status over HTTP on this address")
	fs.BoolVar(&cfg.opts.ProgressBar, "progress", defaults.ProgressBar, "Show a progress bar when stdout is a terminal")

	// Flow
	fs.BoolVar(&cfg.roundtrip, "roundtrip", false, "Encrypt, then decrypt the file again")
	fs.BoolVar(&cfg.pause, "pause", false, "With -roundtrip: wait for Enter before decrypting")

	// Help
	fs.BoolVar(&cfg.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	if cfg.path == "" && fs.NArg() > 0 {
		cfg.path = fs.Arg(0)
	}
	return cfg, fs, nil
}

// printUsage prints the usage information.
func printUsage(fs *flag.FlagSet) {
	fmt.Println("cryptcore - chunked parallel file transformation")
	fmt.Println("================================================")
	fmt.Println()
	fmt.Println("Transforms a file in place by splitting it into chunks that are")
	fmt.Println("processed in parallel:")
	fmt.Println("  • threads:   goroutines sharing one file handle")
	fmt.Println("  • processes: one worker process per chunk")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <file>\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fs.SetOutput(os.Stdout)
	fs.PrintDefaults()
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Printf("  Every option can be set as CRYPTCORE_<NAME>, in the environment or in %s\n", config.DefaultEnvFile)
	fmt.Printf("  (%s selects another file).\n", config.EnvFileVar)
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  # Encrypt with 8 goroutines\n")
	fmt.Printf("  %s -workers 8 data.bin\n", os.Args[0])
	fmt.Println()
	fmt.Printf("  # Decrypt with worker processes\n")
	fmt.Printf("  %s -mode processes -direction decrypt data.bin\n", os.Args[0])
	fmt.Println()
	fmt.Printf("  # Encrypt and decrypt again while serving status\n")
	fmt.Printf("  %s -roundtrip -status-addr 127.0.0.1:8080 data.bin\n", os.Args[0])
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(cfg *CLIConfig) error {
	if cfg.path == "" {
		return fmt.Errorf("no file given")
	}
	if err := cfg.opts.Validate(); err != nil {
		return err
	}
	if cfg.pause && !cfg.roundtrip {
		return fmt.Errorf("-pause requires -roundtrip")
	}
	return nil
}

// promptPassphrase reads a passphrase from the terminal without echo.
func promptPassphrase() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; set -passphrase or CRYPTCORE_PASSPHRASE")
	}
	fmt.Fprint(os.Stderr, "Enter passphrase: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if len(pw) == 0 {
		return "", errors.New("empty passphrase is not allowed")
	}
	return string(pw), nil
}

// buildTechnique creates the configured technique, prompting for a
// passphrase when a keyed technique has none. Worker processes always use
// XOR, so process mode never prompts.
func buildTechnique(opts *config.Options) (technique.Technique, error) {
	t := opts.TechniqueType()
	if t != technique.DefaultType && opts.ExecutionMode() == engine.ModeProcesses {
		fmt.Printf("⚠️  Worker processes always use %s; ignoring technique %s\n", technique.DefaultType, t)
		return technique.NewXOR(), nil
	}
	if t == technique.TypeChaCha20 && opts.Passphrase == "" {
		pw, err := promptPassphrase()
		if err != nil {
			return nil, err
		}
		opts.Passphrase = pw
	}
	return technique.New(t, opts.Passphrase)
}

// runJob runs one direction over the file and prints its outcome.
func runJob(tm *engine.TaskManager, cfg *CLIConfig, dir technique.Direction) error {
	var bar *render.Bar
	if cfg.opts.ProgressBar {
		bar = render.NewBar(os.Stdout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		if bar != nil {
			bar.Watch(ctx, 100*time.Millisecond, func() render.State {
				snap := tm.Snapshot()
				return render.State{Overall: snap.Overall, Progress: snap.Progress, Status: snap.Status}
			})
		}
	}()

	fmt.Printf("🚀 %s %s with %d %s...\n", capitalize(dir.String()), cfg.path, cfg.opts.Workers, cfg.opts.ExecutionMode())
	start := time.Now()
	err := tm.Run(cfg.path, dir, cfg.opts.ExecutionMode(), cfg.opts.Workers)
	cancel()
	<-watched

	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %s failed: %v\n", capitalize(dir.String()), err)
		for _, f := range tm.Failures() {
			fmt.Fprintf(os.Stderr, "   • worker %d (%s): %s\n", f.Worker, f.Kind, f.Message)
		}
		return err
	}

	fmt.Printf("✅ %s (job %s, %v)\n", tm.GetStatusMessage(), tm.JobID(), time.Since(start).Round(time.Millisecond))
	if cfg.opts.ExecutionMode() == engine.ModeProcesses {
		for _, pid := range tm.ProcessHierarchy() {
			fmt.Printf("   • %s\n", tm.ProcessInfo(pid))
		}
	} else if stats := tm.SyncStats(); len(stats) > 0 {
		sum := tm.SyncTotals()
		fmt.Printf("📊 %d workers, slot wait %v, file lock held %v\n",
			len(stats), sum.SlotWait.Round(time.Microsecond), sum.LockHeld.Round(time.Microsecond))
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

// waitForEnter blocks until a line is read from stdin.
func waitForEnter() {
	fmt.Println("\nPress Enter to decrypt the file...")
	_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
}

// run executes the command and returns the process exit code.
func run(args []string) int {
	defaults, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		return 1
	}

	cfg, fs, err := parseCLIFlags(args, defaults, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(fs)
			return 0
		}
		return 2
	}

	// Show help if requested
	if cfg.help {
		printUsage(fs)
		return 0
	}

	// Validate configuration
	if err := validateCLIConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		return 1
	}

	logCloser, err := config.ConfigureLogging(cfg.opts.LogLevel, cfg.opts.LogFormat, cfg.opts.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to configure logging: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	tech, err := buildTechnique(cfg.opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		return 1
	}
	defer technique.Destroy(tech)

	tm := engine.NewTaskManager(
		engine.WithTechnique(tech),
		engine.WithMaxConcurrent(cfg.opts.MaxConcurrent),
		engine.WithPollInterval(cfg.opts.PollInterval),
	)

	if cfg.opts.StatusAddr != "" {
		srv := server.New(tm, cfg.opts.StatusAddr)
		addr, err := srv.Start()
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			return 1
		}
		fmt.Printf("📡 Status server on http://%s/api/v1/status\n", addr)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	directions := []technique.Direction{cfg.opts.JobDirection()}
	if cfg.roundtrip {
		directions = []technique.Direction{technique.Encrypt, technique.Decrypt}
	}

	for i, dir := range directions {
		if i > 0 && cfg.pause {
			waitForEnter()
		}
		if err := runJob(tm, cfg, dir); err != nil {
			return 1
		}
	}

	if cfg.roundtrip {
		fmt.Println("\n🎉 Round trip completed successfully!")
	}
	return 0
}

func main() {
	// Worker processes re-execute this binary.
	if engine.IsChild() {
		os.Exit(engine.RunChild())
	}
	os.Exit(run(os.Args[1:]))
}

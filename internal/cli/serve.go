package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/scripthost/internal/engine"
	"github.com/roach88/scripthost/internal/host"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ScriptDir string
	Journal   string

	// Input replaces stdin (for testing).
	Input io.Reader
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the host with an interactive console",
		Long: `Start the script host. Host events and clock ticks are drained by a
single event loop; the clock advances once per tick_interval. Commands are
read from stdin, one per line (type help for the list).

Example:
  scripthost serve --config scripthost.cue
  scripthost serve --script-dir ./scripts --journal ./scripthost.db -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ScriptDir, "script-dir", "", "script directory (overrides config)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "SQLite journal path (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.ScriptDir != "" {
		cfg.ScriptDir = opts.ScriptDir
	}
	if opts.Journal != "" {
		cfg.Journal = opts.Journal
	}

	logger := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	h, err := host.New(cfg, host.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start host", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	loop := engine.NewLoop(h, engine.WithLoopLogger(logger))
	console := NewConsole(h, loop, cmd.OutOrStdout())
	h.OnOutput(console.PrintOutput)

	var wg sync.WaitGroup
	loopErr := make(chan error, 1)
	wg.Add(2)
	go func() {
		defer wg.Done()
		loopErr <- loop.Run(ctx)
	}()
	tickCtx, stopTicker := context.WithCancel(ctx)
	defer stopTicker()
	go func() {
		defer wg.Done()
		loop.RunTicker(tickCtx, cfg.TickInterval)
	}()

	logger.Info("host started",
		"script_dir", cfg.ScriptDir,
		"journal", cfg.Journal,
		"run", h.Journal().RunID(),
		"tick_interval", cfg.TickInterval,
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Host started. Type help for commands, quit to stop.")

	in := opts.Input
	if in == nil {
		in = cmd.InOrStdin()
	}
	readCommands(ctx, console, in)

	// Drain queued events before discarding scripts.
	stopTicker()
	loop.Stop()
	wg.Wait()
	cancel()

	if err := h.Close(context.Background()); err != nil {
		logger.Error("error closing host", "error", err)
	}

	if err := <-loopErr; err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "event loop error", err)
	}
	logger.Info("host stopped gracefully")
	return nil
}

// readCommands feeds lines to the console until quit, EOF or ctx ends.
func readCommands(ctx context.Context, console *Console, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || !console.Execute(ctx, line) {
				return
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/internal/runtime"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/integrity"
)

// Exit codes of the CLI contract.
const (
	exitOK        = 0
	exitUser      = 1
	exitValidate  = 2
	exitTamper    = 3
	exitInterrupt = 130
)

var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Weft drives checklist-based workflows",
	Long: `Weft is a workflow orchestration engine whose program counter is a
status.md checklist: one task is active, the engine executes it through a
whitelisted atom, advances the cursor, and survives crashes along the way.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and maps errors onto the exit-code contract.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "weft: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var intErr *integrity.IntegrityError
	if errors.As(err, &intErr) {
		return exitTamper
	}
	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return exitValidate
	}
	if errors.Is(err, runtime.ErrInterrupted) {
		return exitInterrupt
	}
	return exitUser
}

func init() {
	rootCmd.PersistentFlags().String("dir", ".", "Directory to scan upward from for the flow root")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
}

// startDir resolves the discovery directory: the --dir flag, overridden by
// WEFT_ROOT which exists only for tests.
func startDir(cmd *cobra.Command) string {
	if env := os.Getenv("WEFT_ROOT"); env != "" {
		return env
	}
	dir, _ := cmd.Flags().GetString("dir")
	return dir
}

// newEngine hydrates an engine for a command invocation. Root discovery
// runs first so the logger can mirror records into <flow>/logs/engine.log.
func newEngine(cmd *cobra.Command) (*runtime.Engine, error) {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	dir := startDir(cmd)
	flowDir := ""
	if _, fd, err := runtime.FindRoot(dir, []string{".flow"}); err == nil {
		flowDir = fd
	}

	return runtime.New(dir, runtime.WithLogger(logging.New(level, flowDir)))
}

// signalContext traps SIGINT/SIGTERM for the run verbs.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Package cli provides command-line interface functionality for the
// encryption tool.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set by main.go
var Version = "dev"

// rootCmd is the base command when called without subcommands
var rootCmd = &cobra.Command{
	Use:   "filecrypt",
	Short: "Password-based file and directory encryption",
	Long: `filecrypt encrypts and decrypts files and directories using:
  - Argon2id for password-based key derivation
  - XChaCha20-Poly1305 for authenticated encryption
  - HMAC-SHA256 over the whole artifact as a second, outer integrity check`,
	Version: Version,
}

// globalReporter is cancelled by the signal handler installed in Execute.
var globalReporter *Reporter

// Execute runs the CLI application and exits the process with a
// nonzero status on failure.
func Execute(version string) {
	Version = version
	rootCmd.Version = version

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		if globalReporter != nil {
			globalReporter.Cancel()
			fmt.Fprintln(os.Stderr, "\nCancelling operation...")
		} else {
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newCancellableContext returns a context.Context that is cancelled
// either by Ctrl+C/SIGTERM or by the returned reporter's Cancel method,
// and registers the reporter so the signal handler in Execute reaches it.
func newCancellableContext(quiet bool) (context.Context, *Reporter) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewReporter(quiet, cancel)
	globalReporter = r
	return ctx, r
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskchat",
		Short: "Multi-user task tracker with a chat assistant",
		Long: `taskchat serves a task-tracking API with cookie sessions and a chat
assistant that turns plain sentences into task actions.

Run "taskchat serve" to start the server, "taskchat chat" to talk to it
and "taskchat doctor" when something looks wrong.`,
		Args:          cobra.NoArgs,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// Bare "taskchat" serves, like "taskchat serve".
	root.RunE = func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), wantDashboard(false))
	}
	root.AddCommand(newServeCmd(), newChatCmd(), newStatusCmd(), newDoctorCmd())
	return root
}

func main() {
	// Values already in the environment win over .env.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitError carries a specific process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return 1
}

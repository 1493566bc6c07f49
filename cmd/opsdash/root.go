package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/open-sspm/opsdash/internal/logging"
	"github.com/spf13/cobra"
)

// plainOutputAnnotation marks commands that print for humans instead of
// emitting structured logs.
const plainOutputAnnotation = "opsdash/plain-output"

var rootCmd = &cobra.Command{
	Use:           "opsdash",
	Short:         "Operations dashboard API and pipeline connector toolkit.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// rootPersistentPreRunE is assigned in init to avoid an initialization cycle
// through commandUsesStructuredLogging, which compares against rootCmd.
func rootPersistentPreRunE(cmd *cobra.Command, args []string) error {
	ctx := commandExecutionContext{
		CommandPath:       cmd.CommandPath(),
		UsesStructuredLog: commandUsesStructuredLogging(cmd),
	}
	setCommandExecutionContext(ctx)
	if !ctx.UsesStructuredLog {
		return nil
	}
	_, err := logging.BootstrapFromEnv(logging.BootstrapOptions{Command: ctx.CommandPath, Writer: os.Stderr})
	return err
}

// Execute runs the root command with a context canceled on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentPreRunE = rootPersistentPreRunE
	rootCmd.AddCommand(serveCmd, migrateCmd, connectorsCmd, runsCmd)
}

type commandExecutionContext struct {
	CommandPath       string
	UsesStructuredLog bool
}

var (
	execCtxMu sync.Mutex
	execCtx   commandExecutionContext
)

func setCommandExecutionContext(ctx commandExecutionContext) {
	execCtxMu.Lock()
	execCtx = ctx
	execCtxMu.Unlock()
}

func resetCommandExecutionContext() {
	setCommandExecutionContext(commandExecutionContext{})
}

func currentCommandExecutionContext() commandExecutionContext {
	execCtxMu.Lock()
	defer execCtxMu.Unlock()
	return execCtx
}

func commandUsesStructuredLogging(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[plainOutputAnnotation] == "true" {
			return false
		}
	}
	return cmd != nil && cmd != rootCmd
}

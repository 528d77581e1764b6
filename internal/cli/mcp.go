package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yegors/nudge/internal/mcpserver"
)

func init() {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve sessions to MCP clients over stdio",
		Args:  cobra.NoArgs,
		Run:   runMCP,
	}

	RootCmd.AddCommand(cmd)
}

func runMCP(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stdout carries the protocol, so logs go to the log file.
	a := mustOpenApp(ctx, appOptions{logToFile: true})
	defer a.Close()

	srv := mcpserver.New(a.store, Version, a.log)
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		exitErr("mcp", err)
	}
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegors/nudge/internal/api"
	"github.com/yegors/nudge/pkg/logger"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default: server.listen_addr)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := mustOpenApp(ctx, appOptions{pipeline: true})
	defer a.Close()

	cfg := a.cfg.Server
	if addr != "" {
		cfg.ListenAddr = addr
	}

	router := api.NewRouter(ctx, a.manager, a.metrics, cfg, a.log)
	srv := api.NewServer(cfg, router.Routes(), a.log)
	if err := srv.Start(); err != nil {
		exitErr("serve", err)
	}
	fmt.Fprintf(os.Stderr, "Serving on http://%s\n", srv.Addr())

	select {
	case <-ctx.Done():
	case err := <-srv.Done():
		if err != nil {
			exitErr("serve", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("API server shutdown", logger.Error(err))
	}
}

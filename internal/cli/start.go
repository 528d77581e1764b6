package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/yegors/nudge/internal/api"
	"github.com/yegors/nudge/internal/display"
	"github.com/yegors/nudge/internal/session"
	"github.com/yegors/nudge/pkg/logger"
)

func init() {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Record a meeting until interrupted, then process it",
		Args:  cobra.NoArgs,
		Run:   runStart,
	}

	cmd.Flags().StringP("title", "t", "", "Meeting title (default: derived from the transcript)")
	cmd.Flags().BoolP("quiet", "q", false, "Plain output instead of the live view")
	cmd.Flags().StringP("device", "d", "", "Audio input device (default: audio.device)")
	cmd.Flags().Bool("serve", false, "Serve the HTTP API while recording")

	RootCmd.AddCommand(cmd)
}

func runStart(cmd *cobra.Command, args []string) {
	title, _ := cmd.Flags().GetString("title")
	quiet, _ := cmd.Flags().GetBool("quiet")
	device, _ := cmd.Flags().GetString("device")
	serve, _ := cmd.Flags().GetBool("serve")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tty := !quiet && isatty.IsTerminal(os.Stdout.Fd())
	a := mustOpenApp(ctx, appOptions{pipeline: true, logToFile: tty})
	defer a.Close()

	if days := a.cfg.Storage.AutoDeleteAudioDays; days > 0 && a.cfg.Storage.KeepAudio {
		if _, err := a.manager.Cleanup(ctx, days, false); err != nil {
			a.log.Warn("Audio cleanup failed", logger.Error(err))
		}
	}

	rec, err := a.manager.Start(ctx, session.StartOptions{Title: title, Device: device})
	if err != nil {
		exitErr("start recording", err)
	}

	var srv *api.Server
	if serve {
		router := api.NewRouter(ctx, a.manager, a.metrics, a.cfg.Server, a.log)
		srv = api.NewServer(a.cfg.Server, router.Routes(), a.log)
		if err := srv.Start(); err != nil {
			a.log.Error("API server not started", logger.Error(err))
			srv = nil
		}
	}

	disp := display.New(display.Options{Out: os.Stdout, Quiet: quiet, Transcript: a.cfg.Display.LiveTranscript}, a.log)
	if err := disp.Run(ctx, rec); err != nil {
		a.log.Error("Display failed", logger.Error(err))
	}
	stop()

	// A second interrupt abandons the wait; recover picks the session up.
	finishCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintln(os.Stderr, "Stopping...")
	if err := rec.Stop(finishCtx); err != nil {
		exitErr("stop recording", err)
	}

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("API server shutdown", logger.Error(err))
		}
		done()
	}

	fmt.Fprintln(os.Stderr, "Processing...")
	res, err := a.manager.Process(finishCtx, rec.ID())
	if err != nil {
		exitErr("process "+rec.ID(), err)
	}
	printProcessResult(res)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yegors/nudge/internal/detector"
	"github.com/yegors/nudge/internal/watcher"
	"github.com/yegors/nudge/pkg/logger"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Record meetings as they are detected and import WAV files from the inbox",
		Args:  cobra.NoArgs,
		Run:   runWatch,
	}

	cmd.Flags().Bool("inbox", false, "Also import WAV files dropped into the inbox (default: watch.inbox)")
	cmd.Flags().Bool("no-meetings", false, "Do not detect meetings")
	cmd.Flags().String("dir", "", "Inbox directory (default: watch.inbox_dir)")

	RootCmd.AddCommand(cmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	inbox, _ := cmd.Flags().GetBool("inbox")
	noMeetings, _ := cmd.Flags().GetBool("no-meetings")
	dir, _ := cmd.Flags().GetString("dir")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := mustOpenApp(ctx, appOptions{pipeline: true})
	defer a.Close()

	meetings := a.cfg.Watch.Meetings && !noMeetings
	inbox = inbox || a.cfg.Watch.Inbox || dir != ""
	if !meetings && !inbox {
		exitErr("watch", errors.New("nothing to watch: meeting detection and the inbox are both off"))
	}

	if days := a.cfg.Storage.AutoDeleteAudioDays; days > 0 && a.cfg.Storage.KeepAudio {
		if _, err := a.manager.Cleanup(ctx, days, false); err != nil {
			a.log.Warn("Audio cleanup failed", logger.Error(err))
		}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
	)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
				// One watcher failing takes the other down.
				stop()
			}
		}()
	}

	if meetings {
		rec := detector.NewAutoRecorder(detector.Config{
			Poll:       a.cfg.Watch.Poll(),
			StartGrace: a.cfg.Watch.StartGrace(),
			StopGrace:  a.cfg.Watch.StopGrace(),
		}, detector.NewDefault(a.exec, a.log), detector.FromManager(a.manager), a.log)
		fmt.Fprintln(os.Stderr, "Watching for Zoom, Teams, Google Meet and Webex meetings.")
		run("meetings", rec.Run)
	}

	if inbox {
		if dir == "" {
			dir = a.cfg.Watch.InboxDir
		}
		w, err := watcher.New(watcher.Config{InboxDir: dir, MaxConcurrent: a.cfg.Watch.MaxConcurrent}, a.manager, a.log)
		if err != nil {
			stop()
			wg.Wait()
			exitErr("watch", err)
		}
		defer w.Close()
		fmt.Fprintf(os.Stderr, "Watching %s for .wav files.\n", dir)
		run("inbox", w.Run)
	}

	fmt.Fprintln(os.Stderr, "Ctrl+C to stop.")
	wg.Wait()
	if err := errors.Join(failures...); err != nil {
		exitErr("watch", err)
	}
}

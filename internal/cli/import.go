package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import <file.wav>",
		Short: "Process a recorded WAV file as a session",
		Args:  cobra.ExactArgs(1),
		Run:   runImport,
	}

	cmd.Flags().StringP("title", "t", "", "Meeting title (default: the file name)")

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	title, _ := cmd.Flags().GetString("title")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := mustOpenApp(ctx, appOptions{pipeline: true})
	defer a.Close()

	res, err := a.manager.Import(ctx, args[0], title)
	if err != nil {
		exitErr("import "+args[0], err)
	}
	printProcessResult(res)
}

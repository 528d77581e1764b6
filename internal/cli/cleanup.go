package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audio of old sessions; transcripts and notes are kept",
		Args:  cobra.NoArgs,
		Run:   runCleanup,
	}

	cmd.Flags().Int("days", 0, "Delete audio older than N days (default: storage.auto_delete_audio_days)")
	cmd.Flags().Bool("dry-run", false, "List what would be deleted")

	RootCmd.AddCommand(cmd)
}

func runCleanup(cmd *cobra.Command, args []string) {
	days, _ := cmd.Flags().GetInt("days")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	a := mustOpenApp(cmd.Context(), appOptions{})
	defer a.Close()

	if days <= 0 {
		days = a.cfg.Storage.AutoDeleteAudioDays
	}
	if days <= 0 {
		fmt.Println("Audio cleanup is disabled (storage.auto_delete_audio_days = 0).")
		return
	}

	res, err := a.manager.Cleanup(cmd.Context(), days, dryRun)
	if err != nil {
		exitErr("cleanup", err)
	}

	if jsonOutput() {
		printJSON(res)
		return
	}

	if dryRun {
		for _, c := range res.Chunks {
			fmt.Println(c.Path)
		}
		fmt.Printf("Would delete %d files (%.1f MB) from %d sessions older than %s.\n",
			res.Files, float64(res.Bytes)/(1<<20), res.Sessions, res.Cutoff.Local().Format("2006-01-02"))
		return
	}
	fmt.Printf("Deleted %d files (%.1f MB) from %d sessions older than %s.\n",
		res.Files, float64(res.Bytes)/(1<<20), res.Sessions, res.Cutoff.Local().Format("2006-01-02"))
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegors/nudge/internal/session"
	"github.com/yegors/nudge/internal/storage/sqlite"
)

func init() {
	cmd := &cobra.Command{
		Use:   "process [id]",
		Short: "Extract action items from a stopped session (default: the latest)",
		Args:  cobra.MaximumNArgs(1),
		Run:   runProcess,
	}

	RootCmd.AddCommand(cmd)
}

func runProcess(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd.Context(), appOptions{pipeline: true})
	defer a.Close()

	var (
		s   *sqlite.SessionRecord
		err error
	)
	if len(args) == 1 {
		s, err = a.store.FindSession(args[0])
	} else {
		s, err = a.store.LatestSession(sqlite.StateStopped, sqlite.StateFailed, sqlite.StateCompleted)
	}
	if err != nil {
		exitErr("find session", err)
	}

	res, err := a.manager.Process(cmd.Context(), s.ID)
	if err != nil {
		exitErr("process "+s.ID, err)
	}
	printProcessResult(res)
}

type processOutput struct {
	Session   *sqlite.SessionRecord      `json:"session"`
	Items     []*sqlite.ActionItemRecord `json:"action_items"`
	Added     int                        `json:"reminders_added"`
	Failed    int                        `json:"reminders_failed"`
	NotesPath string                     `json:"notes_path,omitempty"`
	Partial   bool                       `json:"partial"`
	Warnings  []string                   `json:"warnings,omitempty"`
}

func printProcessResult(res *session.ProcessResult) {
	out := processOutput{Session: res.Session, Items: res.Items, NotesPath: res.NotesPath}
	if res.Reminders != nil {
		out.Added = res.Reminders.Added
		out.Failed = res.Reminders.Failed
	}
	if res.Extraction != nil {
		out.Partial = res.Extraction.Partial()
	}
	for _, w := range res.Warnings {
		out.Warnings = append(out.Warnings, w.Error())
	}
	if out.Items == nil {
		out.Items = []*sqlite.ActionItemRecord{}
	}

	if jsonOutput() {
		printJSON(out)
		return
	}

	fmt.Printf("%s  %s  (%s)\n", res.Session.ID, res.Session.Title, res.Session.Duration().Round(time.Second))
	if len(res.Analysis.Summary) > 0 {
		fmt.Printf("\n%s\n", res.Analysis.Summary)
	}
	fmt.Printf("\nAction items: %d\n", len(out.Items))
	printItems(out.Items)
	if res.Reminders != nil {
		fmt.Printf("\nReminders added: %d, failed: %d\n", out.Added, out.Failed)
	}
	if out.NotesPath != "" {
		fmt.Printf("Notes: %s\n", out.NotesPath)
	}
	if out.Partial {
		fmt.Println("Warning: some transcript windows could not be analyzed; action items may be incomplete.")
	}
	for _, w := range out.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
}

func printItems(items []*sqlite.ActionItemRecord) {
	for i, it := range items {
		line := fmt.Sprintf("  %d. %s", i+1, it.Task)
		if it.Owner != "" {
			line += "  [" + it.Owner + "]"
		}
		if it.DueRaw != "" {
			line += "  due " + it.DueRaw
		}
		fmt.Printf("%s  (%.2f, %s)\n", line, it.Confidence, it.ReminderStatus)
	}
}

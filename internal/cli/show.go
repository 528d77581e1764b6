package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegors/nudge/internal/integrations/notes"
	"github.com/yegors/nudge/internal/storage/sqlite"
)

func init() {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session with its transcript and action items",
		Args:  cobra.ExactArgs(1),
		Run:   runShow,
	}

	cmd.Flags().Bool("no-transcript", false, "Omit the transcript")

	RootCmd.AddCommand(cmd)
}

type showOutput struct {
	Session  *sqlite.SessionRecord      `json:"session"`
	Items    []*sqlite.ActionItemRecord `json:"action_items"`
	Segments []*sqlite.SegmentRecord    `json:"segments,omitempty"`
}

func runShow(cmd *cobra.Command, args []string) {
	noTranscript, _ := cmd.Flags().GetBool("no-transcript")

	a := mustOpenApp(cmd.Context(), appOptions{})
	defer a.Close()

	s, err := a.store.FindSession(args[0])
	if err != nil {
		exitErr("find session", err)
	}
	items, err := a.store.ListActionItems(s.ID)
	if err != nil {
		exitErr("list action items", err)
	}
	var segments []*sqlite.SegmentRecord
	if !noTranscript {
		if segments, err = a.store.ListSegments(s.ID); err != nil {
			exitErr("list segments", err)
		}
	}

	if jsonOutput() {
		if items == nil {
			items = []*sqlite.ActionItemRecord{}
		}
		printJSON(showOutput{Session: s, Items: items, Segments: segments})
		return
	}

	fmt.Printf("%s\n", s.Title)
	fmt.Printf("  id:       %s\n", s.ID)
	fmt.Printf("  state:    %s\n", s.State)
	fmt.Printf("  created:  %s\n", s.CreatedAt.Local().Format("Mon 2006-01-02 15:04"))
	fmt.Printf("  duration: %s\n", s.Duration().Round(time.Second))
	if s.NotesPath != "" {
		fmt.Printf("  notes:    %s\n", s.NotesPath)
	}
	if s.LastError != "" {
		fmt.Printf("  error:    %s\n", s.LastError)
	}

	fmt.Printf("\nAction items: %d\n", len(items))
	printItems(items)

	if len(segments) > 0 {
		fmt.Printf("\nTranscript:\n%s", notes.FormatTranscript(segments))
	}
}

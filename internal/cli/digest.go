package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegors/nudge/internal/extraction"
	"github.com/yegors/nudge/internal/storage/sqlite"
)

const digestExcerptChars = 1500

func init() {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Summarize recent meetings",
		Args:  cobra.NoArgs,
		Run:   runDigest,
	}

	cmd.Flags().Int("days", 7, "Include meetings from the last N days")

	RootCmd.AddCommand(cmd)
}

type digestOutput struct {
	Since    time.Time         `json:"since"`
	Meetings int               `json:"meetings"`
	Digest   extraction.Digest `json:"digest"`
}

func runDigest(cmd *cobra.Command, args []string) {
	days, _ := cmd.Flags().GetInt("days")
	if days <= 0 {
		exitErr("digest", fmt.Errorf("--days must be positive"))
	}

	a := mustOpenApp(cmd.Context(), appOptions{pipeline: true})
	defer a.Close()

	since := time.Now().AddDate(0, 0, -days)
	sessions, err := a.store.ListSessions(sqlite.SessionFilter{States: []sqlite.SessionState{sqlite.StateCompleted}, Since: since})
	if err != nil {
		exitErr("list sessions", err)
	}

	var noteTexts []string
	for _, s := range sessions {
		items, err := a.store.ListActionItems(s.ID)
		if err != nil {
			exitErr("list action items", err)
		}
		transcript, err := a.store.Transcript(s.ID)
		if err != nil {
			exitErr("load transcript", err)
		}
		noteTexts = append(noteTexts, extraction.DigestNote(s, items, transcript, digestExcerptChars))
	}

	out := digestOutput{Since: since, Meetings: len(sessions)}
	if len(noteTexts) > 0 {
		out.Digest = a.analyzer.Digest(cmd.Context(), noteTexts)
	}

	if jsonOutput() {
		printJSON(out)
		return
	}

	if out.Meetings == 0 {
		fmt.Printf("No completed meetings in the last %d days.\n", days)
		return
	}
	fmt.Printf("Digest of %d meetings since %s\n", out.Meetings, since.Format("Mon Jan 2"))
	if out.Digest.Summary != "" {
		fmt.Printf("\n%s\n", out.Digest.Summary)
	}
	printList("Key themes", out.Digest.KeyThemes)
	printList("Critical actions", out.Digest.CriticalActions)
	printList("Wins", out.Digest.Wins)
}

func printList(heading string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", heading)
	for _, l := range lines {
		fmt.Printf("  • %s\n", l)
	}
}

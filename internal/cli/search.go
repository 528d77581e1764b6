package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yegors/nudge/internal/integrations/notes"
	"github.com/yegors/nudge/internal/storage/sqlite"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search transcripts across sessions",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	a := mustOpenApp(cmd.Context(), appOptions{})
	defer a.Close()

	hits, err := a.store.SearchSegments(query, limit)
	if err != nil {
		exitErr("search", err)
	}

	if jsonOutput() {
		if hits == nil {
			hits = []*sqlite.SearchHit{}
		}
		printJSON(hits)
		return
	}

	if len(hits) == 0 {
		fmt.Printf("No matches for %q.\n", query)
		return
	}
	last := ""
	for _, h := range hits {
		if h.SessionID != last {
			fmt.Printf("\n%s  %s  (%s)\n", h.CreatedAt.Local().Format("2006-01-02"), h.SessionTitle, h.SessionID)
			last = h.SessionID
		}
		fmt.Printf("  [%s] %s\n", notes.Timestamp(h.StartMs), h.Text)
	}
}

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegors/nudge/internal/storage/sqlite"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		Run:   runList,
	}

	cmd.Flags().StringP("state", "s", "", "Filter by state (comma-separated)")
	cmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	stateStr, _ := cmd.Flags().GetString("state")
	limit, _ := cmd.Flags().GetInt("limit")

	var states []sqlite.SessionState
	if stateStr != "" {
		for _, s := range strings.Split(stateStr, ",") {
			st := sqlite.SessionState(strings.TrimSpace(s))
			if !st.Valid() {
				exitErr("list", fmt.Errorf("unknown state %q", s))
			}
			states = append(states, st)
		}
	}

	a := mustOpenApp(cmd.Context(), appOptions{})
	defer a.Close()

	// Sessions whose recorder died show up as crashed.
	if _, err := a.manager.DetectCrashed(cmd.Context()); err != nil {
		exitErr("detect crashed sessions", err)
	}

	sessions, err := a.store.ListSessions(sqlite.SessionFilter{States: states, Limit: limit})
	if err != nil {
		exitErr("list", err)
	}

	if jsonOutput() {
		if sessions == nil {
			sessions = []*sqlite.SessionRecord{}
		}
		printJSON(sessions)
		return
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return
	}
	for _, s := range sessions {
		fmt.Printf("%s  %-10s  %s  %8s  %s\n",
			s.ID,
			s.State,
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
			s.Duration().Round(time.Second),
			s.Title)
	}
}

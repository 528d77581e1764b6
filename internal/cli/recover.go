package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yegors/nudge/internal/session"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recover [id]",
		Short: "Recover crashed sessions (default: all of them)",
		Args:  cobra.MaximumNArgs(1),
		Run:   runRecover,
	}

	cmd.Flags().BoolP("process", "p", true, "Process each session after recovering it")

	RootCmd.AddCommand(cmd)
}

func runRecover(cmd *cobra.Command, args []string) {
	process, _ := cmd.Flags().GetBool("process")

	a := mustOpenApp(cmd.Context(), appOptions{pipeline: true})
	defer a.Close()

	var (
		results []*session.RecoverResult
		err     error
	)
	if len(args) == 1 {
		s, ferr := a.store.FindSession(args[0])
		if ferr != nil {
			exitErr("find session", ferr)
		}
		var res *session.RecoverResult
		res, err = a.manager.Recover(cmd.Context(), s.ID, process)
		if res != nil {
			results = append(results, res)
		}
	} else {
		results, err = a.manager.RecoverAll(cmd.Context(), process)
	}

	if jsonOutput() {
		printJSON(results)
	} else {
		if len(results) == 0 && err == nil {
			fmt.Println("Nothing to recover.")
		}
		for _, r := range results {
			fmt.Printf("%s  %-10s  chunks %d (adopted %d, removed %d)  %s\n",
				r.Session.ID, r.Session.State, r.Chunks, r.Adopted, r.Removed, r.Session.Title)
			if r.Processed != nil {
				fmt.Printf("    action items: %d\n", len(r.Processed.Items))
			}
		}
	}
	if err != nil {
		exitErr("recover", err)
	}
}

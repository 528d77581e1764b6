package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yegors/nudge/internal/config"
)

func init() {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		Run:   runConfigShow,
	}
	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(getConfigPath())
		},
	}

	cmd.AddCommand(show, path)
	RootCmd.AddCommand(cmd)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		exitErr("load config", err)
	}
	out, err := cfg.YAML()
	if err != nil {
		exitErr("render config", err)
	}
	fmt.Print(string(out))
}

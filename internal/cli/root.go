// Package cli implements the nudge commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yegors/nudge/internal/config"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:     "nudge",
	Short:   "Record meetings and turn them into action items",
	Long:    "nudge records a meeting, transcribes it as it goes, extracts action items and hands them to your reminders and notes.",
	Version: Version,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $NUDGE_CONFIG or ~/.nudge/config.toml)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "text", "Output format: text or json")
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("NUDGE_CONFIG"); env != "" {
		return env
	}
	return config.DefaultPath()
}

func jsonOutput() bool {
	return strings.EqualFold(formatFlag, "json")
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

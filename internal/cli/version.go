package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"stock-price-alerts/internal/version"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	// Skips config loading so version works without a config file.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if versionShort {
			fmt.Fprintln(out, version.Version)
			return
		}
		fmt.Fprintf(out, "version: %s\ncommit: %s\nbuilt: %s\ngo: %s\nuser-agent: %s\n",
			version.Version, version.Commit, version.BuildDate, runtime.Version(), version.UserAgent())
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version string")
}

package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the alert service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run a single evaluation cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().EvaluateOnce(cmd.Context())
	},
}

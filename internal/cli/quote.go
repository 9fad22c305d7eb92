package cli

import (
	"github.com/spf13/cobra"
)

var quoteCmd = &cobra.Command{
	Use:   "quote SYMBOL",
	Short: "Resolve the current quote for a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Quote(cmd.Context(), args[0])
	},
}

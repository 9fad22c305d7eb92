package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var importAlertsCmd = &cobra.Command{
	Use:   "import-alerts FILE",
	Short: "Create alerts from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		created, err := getApp().ImportAlerts(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d alerts\n", len(created))
		return nil
	},
}

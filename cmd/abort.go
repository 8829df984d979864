package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abort the test run currently executing on the backend",
		Long: `Asks the backend to cancel whatever its test runner is currently
executing. The affected run and its remaining tests end up CANCELLED.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			detail, err := client.Abort(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(theme.Success(detail))
			return nil
		},
	}
}

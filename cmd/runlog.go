package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func newRunLogCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "runlog <run-id>",
		Short: "Download the execution log of a test run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}

			client := newClient()
			log, err := client.RunLog(cmd.Context(), id)
			if err != nil {
				return err
			}

			if output == "" {
				fmt.Print(log)
				return nil
			}
			if err := os.WriteFile(output, []byte(log), 0o644); err != nil {
				return fmt.Errorf("writing log file: %w", err)
			}
			fmt.Println(theme.Success(fmt.Sprintf("Log for run %d written to %q", id, output)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the log to a file instead of stdout")
	return cmd
}

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		asJSON bool
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the backend test runner status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()

			if watch {
				model := newStatusWatchModel(client, theme)
				_, err := tea.NewProgram(model, tea.WithContext(cmd.Context())).Run()
				return err
			}

			status, err := client.RunnerStatus(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			line := fmt.Sprintf("Test runner status: %s", theme.RunnerState(status.State))
			if status.TestRunExecutionID != nil {
				line += fmt.Sprintf(" (run %d)", *status.TestRunExecutionID)
			}
			fmt.Println(line)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status as JSON")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep polling and show a live status view")

	return cmd
}

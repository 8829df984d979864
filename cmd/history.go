package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		skip   int
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past test run executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			runs, err := client.RunHistory(cmd.Context(), skip, limit)
			if err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(runs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(runs) == 0 {
				fmt.Println("No test run executions found")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"ID", "TITLE", "STATE", "ERROR"})
			for _, run := range runs {
				t.AppendRow(table.Row{run.ID, run.Title, strings.ToUpper(run.State), run.Error})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&skip, "skip", 0, "number of runs to skip")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw history JSON")
	return cmd
}

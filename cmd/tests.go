package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"certctl/internal/execution"
)

func newTestsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tests",
		Short: "List the test cases available on the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			collections, err := client.TestCollections(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(collections, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(collections.TestCollections) == 0 {
				fmt.Println("No test collections available")
				return nil
			}

			collectionNames := sortedKeys(collections.TestCollections)
			for _, collectionName := range collectionNames {
				collection := collections.TestCollections[collectionName]
				fmt.Println(theme.Node(execution.LevelRun, collectionName))

				for _, suiteID := range sortedKeys(collection.TestSuites) {
					suite := collection.TestSuites[suiteID]
					fmt.Printf("  - %s\n", theme.Node(execution.LevelSuite, suiteID))

					for _, caseID := range sortedKeys(suite.TestCases) {
						fmt.Printf("      - %s\n", theme.Node(execution.LevelCase, caseID))
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw collections JSON")
	return cmd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"certctl/internal/api"
)

var projectNamePattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-_]+$`)

func validateProjectName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("project name cannot be empty")
	}
	if len(name) > 100 {
		return "", fmt.Errorf("project name cannot exceed 100 characters")
	}
	if !projectNamePattern.MatchString(name) {
		return "", fmt.Errorf("project name can only contain letters, numbers, spaces, hyphens and underscores")
	}
	return name, nil
}

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage backend projects",
	}

	cmd.AddCommand(newProjectsListCmd())
	cmd.AddCommand(newProjectsCreateCmd())
	cmd.AddCommand(newProjectsUpdateCmd())
	cmd.AddCommand(newProjectsDeleteCmd())

	return cmd
}

func newProjectsListCmd() *cobra.Command {
	var id int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, or show one by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			projects, err := client.Projects(cmd.Context(), id)
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Println("No projects found")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"ID", "NAME", "CREATED"})
			for _, p := range projects {
				created := ""
				if p.CreatedAt != nil {
					created = p.CreatedAt.Format("2006-01-02 15:04:05")
				}
				t.AppendRow(table.Row{p.ID, p.Name, created})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&id, "id", 0, "show a single project by id")
	return cmd
}

// loadProjectConfig reads the optional project config payload from an
// inline JSON string or a JSON file.
func loadProjectConfig(inline, path string) (map[string]any, error) {
	var raw []byte
	switch {
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading project config: %w", err)
		}
		raw = data
	case inline != "":
		raw = []byte(inline)
	default:
		return nil, nil
	}

	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing project config: %w", err)
	}
	return cfg, nil
}

func newProjectsCreateCmd() *cobra.Command {
	var configJSON, configFile string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := validateProjectName(args[0])
			if err != nil {
				return err
			}
			projectConfig, err := loadProjectConfig(configJSON, configFile)
			if err != nil {
				return err
			}

			client := newClient()
			project, err := client.CreateProject(cmd.Context(), api.ProjectCreate{Name: name, Config: projectConfig})
			if err != nil {
				return err
			}
			fmt.Println(theme.Success(fmt.Sprintf("Created project %q with id %d", project.Name, project.ID)))
			return nil
		},
	}

	cmd.Flags().StringVar(&configJSON, "config-json", "", "project config as inline JSON")
	cmd.Flags().StringVar(&configFile, "config-file", "", "project config JSON file")
	return cmd
}

func newProjectsUpdateCmd() *cobra.Command {
	var configJSON, configFile string

	cmd := &cobra.Command{
		Use:   "update <id> <name>",
		Short: "Update a project's name and config",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid project id %q", args[0])
			}
			name, err := validateProjectName(args[1])
			if err != nil {
				return err
			}
			projectConfig, err := loadProjectConfig(configJSON, configFile)
			if err != nil {
				return err
			}

			client := newClient()
			project, err := client.UpdateProject(cmd.Context(), id, api.ProjectCreate{Name: name, Config: projectConfig})
			if err != nil {
				return err
			}
			fmt.Println(theme.Success(fmt.Sprintf("Updated project %d (%s)", project.ID, project.Name)))
			return nil
		},
	}

	cmd.Flags().StringVar(&configJSON, "config-json", "", "project config as inline JSON")
	cmd.Flags().StringVar(&configFile, "config-file", "", "project config JSON file")
	return cmd
}

func newProjectsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid project id %q", args[0])
			}

			client := newClient()
			if err := client.DeleteProject(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Println(theme.Success(fmt.Sprintf("Deleted project %d", id)))
			return nil
		},
	}
}

package cmd

import (
	"testing"
)

func TestRootCommandWiring(t *testing.T) {
	expected := []string{
		"run", "abort", "status", "projects", "tests",
		"history", "runlog", "version", "self-update",
	}

	registered := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}

	for _, name := range expected {
		if !registered[name] {
			t.Errorf("Expected command %q to be registered on the root command", name)
		}
	}
}

func TestRootPersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "hostname", "no-color", "verbose"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("Expected persistent flag %q to be defined", name)
		}
	}
}

func TestRunCommandFlags(t *testing.T) {
	runCmd := newRunCmd()

	for _, name := range []string{"project-id", "title", "tests-list", "selected-tests", "file"} {
		if runCmd.Flags().Lookup(name) == nil {
			t.Errorf("Expected run command flag %q to be defined", name)
		}
	}
}

func TestValidateProjectName(t *testing.T) {
	valid := []string{"matter-lab", "Lab 01", "a_b-c 3"}
	for _, name := range valid {
		if _, err := validateProjectName(name); err != nil {
			t.Errorf("Expected %q to be a valid project name, got: %v", name, err)
		}
	}

	invalid := []string{"", "   ", "bad;name", "name/with/slashes"}
	for _, name := range invalid {
		if _, err := validateProjectName(name); err == nil {
			t.Errorf("Expected %q to be rejected", name)
		}
	}
}

func TestValidateProjectNameTrims(t *testing.T) {
	name, err := validateProjectName("  matter-lab  ")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if name != "matter-lab" {
		t.Errorf("Expected trimmed name, got %q", name)
	}
}

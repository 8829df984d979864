package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"certctl/internal/api"
	"certctl/internal/monitor"
	"certctl/internal/render"
	"certctl/internal/selection"
	"certctl/internal/stream"
	"certctl/pkg/logging"
)

func newRunCmd() *cobra.Command {
	var (
		projectID     int
		title         string
		testsList     string
		selectedTests string
		selectionFile string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a new test run from selected tests and monitor it",
		Long: `Creates a test run on the backend from the selected tests, starts it
and mirrors its execution over the live feed until it finishes.

The exit code reflects the outcome: 0 when the run passed (or was not
applicable), 1 when it failed, 2 on execution errors, 3 when it was
cancelled or aborted, and 4 when the connection to the backend was lost
for good.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				title = time.Now().Format("2006-01-02-15:04:05")
			}
			return runTests(cmd.Context(), projectID, title, testsList, selectedTests, selectionFile)
		},
	}

	cmd.Flags().IntVarP(&projectID, "project-id", "i", 0, "project ID that this test run belongs to")
	cmd.Flags().StringVarP(&title, "title", "n", "", "name of the test run execution (default: timestamp)")
	cmd.Flags().StringVarP(&testsList, "tests-list", "t", "", "comma separated test cases to execute, e.g. TC-ACE-1.1,TC_ACE_1_3")
	cmd.Flags().StringVarP(&selectedTests, "selected-tests", "s", "", `JSON selection: '{"collection":{"suite":{"case": <iterations>}}}'`)
	cmd.Flags().StringVarP(&selectionFile, "file", "f", "", "selection file location (JSON or YAML)")
	cmd.MarkFlagRequired("project-id")

	return cmd
}

func runTests(ctx context.Context, projectID int, title, testsList, selectedTests, selectionFile string) error {
	client := newClient()

	sel, err := resolveSelection(ctx, client, testsList, selectedTests, selectionFile)
	if err != nil {
		return err
	}

	pretty, _ := json.MarshalIndent(sel, "", "  ")
	fmt.Printf("Selected tests: %s\n", pretty)

	runLog, err := logging.OpenRunLog(cfg.LogDir, title)
	if err != nil {
		return err
	}
	defer runLog.Close()

	fmt.Printf("Creating new test run with title: %s\n", title)
	run, err := client.CreateRun(ctx, api.RunCreate{Title: title, ProjectID: projectID}, sel)
	if err != nil {
		return err
	}

	fmt.Printf("Starting Test run: Title: %s, id: %d\n", run.Title, run.ID)
	started, err := client.StartRun(ctx, run.ID)
	if err != nil {
		return err
	}

	renderer := render.NewRenderer(os.Stdout, theme)
	mon := monitor.New(monitor.Config{
		Stream: stream.Config{
			FeedURL:             client.FeedURL(),
			HeartbeatTimeout:    cfg.HeartbeatTimeout,
			MaxReconnects:       cfg.MaxReconnects,
			MaxReconnectElapsed: cfg.MaxReconnectElapsed,
		},
		AbortTimeout: cfg.AbortTimeout,
	}, started.ID, client, renderer, runLog)

	// First interrupt requests a backend-side abort and waits for the
	// cancellation cascade; a second one exits immediately.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		go mon.Abort(context.Background())
		<-sigCh
		os.Exit(monitor.ExitAborted)
	}()

	code, runErr := mon.Run(ctx, started)

	if snapshot := mon.Store().Snapshot(); snapshot != nil {
		render.WriteSummary(os.Stdout, theme, snapshot.Summarize(), mon.Store().Metrics().Anomalies())
	}
	fmt.Printf("Log output in: %q\n", runLog.Path())

	if code != 0 {
		msg := ""
		if runErr != nil {
			msg = runErr.Error()
		}
		return &exitError{code: code, msg: msg}
	}
	return nil
}

// resolveSelection turns exactly one of the three selection inputs into
// the backend payload.
func resolveSelection(ctx context.Context, client *api.Client, testsList, selectedTests, selectionFile string) (api.TestSelection, error) {
	switch {
	case testsList != "":
		ids, err := selection.ParseTestIDs(testsList)
		if err != nil {
			return nil, err
		}
		collections, err := client.TestCollections(ctx)
		if err != nil {
			return nil, err
		}
		return selection.Build(collections, ids)
	case selectionFile != "":
		return selection.LoadFile(selectionFile)
	case selectedTests != "":
		return selection.ParseInline(selectedTests)
	}
	return nil, fmt.Errorf("one of --tests-list, --selected-tests or --file is required")
}

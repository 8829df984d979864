package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"certctl/internal/execution"
)

// WriteSummary prints the end-of-run report: per-level tallies, the
// terminal run state and any anomaly count recorded while monitoring.
func WriteSummary(out io.Writer, theme Theme, sum execution.Summary, anomalies int64) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, theme.Header("Test Run Summary"))

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"LEVEL", "PASSED", "FAILED", "ERROR", "CANCELLED", "N/A", "PENDING", "TOTAL"})
	t.AppendRow(countsRow("Suites", sum.Suites))
	t.AppendRow(countsRow("Cases", sum.Cases))
	t.AppendRow(countsRow("Steps", sum.Steps))
	t.Render()

	stateLine := fmt.Sprintf("Run state: %s", strings.ToUpper(string(sum.RunState)))
	switch sum.RunState {
	case execution.StatePassed, execution.StateNotApplicable:
		fmt.Fprintln(out, theme.Success(stateLine))
	default:
		fmt.Fprintln(out, theme.Failure(stateLine))
	}

	if anomalies > 0 {
		fmt.Fprintln(out, theme.Secondary(fmt.Sprintf("Anomalies observed while monitoring: %d (see run log)", anomalies)))
	}
}

func countsRow(label string, c execution.Counts) table.Row {
	return table.Row{label, c.Passed, c.Failed, c.Errored, c.Cancelled, c.NotApplicable, c.Pending, c.Total()}
}

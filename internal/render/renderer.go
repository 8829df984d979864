package render

import (
	"fmt"
	"io"

	"github.com/mattn/go-runewidth"

	"certctl/internal/execution"
)

// Indentation per hierarchy level, fixed so live output lines up into a
// readable tree without cursor addressing.
const (
	suitePrefix  = "  - "
	casePrefix   = "      - "
	stepPrefix   = "            - "
	detailIndent = "              "
)

// Step titles coming off the feed can be whole prompt paragraphs; clamp
// them so a single update cannot wrap the tree across several lines.
const maxTitleWidth = 96

func clampTitle(title string) string {
	return runewidth.Truncate(title, maxTitleWidth, "…")
}

// Renderer writes the append-only live view of a monitored run. It must
// be fed notifications in emission order; it never reorders or drops.
type Renderer struct {
	out   io.Writer
	theme Theme
}

// NewRenderer builds a renderer writing to out.
func NewRenderer(out io.Writer, theme Theme) *Renderer {
	return &Renderer{out: out, theme: theme}
}

// Notify prints one state change as a tree line.
func (r *Renderer) Notify(n execution.ChangeNotification) {
	state := r.theme.StateTag(n.NewState)
	n.Title = clampTitle(n.Title)

	switch n.Level {
	case execution.LevelRun:
		fmt.Fprintf(r.out, "%s %s\n", r.theme.Node(execution.LevelRun, "Test Run"), state)
	case execution.LevelSuite:
		fmt.Fprintf(r.out, "%s%s %s\n", suitePrefix, r.theme.Node(execution.LevelSuite, n.Title), state)
	case execution.LevelCase:
		fmt.Fprintf(r.out, "%s%s %s\n", casePrefix, r.theme.Node(execution.LevelCase, n.Title), state)
	case execution.LevelStep:
		fmt.Fprintf(r.out, "%s%s %s\n", stepPrefix, r.theme.Node(execution.LevelStep, n.Title), state)
	}

	for _, failure := range n.Failures {
		fmt.Fprintf(r.out, "%s%s\n", detailIndent, r.theme.Failure("failure: "+failure))
	}
	for _, errMsg := range n.Errors {
		fmt.Fprintf(r.out, "%s%s\n", detailIndent, r.theme.Failure("error: "+errMsg))
	}
}

// Resynced marks a post-reconnect snapshot refresh in the output, so the
// repeated tree lines that follow are attributable.
func (r *Renderer) Resynced(runID int) {
	fmt.Fprintln(r.out, r.theme.Secondary(fmt.Sprintf("-- reconnected, resynchronized run %d --", runID)))
}

// Notice prints a one-off informational line between tree lines.
func (r *Renderer) Notice(text string) {
	fmt.Fprintln(r.out, r.theme.Secondary(text))
}

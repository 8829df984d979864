// Package render turns execution-state changes into terminal output: the
// append-only live view, colored state tags and the end-of-run summary.
package render

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"certctl/internal/execution"
)

// Theme holds the styles applied to states and hierarchy levels. A zero
// value renders everything unstyled.
type Theme struct {
	enabled   bool
	states    map[execution.TestState]lipgloss.Style
	levels    map[execution.Level]lipgloss.Style
	runner    map[string]lipgloss.Style
	success   lipgloss.Style
	failure   lipgloss.Style
	secondary lipgloss.Style
	header    lipgloss.Style
}

// NewTheme builds the color theme. Colors are suppressed when noColor is
// set, NO_COLOR is present in the environment, or the terminal does not
// report color support.
func NewTheme(noColor bool) Theme {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return Theme{}
	}
	if termenv.NewOutput(os.Stdout).ColorProfile() == termenv.Ascii {
		return Theme{}
	}

	bold := func(c string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Bold(true)
	}
	plain := func(c string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(c))
	}

	return Theme{
		enabled: true,
		states: map[execution.TestState]lipgloss.Style{
			execution.StatePassed:        bold("2"),
			execution.StateFailed:        bold("1"),
			execution.StateError:         bold("1"),
			execution.StateCancelled:     bold("9"),
			execution.StateExecuting:     bold("3"),
			execution.StatePending:       bold("15"),
			execution.StateNotApplicable: bold("8"),
		},
		levels: map[execution.Level]lipgloss.Style{
			execution.LevelRun:   plain("4"),
			execution.LevelSuite: plain("5"),
			execution.LevelCase:  plain("6"),
			execution.LevelStep:  plain("8"),
		},
		runner: map[string]lipgloss.Style{
			"idle":    bold("8"),
			"ready":   bold("2"),
			"loading": bold("3"),
			"running": bold("1"),
		},
		success:   bold("2"),
		failure:   bold("1"),
		secondary: plain("8"),
		header:    bold("12").Underline(true),
	}
}

// StateTag renders the bracketed, uppercased state marker.
func (t Theme) StateTag(state execution.TestState) string {
	tag := "[" + strings.ToUpper(string(state)) + "]"
	if !t.enabled {
		return tag
	}
	style, ok := t.states[state]
	if !ok {
		return tag
	}
	return style.Render(tag)
}

// Node renders a node title in its hierarchy-level color.
func (t Theme) Node(level execution.Level, text string) string {
	if !t.enabled {
		return text
	}
	style, ok := t.levels[level]
	if !ok {
		return text
	}
	return style.Render(text)
}

// RunnerState renders the backend runner state for the status command.
func (t Theme) RunnerState(state string) string {
	text := strings.ToUpper(state)
	if !t.enabled {
		return text
	}
	style, ok := t.runner[strings.ToLower(state)]
	if !ok {
		return text
	}
	return style.Render(text)
}

// Success renders a positive outcome message.
func (t Theme) Success(text string) string {
	if !t.enabled {
		return text
	}
	return t.success.Render(text)
}

// Failure renders a negative outcome message.
func (t Theme) Failure(text string) string {
	if !t.enabled {
		return text
	}
	return t.failure.Render(text)
}

// Secondary renders de-emphasized detail text.
func (t Theme) Secondary(text string) string {
	if !t.enabled {
		return text
	}
	return t.secondary.Render(text)
}

// Header renders a section header.
func (t Theme) Header(text string) string {
	if !t.enabled {
		return text
	}
	return t.header.Render(text)
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"certctl/internal/api"
	"certctl/internal/render"
)

const statusPollInterval = 2 * time.Second

type statusMsg struct {
	status *api.RunnerStatus
}

type statusErrMsg struct {
	err error
}

type pollTickMsg struct{}

// statusWatchModel is the live view behind `status --watch`: a spinner
// plus the most recent runner state, refreshed on a fixed interval.
type statusWatchModel struct {
	client  *api.Client
	theme   render.Theme
	spinner spinner.Model
	status  *api.RunnerStatus
	err     error
}

func newStatusWatchModel(client *api.Client, theme render.Theme) statusWatchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return statusWatchModel{
		client:  client,
		theme:   theme,
		spinner: sp,
	}
}

// Init implements tea.Model.
func (m statusWatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

func (m statusWatchModel) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), statusPollInterval)
		defer cancel()
		status, err := m.client.RunnerStatus(ctx)
		if err != nil {
			return statusErrMsg{err: err}
		}
		return statusMsg{status: status}
	}
}

func scheduleNextPoll() tea.Cmd {
	return tea.Tick(statusPollInterval, func(time.Time) tea.Msg {
		return pollTickMsg{}
	})
}

// Update implements tea.Model.
func (m statusWatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case statusMsg:
		m.status = msg.status
		m.err = nil
		return m, scheduleNextPoll()

	case statusErrMsg:
		m.err = msg.err
		return m, scheduleNextPoll()

	case pollTickMsg:
		return m, m.poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m statusWatchModel) View() string {
	view := m.spinner.View() + " "

	switch {
	case m.err != nil:
		view += m.theme.Failure(fmt.Sprintf("backend unreachable: %v", m.err))
	case m.status == nil:
		view += m.theme.Secondary("querying test runner status...")
	default:
		view += "Test runner status: " + m.theme.RunnerState(m.status.State)
		if m.status.TestRunExecutionID != nil {
			view += fmt.Sprintf(" (run %d)", *m.status.TestRunExecutionID)
		}
	}

	return view + m.theme.Secondary("\npress q to quit\n")
}

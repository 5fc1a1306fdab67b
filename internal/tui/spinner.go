package tui

import (
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type spinDoneMsg struct{ err error }

type spinnerModel struct {
	spinner spinner.Model
	message string
	done    bool
	err     error
}

func newSpinnerModel(message string) spinnerModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0f766e", Dark: "#2dd4bf"})),
	)
	return spinnerModel{spinner: s, message: message}
}

func (m spinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinDoneMsg:
		m.done, m.err = true, msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.done, m.err = true, ErrCanceled
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + m.message + "\n"
}

// Spin shows message next to a spinner on stderr until fn returns.
func Spin(message string, fn func() error) error {
	p := tea.NewProgram(newSpinnerModel(message), tea.WithOutput(os.Stderr))
	go func() { p.Send(spinDoneMsg{err: fn()}) }()

	final, err := p.Run()
	if err != nil {
		return err
	}
	return final.(spinnerModel).err
}

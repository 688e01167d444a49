// Package tui provides the interactive terminal prompts of budgetsync
package tui

import (
	"strconv"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// Option is one answer of a prompt
type Option struct {
	Label       string
	Description string
	Value       string
}

// Prompt is a question with a fixed set of answers
type Prompt struct {
	Title   string
	Body    string
	Options []Option
}

// Model is the bubbletea model of a single choice prompt
type Model struct {
	prompt   Prompt
	cursor   int
	chosen   string
	done     bool
	canceled bool

	width    int
	help     help.Model
	showHelp bool
	styles   Styles
}

// NewModel creates a prompt model. The cursor starts on the first option.
func NewModel(p Prompt) Model {
	h := help.New()
	h.ShowAll = false

	return Model{
		prompt: p,
		width:  defaultWidth,
		help:   h,
		styles: DefaultStyles(),
	}
}

const defaultWidth = 72

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, Keys.Quit):
			m.done = true
			m.canceled = true
			return m, tea.Quit

		case key.Matches(msg, Keys.Help):
			m.showHelp = !m.showHelp
			m.help.ShowAll = m.showHelp
			return m, nil

		case key.Matches(msg, Keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil

		case key.Matches(msg, Keys.Down):
			if m.cursor < len(m.prompt.Options)-1 {
				m.cursor++
			}
			return m, nil

		case key.Matches(msg, Keys.Select):
			return m.choose(m.cursor)
		}

		// 1-9 picks an option directly
		if n, err := strconv.Atoi(msg.String()); err == nil && n >= 1 && n <= len(m.prompt.Options) {
			return m.choose(n - 1)
		}
	}

	return m, nil
}

func (m Model) choose(i int) (tea.Model, tea.Cmd) {
	if i < 0 || i >= len(m.prompt.Options) {
		return m, nil
	}
	m.cursor = i
	m.chosen = m.prompt.Options[i].Value
	m.done = true
	return m, tea.Quit
}

// Result returns the chosen value. ok is false when the prompt was
// dismissed without an answer.
func (m Model) Result() (value string, ok bool) {
	if m.canceled || !m.done {
		return "", false
	}
	return m.chosen, true
}

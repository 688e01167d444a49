package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

// View implements tea.Model
func (m Model) View() string {
	if m.done {
		return ""
	}

	width := m.width - 6
	if width < 20 {
		width = 20
	}

	var sb strings.Builder
	for i, opt := range m.prompt.Options {
		cursor := "  "
		label := m.styles.Option.Render(fmt.Sprintf("%d. %s", i+1, opt.Label))
		if i == m.cursor {
			cursor = m.styles.Cursor.Render("› ")
			label = m.styles.Selected.Render(fmt.Sprintf("%d. %s", i+1, opt.Label))
		}
		sb.WriteString(cursor + label + "\n")
		if opt.Description != "" {
			sb.WriteString(m.styles.Description.Render(wordwrap.String(opt.Description, width-4)) + "\n")
		}
	}

	parts := []string{m.styles.Title.Render(m.prompt.Title)}
	if m.prompt.Body != "" {
		parts = append(parts, "", m.styles.Body.Render(wordwrap.String(m.prompt.Body, width)))
	}
	parts = append(parts, "", strings.TrimRight(sb.String(), "\n"))

	box := m.styles.Box.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))

	footer := m.help.ShortHelpView(Keys.ShortHelp())
	if m.showHelp {
		footer = m.help.View(Keys)
	}

	return lipgloss.JoinVertical(lipgloss.Left, box, footer) + "\n"
}

package tui

import "github.com/charmbracelet/lipgloss"

// Theme represents the color theme for prompts
type Theme struct {
	Primary   lipgloss.AdaptiveColor
	Secondary lipgloss.AdaptiveColor
	Warning   lipgloss.AdaptiveColor
	Border    lipgloss.AdaptiveColor
	Text      lipgloss.AdaptiveColor
	TextDim   lipgloss.AdaptiveColor
}

// GruvboxTheme creates a new Gruvbox-inspired theme
func GruvboxTheme() Theme {
	return Theme{
		Primary:   lipgloss.AdaptiveColor{Light: "#98971a", Dark: "#b8bb26"},
		Secondary: lipgloss.AdaptiveColor{Light: "#af3a03", Dark: "#fe8019"},
		Warning:   lipgloss.AdaptiveColor{Light: "#d79921", Dark: "#fabd2f"},
		Border:    lipgloss.AdaptiveColor{Light: "#d5c4a1", Dark: "#504945"},
		Text:      lipgloss.AdaptiveColor{Light: "#3c3836", Dark: "#fbf1c7"},
		TextDim:   lipgloss.AdaptiveColor{Light: "#7c6f64", Dark: "#a89984"},
	}
}

// DefaultTheme is the default theme for prompts
var DefaultTheme = GruvboxTheme()

// Styles contains predefined styles for prompts
type Styles struct {
	Title       lipgloss.Style
	Body        lipgloss.Style
	Subtle      lipgloss.Style
	Cursor      lipgloss.Style
	Selected    lipgloss.Style
	Option      lipgloss.Style
	Description lipgloss.Style
	Box         lipgloss.Style
}

// DefaultStyles returns default styles for prompts
func DefaultStyles() Styles {
	theme := DefaultTheme
	return Styles{
		Title:       lipgloss.NewStyle().Bold(true).Foreground(theme.Primary),
		Body:        lipgloss.NewStyle().Foreground(theme.Text),
		Subtle:      lipgloss.NewStyle().Foreground(theme.TextDim),
		Cursor:      lipgloss.NewStyle().Bold(true).Foreground(theme.Secondary),
		Selected:    lipgloss.NewStyle().Bold(true).Foreground(theme.Secondary),
		Option:      lipgloss.NewStyle().Foreground(theme.Text),
		Description: lipgloss.NewStyle().Foreground(theme.TextDim).PaddingLeft(4),
		Box:         lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(theme.Border).Padding(1, 2),
	}
}

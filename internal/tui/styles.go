package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorPrimary    = lipgloss.Color("#00d7af")
	ColorPrimaryDim = lipgloss.Color("#008770")
	ColorRed        = lipgloss.Color("#ff4f4f")
	ColorMuted      = lipgloss.Color("#808080")
	ColorDim        = lipgloss.Color("#444444")
)

var (
	TitleStyle = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	TextMuted  = lipgloss.NewStyle().Foreground(ColorMuted)
	TextDim    = lipgloss.NewStyle().Foreground(ColorDim)
	KeyStyle   = lipgloss.NewStyle().Foreground(ColorPrimaryDim)
	AlarmStyle = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
)

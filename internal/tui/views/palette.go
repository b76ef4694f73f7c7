package views

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

var (
	colorPrimary    = lipgloss.Color("#00d7af")
	colorPrimaryDim = lipgloss.Color("#008770")
	colorAmber      = lipgloss.Color("#ffaf00")
	colorRed        = lipgloss.Color("#ff4f4f")
	colorCyan       = lipgloss.Color("#5fafff")
	colorText       = lipgloss.Color("#e4e4e4")
	colorMuted      = lipgloss.Color("#808080")
	colorDim        = lipgloss.Color("#444444")
	colorSelectBg   = lipgloss.Color("#003a30")
	colorPanelBg    = lipgloss.Color("#0b1412")
)

func levelStyle(level domain.AlertLevel) lipgloss.Style {
	switch level {
	case domain.AlertLevelCritical:
		return lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	case domain.AlertLevelWarning:
		return lipgloss.NewStyle().Foreground(colorAmber).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(colorCyan)
	}
}

func levelTag(level domain.AlertLevel) string {
	switch level {
	case domain.AlertLevelCritical:
		return "CRT"
	case domain.AlertLevelWarning:
		return "WRN"
	default:
		return "INF"
	}
}

// scoreStyle colors an anomaly score on the same bands as alert levels.
func scoreStyle(score float64) lipgloss.Style {
	return levelStyle((&domain.Alert{Score: score}).Level())
}

func padRight(s string, n int) string {
	if w := lipgloss.Width(s); w < n {
		return s + strings.Repeat(" ", n-w)
	}
	return s
}

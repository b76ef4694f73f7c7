package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/pkg/sanitize"
)

const ipColumn = 22

// AlertList renders the recent alert feed, newest on top. Selection indexes
// into Alerts, which is ordered oldest first.
type AlertList struct {
	Alerts        []*domain.Alert
	VisibleCount  int
	Width         int
	SelectedIndex int

	end int // exclusive end of the drawn window, 0 = follow newest
}

func NewAlertList(visibleCount int) *AlertList {
	return &AlertList{VisibleCount: visibleCount, Width: 100, SelectedIndex: -1}
}

// Update replaces the feed. A selection at the newest alert follows new
// arrivals; any other selection keeps pointing at the same alert.
func (a *AlertList) Update(alerts []*domain.Alert) {
	var selected *domain.Alert
	following := a.SelectedIndex < 0 || a.SelectedIndex == len(a.Alerts)-1
	if !following {
		selected = a.GetSelected()
	}
	a.Alerts = alerts
	if following || selected == nil {
		a.SelectedIndex = len(alerts) - 1
		a.end = 0
		return
	}
	a.SelectedIndex = len(alerts) - 1
	for i, al := range alerts {
		if al.ID == selected.ID {
			a.SelectedIndex = i
			return
		}
	}
}

// ScrollUp moves the selection towards newer alerts (up the screen).
func (a *AlertList) ScrollUp() {
	if a.SelectedIndex < len(a.Alerts)-1 {
		a.SelectedIndex++
	}
}

func (a *AlertList) ScrollDown() {
	if a.SelectedIndex > 0 {
		a.SelectedIndex--
	}
}

func (a *AlertList) GetSelected() *domain.Alert {
	if a.SelectedIndex >= 0 && a.SelectedIndex < len(a.Alerts) {
		return a.Alerts[a.SelectedIndex]
	}
	return nil
}

// window returns the [start, end) slice of Alerts to draw. The window only
// moves when the selection leaves it.
func (a *AlertList) window() (int, int) {
	n := len(a.Alerts)
	if a.VisibleCount <= 0 || n <= a.VisibleCount {
		a.end = n
		return 0, n
	}
	if a.end <= 0 || a.end > n {
		a.end = n
	}
	if a.SelectedIndex >= a.end {
		a.end = a.SelectedIndex + 1
	}
	if a.SelectedIndex >= 0 && a.SelectedIndex < a.end-a.VisibleCount {
		a.end = a.SelectedIndex + a.VisibleCount
	}
	if a.end < a.VisibleCount {
		a.end = a.VisibleCount
	}
	return a.end - a.VisibleCount, a.end
}

func (a *AlertList) Render() string {
	dim := lipgloss.NewStyle().Foreground(colorDim)
	muted := lipgloss.NewStyle().Foreground(colorMuted)
	text := lipgloss.NewStyle().Foreground(colorText)
	selected := lipgloss.NewStyle().Background(colorSelectBg).Foreground(colorPrimary)

	if len(a.Alerts) == 0 {
		return dim.Italic(true).Render("  No alerts")
	}

	lines := []string{
		muted.Bold(true).Render(fmt.Sprintf("  %-8s  %-3s  %-22s  %-5s  %-6s  %s",
			"TIME", "LVL", "SOURCE", "SCORE", "ORIGIN", "DETAILS")),
		dim.Render("  " + strings.Repeat("─", max(a.Width-4, 10))),
	}

	start, end := a.window()
	for i := end - 1; i >= start; i-- {
		al := a.Alerts[i]
		isSelected := i == a.SelectedIndex
		prefix := "  "
		ipStyle := text
		if isSelected {
			prefix = "▶ "
			ipStyle = selected.Bold(true)
		}

		level := al.Level()
		ip := sanitize.Address(al.SourceIP)
		if ip == sanitize.InvalidAddress {
			ip = sanitize.Line(al.SourceIP, ipColumn)
		}
		ip = sanitize.Truncate(ip, ipColumn)

		origin := string(al.Origin)
		if _, failed := al.Details["block_error"]; failed {
			origin += "!"
		}

		maxDetail := a.Width - 64
		if maxDetail < 10 {
			maxDetail = 10
		}

		lines = append(lines, fmt.Sprintf("%s%s  %s  %s  %s  %s  %s",
			prefix,
			dim.Render(al.CreatedAt.Local().Format("15:04:05")),
			levelStyle(level).Render(levelTag(level)),
			ipStyle.Render(padRight(ip, ipColumn)),
			scoreStyle(al.Score).Render(fmt.Sprintf("%.3f", al.Score)),
			muted.Render(padRight(origin, 6)),
			muted.Render(summarize(al.Details, maxDetail)),
		))
	}

	if len(a.Alerts) > a.VisibleCount {
		lines = append(lines, dim.Render(fmt.Sprintf("  [%d-%d of %d]",
			len(a.Alerts)-end+1, len(a.Alerts)-start, len(a.Alerts))))
	}

	return strings.Join(lines, "\n")
}

// summarize prints a few well-known detail keys on one line.
func summarize(details map[string]any, maxLen int) string {
	var parts []string
	for _, key := range []string{"device", "temperature", "humidity", "block_error"} {
		if v, ok := details[key]; ok {
			parts = append(parts, key+"="+sanitize.Value(v, 24))
		}
	}
	if len(parts) == 0 && len(details) > 0 {
		parts = append(parts, fmt.Sprintf("%d fields", len(details)))
	}
	return sanitize.Truncate(strings.Join(parts, " "), maxLen)
}

package views

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/pkg/sanitize"
)

// AlertInspector shows one alert with its full details payload.
type AlertInspector struct {
	Alert   *domain.Alert
	Width   int
	Height  int
	ScrollY int
	Visible bool
}

func NewAlertInspector() *AlertInspector {
	return &AlertInspector{Width: 80, Height: 24}
}

func (p *AlertInspector) SetAlert(alert *domain.Alert) {
	p.Alert = alert
	p.ScrollY = 0
	p.Visible = alert != nil
}

func (p *AlertInspector) SetDimensions(width, height int) {
	p.Width, p.Height = width, height
}

func (p *AlertInspector) ScrollUp() {
	if p.ScrollY > 0 {
		p.ScrollY--
	}
}

func (p *AlertInspector) ScrollDown() {
	p.ScrollY++
}

func (p *AlertInspector) Close() {
	p.Alert = nil
	p.Visible = false
}

// Lines returns the inspector body before scrolling and clipping.
func (p *AlertInspector) Lines() []string {
	if p.Alert == nil {
		return nil
	}
	al := p.Alert
	width := max(p.Width-4, 20)

	header := lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	label := lipgloss.NewStyle().Foreground(colorAmber).Width(12)
	value := lipgloss.NewStyle().Foreground(colorText)
	dim := lipgloss.NewStyle().Foreground(colorDim)
	key := lipgloss.NewStyle().Foreground(colorCyan)

	rule := dim.Render(strings.Repeat("─", width))
	level := al.Level()

	lines := []string{
		header.Render("ALERT " + sanitize.Line(al.ID, width-6)),
		rule,
		label.Render("Created:") + " " + value.Render(al.CreatedAt.Local().Format("2006-01-02 15:04:05.000")),
		label.Render("Source:") + " " + levelStyle(level).Render(sanitize.Line(al.SourceIP, width-13)),
		label.Render("Level:") + " " + levelStyle(level).Render(string(level)),
		label.Render("Score:") + " " + scoreStyle(al.Score).Render(fmt.Sprintf("%.4f", al.Score)),
		label.Render("Origin:") + " " + value.Render(string(al.Origin)),
	}

	if errText, ok := al.Details["block_error"]; ok {
		lines = append(lines, label.Render("Block:")+" "+
			lipgloss.NewStyle().Foreground(colorRed).Bold(true).Render(sanitize.Value(errText, width-13)))
	}

	if len(al.Details) > 0 {
		lines = append(lines, "", rule, header.Render("DETAILS"))
		keys := make([]string, 0, len(al.Details))
		for k := range al.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			name := sanitize.Line(k, 24)
			lines = append(lines, key.Render(padRight(name, 24))+" "+
				value.Render(sanitize.Value(al.Details[k], width-25)))
		}
	}

	return append(lines, "", rule, dim.Render("[ESC] close   [↑/↓] scroll"))
}

func (p *AlertInspector) Render() string {
	lines := p.Lines()
	if lines == nil {
		return ""
	}
	if p.ScrollY >= len(lines) {
		p.ScrollY = len(lines) - 1
	}
	lines = lines[p.ScrollY:]
	if limit := p.Height - 2; limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}

	return lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(colorPrimary).
		Padding(0, 1).
		Width(p.Width).
		Render(strings.Join(lines, "\n"))
}

package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

type Status struct {
	Width      int
	Metrics    domain.MetricsSnapshot
	Dropped    int64
	lastUpdate time.Time
}

func NewStatus(width int) *Status {
	return &Status{Width: width}
}

func (s *Status) Update(metrics domain.MetricsSnapshot) {
	s.Metrics = metrics
	s.lastUpdate = time.Now()
}

func (s *Status) Render() string {
	ok := lipgloss.NewStyle().Foreground(colorPrimary)
	warn := lipgloss.NewStyle().Foreground(colorAmber).Bold(true)
	bad := lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	muted := lipgloss.NewStyle().Foreground(colorMuted)

	m := s.Metrics
	anomalous := ok
	if m.TotalRows > 0 && float64(m.AnomalousRows)/float64(m.TotalRows) > 0.2 {
		anomalous = bad
	} else if m.AnomalousRows > 0 {
		anomalous = warn
	}
	mem := ok
	if m.MemoryUsageMB > 1024 {
		mem = bad
	} else if m.MemoryUsageMB > 512 {
		mem = warn
	}

	items := []string{
		s.heartbeat(ok, warn, bad),
		muted.Render("ROWS:") + " " + ok.Render(fmtLarge(m.TotalRows)),
		muted.Render("ANOM:") + " " + anomalous.Render(fmtLarge(m.AnomalousRows)),
		muted.Render("ALRT:") + " " + ok.Render(fmtLarge(m.TotalAlerts)),
		muted.Render("BLCK:") + " " + ok.Render(fmtLarge(m.TotalBlocks)),
		muted.Render("BATCH:") + " " + ok.Render(fmtLarge(m.Batches)),
		muted.Render("WRK:") + " " + ok.Render(fmt.Sprintf("%d", m.ActiveWorkers)),
		muted.Render("MEM:") + " " + mem.Render(fmt.Sprintf("%.0fM", m.MemoryUsageMB)),
		muted.Render("UP:") + " " + ok.Render(fmtUptime(m.Uptime)),
	}
	if s.Dropped > 0 {
		items = append(items, muted.Render("DROP:")+" "+bad.Render(fmtLarge(s.Dropped)))
	}

	return lipgloss.NewStyle().
		Width(s.Width).
		Padding(0, 1).
		Background(colorPanelBg).
		Render(strings.Join(items, lipgloss.NewStyle().Foreground(colorDim).Render(" │ ")))
}

// heartbeat shows how fresh the last metrics snapshot is.
func (s *Status) heartbeat(ok, warn, bad lipgloss.Style) string {
	label := lipgloss.NewStyle().Foreground(colorMuted).Render("SYS:")
	switch elapsed := time.Since(s.lastUpdate); {
	case s.lastUpdate.IsZero():
		return label + " " + bad.Render("○")
	case elapsed < 2*time.Second:
		return label + " " + ok.Bold(true).Render("●")
	case elapsed < 5*time.Second:
		return label + " " + warn.Render("○")
	default:
		return label + " " + bad.Render("○")
	}
}

func fmtLarge(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1000:
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func fmtUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm%02ds", m, sec)
}

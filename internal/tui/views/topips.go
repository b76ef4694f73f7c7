package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Kellysabi/Sentry-IoT/pkg/sanitize"
)

// IPEntry aggregates the alerts raised for one source address.
type IPEntry struct {
	IP          string
	Alerts      int
	Manual      int
	MaxScore    float64
	LastSeen    time.Time
	BlockFailed bool
	Pinned      bool
}

type TopIPs struct {
	IPs          []IPEntry
	Width        int
	VisibleCount int
}

func NewTopIPs(width int) *TopIPs {
	return &TopIPs{Width: width, VisibleCount: 25}
}

func (v *TopIPs) Update(ips []IPEntry) { v.IPs = ips }

func (v *TopIPs) Render() string {
	dim := lipgloss.NewStyle().Foreground(colorDim)
	muted := lipgloss.NewStyle().Foreground(colorMuted)
	bar := lipgloss.NewStyle().Foreground(colorPrimaryDim)
	red := lipgloss.NewStyle().Foreground(colorRed).Bold(true)

	if len(v.IPs) == 0 {
		return dim.Italic(true).Render("  No addresses flagged")
	}

	lines := []string{
		muted.Bold(true).Render(fmt.Sprintf(" %-3s %-22s %-14s %-6s %-8s %s",
			"#", "SOURCE", "ALERTS", "PEAK", "LAST", "STATE")),
		dim.Render(strings.Repeat("─", max(v.Width, 10))),
	}

	peak := v.IPs[0].Alerts
	for _, e := range v.IPs {
		peak = max(peak, e.Alerts)
	}

	visible := v.IPs
	if len(visible) > v.VisibleCount {
		visible = visible[:v.VisibleCount]
	}

	const barWidth = 6
	for i, e := range visible {
		fill := 0
		if peak > 0 {
			fill = e.Alerts * barWidth / peak
		}
		meter := strings.Repeat("█", fill) + strings.Repeat("░", barWidth-fill)

		var state []string
		if e.Pinned {
			state = append(state, red.Render("critical"))
		}
		if e.Manual > 0 {
			state = append(state, muted.Render(fmt.Sprintf("manual×%d", e.Manual)))
		}
		if e.BlockFailed {
			state = append(state, red.Render("block-failed"))
		}

		ip := sanitize.Truncate(sanitize.Address(e.IP), ipColumn)
		lines = append(lines, fmt.Sprintf(" %s %s %s %s %s %s",
			muted.Render(fmt.Sprintf("%2d.", i+1)),
			scoreStyle(e.MaxScore).Render(padRight(ip, ipColumn)),
			bar.Render(meter)+" "+padRight(fmtLarge(int64(e.Alerts)), 7),
			scoreStyle(e.MaxScore).Render(fmt.Sprintf("%.3f ", e.MaxScore)),
			muted.Render(padRight(e.LastSeen.Local().Format("15:04:05"), 8)),
			strings.Join(state, " "),
		))
	}

	if len(v.IPs) > v.VisibleCount {
		lines = append(lines, dim.Render(fmt.Sprintf("  [showing %d of %d addresses]", v.VisibleCount, len(v.IPs))))
	}

	return strings.Join(lines, "\n")
}

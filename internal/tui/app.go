// Package tui implements the watch-mode dashboard.
//
// App is an AlertSubscriber: the mitigation gate calls OnAlert from worker
// goroutines, alerts are buffered and folded into the bubbletea model on the
// UI tick so a burst of alerts never stalls the pipeline.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/internal/tui/views"
	"github.com/Kellysabi/Sentry-IoT/pkg/sanitize"
)

const (
	maxAlertsPerTick = 50
	uiTickInterval   = 100 * time.Millisecond
	maxAlertBuffer   = 500
)

type App struct {
	model      *Model
	throughput *views.Throughput
	alerts     *views.AlertList
	topIPs     *views.TopIPs
	status     *views.Status
	inspector  *views.AlertInspector

	ready    bool
	quitting bool
	width    int

	bufMu   sync.Mutex
	buffer  []*domain.Alert
	dropped int64

	metricsCh   chan domain.MetricsSnapshot
	lastMetrics domain.MetricsSnapshot

	source string
}

func NewApp() *App {
	return &App{
		model:      NewModel(),
		throughput: views.NewThroughput(80),
		alerts:     views.NewAlertList(15),
		topIPs:     views.NewTopIPs(100),
		status:     views.NewStatus(100),
		inspector:  views.NewAlertInspector(),
		buffer:     make([]*domain.Alert, 0, 64),
		metricsCh:  make(chan domain.MetricsSnapshot, 10),
		source:     "stdin",
	}
}

// SetSource names the tailed file in the header.
func (a *App) SetSource(source string) { a.source = source }

type tickMsg time.Time
type metricsMsg domain.MetricsSnapshot

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.tick(), a.listenForMetrics())
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(uiTickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *App) listenForMetrics() tea.Cmd {
	return func() tea.Msg { return metricsMsg(<-a.metricsCh) }
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.inspector.Visible {
			switch msg.String() {
			case "esc", "q":
				a.inspector.Close()
			case "up", "k":
				a.inspector.ScrollUp()
			case "down", "j":
				a.inspector.ScrollDown()
			case "ctrl+c":
				a.quitting = true
				return a, tea.Quit
			}
			return a, nil
		}

		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "tab":
			a.model.NextView()
		case "up", "k":
			a.alerts.ScrollUp()
		case "down", "j":
			a.alerts.ScrollDown()
		case "enter":
			if selected := a.alerts.GetSelected(); selected != nil {
				a.inspector.SetAlert(selected)
			}
		}
	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
	case tickMsg:
		a.drain()
		return a, a.tick()
	case metricsMsg:
		a.lastMetrics = domain.MetricsSnapshot(msg)
		a.model.UpdateMetrics(a.lastMetrics)
		a.throughput.Update(a.lastMetrics.RowsPerSecond)
		a.status.Update(a.lastMetrics)
		return a, a.listenForMetrics()
	}
	return a, nil
}

func (a *App) resize(width, height int) {
	a.width = width
	a.ready = true
	a.alerts.Width = width - 4
	a.topIPs.Width = width - 4
	a.status.Width = width
	a.throughput.SetWidth(width - 20)

	content := max(height-10, 5)
	a.alerts.VisibleCount = content
	a.topIPs.VisibleCount = content
	a.inspector.SetDimensions(width-4, height-2)
}

// drain moves at most maxAlertsPerTick buffered alerts into the model.
func (a *App) drain() {
	a.bufMu.Lock()
	n := min(len(a.buffer), maxAlertsPerTick)
	batch := append([]*domain.Alert(nil), a.buffer[:n]...)
	a.buffer = a.buffer[n:]
	a.status.Dropped = a.dropped
	a.bufMu.Unlock()

	for _, al := range batch {
		a.model.AddAlert(al)
	}
	if n > 0 {
		a.alerts.Update(a.model.Alerts())
	}
	a.topIPs.Update(a.model.TopAddresses())
}

func (a *App) View() string {
	if a.quitting {
		return "\n  Session terminated.\n\n"
	}
	if !a.ready {
		return "\n  Initializing...\n\n"
	}
	if a.inspector.Visible {
		return a.inspector.Render()
	}

	var b strings.Builder
	b.WriteString(a.renderHeader())
	b.WriteString("\n")
	b.WriteString(TextDim.Render(strings.Repeat("─", a.width)))
	b.WriteString("\n")
	b.WriteString(a.throughput.Render())
	b.WriteString("\n\n")

	title, content := "ALERTS", a.alerts.Render()
	if a.model.ActiveView == viewAddresses {
		title, content = "TOP SOURCES", a.topIPs.Render()
	}
	b.WriteString(TextMuted.Render("  " + title))
	b.WriteString("\n")
	b.WriteString(content)
	b.WriteString("\n\n")
	b.WriteString(a.status.Render())
	b.WriteString("\n")
	b.WriteString(a.renderHelp())
	return b.String()
}

func (a *App) renderHeader() string {
	state := TitleStyle.Render("MONITORING")
	if a.model.TotalAlerts() > 0 {
		state = AlarmStyle.Render("MITIGATING")
	}
	return fmt.Sprintf("  %s  %s  %s %s",
		TitleStyle.Render("SENTRY-IOT"), state,
		TextDim.Render("SRC:"), sanitize.Line(a.source, 60))
}

func (a *App) renderHelp() string {
	next := "SOURCES"
	if a.model.ActiveView == viewAddresses {
		next = "ALERTS"
	}
	return TextDim.Render(fmt.Sprintf("  %s %s  %s scroll  %s inspect  %s quit",
		KeyStyle.Render("TAB"), next, KeyStyle.Render("↑↓"), KeyStyle.Render("ENTER"), KeyStyle.Render("q")))
}

// OnAlert buffers alert for the next UI tick. When the buffer is full the
// oldest tenth is discarded.
func (a *App) OnAlert(alert *domain.Alert) {
	a.model.TrackAddress(alert)

	a.bufMu.Lock()
	defer a.bufMu.Unlock()
	if len(a.buffer) >= maxAlertBuffer {
		drop := maxAlertBuffer / 10
		a.dropped += int64(drop)
		a.buffer = a.buffer[drop:]
	}
	a.buffer = append(a.buffer, alert)
}

// SendMetrics offers a snapshot to the UI, dropping it if the UI is behind.
func (a *App) SendMetrics(metrics domain.MetricsSnapshot) {
	select {
	case a.metricsCh <- metrics:
	default:
	}
}

func (a *App) Model() *Model { return a.model }

func (a *App) DroppedAlerts() int64 {
	a.bufMu.Lock()
	defer a.bufMu.Unlock()
	return a.dropped
}

// Run blocks until the user quits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	_, err := tea.NewProgram(a, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var barChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Throughput draws scored rows per second as a bar sparkline. Bars are
// scaled to the largest sample in view, never below floor.
type Throughput struct {
	Data  []float64
	Width int
	floor float64
}

func NewThroughput(width int) *Throughput {
	if width <= 0 {
		width = 60
	}
	return &Throughput{Data: make([]float64, width), Width: width, floor: 10}
}

func (t *Throughput) Update(value float64) {
	t.Data = append(t.Data[1:], value)
}

// SetWidth resizes the window, keeping the newest samples.
func (t *Throughput) SetWidth(width int) {
	if width <= 0 || width == t.Width {
		return
	}
	resized := make([]float64, width)
	src := t.Data
	if len(src) > width {
		src = src[len(src)-width:]
	}
	copy(resized[width-len(src):], src)
	t.Data, t.Width = resized, width
}

func (t *Throughput) Render() string {
	on := lipgloss.NewStyle().Foreground(colorPrimary)
	off := lipgloss.NewStyle().Foreground(colorDim)

	scale := t.floor
	for _, v := range t.Data {
		scale = max(scale, v)
	}

	var b strings.Builder
	b.WriteString(" ")
	for _, v := range t.Data {
		if v <= 0 {
			b.WriteString(off.Render(string(barChars[0])))
			continue
		}
		idx := int(v / scale * float64(len(barChars)-1))
		b.WriteString(on.Render(string(barChars[min(idx, len(barChars)-1)])))
	}

	current := 0.0
	if len(t.Data) > 0 {
		current = t.Data[len(t.Data)-1]
	}
	b.WriteString(on.Bold(true).Render(fmt.Sprintf(" ▶ %s rows/s", fmtLarge(int64(current)))))
	return b.String()
}

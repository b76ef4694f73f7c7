package app

import (
	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

const DefaultWindow = 10

// Channel pairs a recognized input column with its derived rolling mean.
type Channel struct {
	Source  string
	Derived string
}

var RecognizedChannels = []Channel{
	{Source: "temperature", Derived: "temp_rolling_mean"},
	{Source: "humidity", Derived: "humid_rolling_mean"},
}

// FeatureExtractor turns a parsed table into the scorer feature set.
type FeatureExtractor struct {
	window   int
	channels []Channel
}

func NewFeatureExtractor(window int) *FeatureExtractor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &FeatureExtractor{window: window, channels: RecognizedChannels}
}

func (e *FeatureExtractor) Window() int {
	return e.window
}

// Extract drops rows with a missing cell, renumbers the survivors from zero
// and appends a causal trailing mean for every recognized numeric channel.
// The input table is not modified.
func (e *FeatureExtractor) Extract(table *domain.Table) *domain.FeatureSet {
	fs := &domain.FeatureSet{}
	if table == nil {
		return fs
	}

	fs.Columns = table.NumericColumns()
	numeric := make(map[string]bool, len(fs.Columns))
	for _, c := range fs.Columns {
		numeric[c] = true
	}

	active := make([]Channel, 0, len(e.channels))
	for _, ch := range e.channels {
		if numeric[ch.Source] {
			active = append(active, ch)
			fs.Columns = append(fs.Columns, ch.Derived)
		}
	}

	windows := make([]*rollingMean, len(active))
	for i := range windows {
		windows[i] = newRollingMean(e.window)
	}

	fs.Rows = make([]*domain.FeatureRecord, 0, len(table.Records))
	for _, r := range table.Records {
		if r.Missing {
			continue
		}
		rec := *r
		rec.Index = len(fs.Rows)

		fr := &domain.FeatureRecord{Record: &rec}
		if len(active) > 0 {
			fr.Derived = make(map[string]float64, len(active))
		}
		for i, ch := range active {
			fr.Derived[ch.Derived] = windows[i].push(rec.Values[ch.Source])
		}
		fs.Rows = append(fs.Rows, fr)
	}

	return fs
}

// rollingMean is a fixed-size ring with a running sum.
type rollingMean struct {
	buf  []float64
	next int
	n    int
	sum  float64
}

func newRollingMean(size int) *rollingMean {
	return &rollingMean{buf: make([]float64, size)}
}

func (r *rollingMean) push(v float64) float64 {
	if r.n == len(r.buf) {
		r.sum -= r.buf[r.next]
	} else {
		r.n++
	}
	r.buf[r.next] = v
	r.sum += v
	r.next = (r.next + 1) % len(r.buf)
	return r.sum / float64(r.n)
}

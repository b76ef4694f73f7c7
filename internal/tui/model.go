package tui

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/internal/tui/views"
	"github.com/Kellysabi/Sentry-IoT/pkg/lru"
)

const (
	viewAlerts = iota
	viewAddresses
	viewCount
)

// Model holds dashboard state fed by the alert and metrics streams.
//
// Per-address statistics live in a bounded LRU; addresses that raised a
// critical alert are pinned so a flood of new sources cannot push them out.
type Model struct {
	ActiveView int

	mu         sync.RWMutex
	alerts     []*domain.Alert
	metrics    domain.MetricsSnapshot
	sparkline  []float64
	addresses  *lru.Cache[string, views.IPEntry]
	alertCount int
	evicted    atomic.Int64

	MaxAlerts int
	MaxTopIPs int
}

func NewModel() *Model {
	return newModel(50, 25, 10000, 60)
}

func newModel(maxAlerts, maxTop, maxTracked, sparkWidth int) *Model {
	m := &Model{
		alerts:    make([]*domain.Alert, 0, maxAlerts),
		sparkline: make([]float64, sparkWidth),
		MaxAlerts: maxAlerts,
		MaxTopIPs: maxTop,
	}
	m.addresses = lru.New[string, views.IPEntry](maxTracked,
		lru.WithEvictCallback(func(string, views.IPEntry) { m.evicted.Add(1) }))
	return m
}

// TrackAddress folds alert into the per-address statistics. Alerts without
// a usable address are counted but not tracked.
func (m *Model) TrackAddress(alert *domain.Alert) {
	m.mu.Lock()
	m.alertCount++
	m.mu.Unlock()

	ip := alert.IPString()
	if ip == domain.UnknownAddress {
		return
	}
	critical := alert.Level() == domain.AlertLevelCritical
	m.addresses.Update(ip, func(e views.IPEntry, found bool) views.IPEntry {
		if !found {
			e = views.IPEntry{IP: ip}
		}
		e.Alerts++
		if alert.Origin == domain.OriginManual {
			e.Manual++
		}
		if alert.Score > e.MaxScore {
			e.MaxScore = alert.Score
		}
		if alert.CreatedAt.After(e.LastSeen) {
			e.LastSeen = alert.CreatedAt
		}
		if _, failed := alert.Details["block_error"]; failed {
			e.BlockFailed = true
		}
		e.Pinned = e.Pinned || critical
		return e
	})
	if critical {
		m.addresses.Pin(ip)
	}
}

// AddAlert appends to the recent feed, dropping the oldest when full.
func (m *Model) AddAlert(alert *domain.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.alerts) >= m.MaxAlerts {
		copy(m.alerts, m.alerts[1:])
		m.alerts = m.alerts[:len(m.alerts)-1]
	}
	m.alerts = append(m.alerts, alert)
}

func (m *Model) UpdateMetrics(metrics domain.MetricsSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
	m.sparkline = append(m.sparkline[1:], metrics.RowsPerSecond)
}

func (m *Model) Alerts() []*domain.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// TopAddresses ranks tracked addresses by alert count, then by peak score.
func (m *Model) TopAddresses() []views.IPEntry {
	entries := m.addresses.Values()
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Alerts != b.Alerts {
			return a.Alerts > b.Alerts
		}
		if a.MaxScore != b.MaxScore {
			return a.MaxScore > b.MaxScore
		}
		return a.IP < b.IP
	})
	if len(entries) > m.MaxTopIPs {
		entries = entries[:m.MaxTopIPs]
	}
	return entries
}

func (m *Model) Sparkline() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]float64, len(m.sparkline))
	copy(out, m.sparkline)
	return out
}

func (m *Model) Metrics() domain.MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

func (m *Model) TotalAlerts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alertCount
}

func (m *Model) TrackedAddresses() int {
	return m.addresses.Len()
}

// EvictedAddresses counts addresses dropped from tracking.
func (m *Model) EvictedAddresses() int64 {
	return m.evicted.Load()
}

func (m *Model) NextView() {
	m.ActiveView = (m.ActiveView + 1) % viewCount
}

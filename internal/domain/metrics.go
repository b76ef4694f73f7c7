package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

type MetricsSnapshot struct {
	TotalRows     int64
	AnomalousRows int64
	TotalAlerts   int64
	TotalBlocks   int64
	Batches       int64
	RowsPerSecond float64
	ActiveWorkers int
	MemoryUsageMB float64
	Uptime        time.Duration
	StartTime     time.Time
}

// PipelineMetrics holds in-process counters for stream mode and the
// dashboard. Prometheus export lives in the output adapter.
type PipelineMetrics struct {
	totalRows     atomic.Int64
	anomalousRows atomic.Int64
	totalAlerts   atomic.Int64
	totalBlocks   atomic.Int64
	batches       atomic.Int64

	rowsPerSecond float64
	activeWorkers int
	memoryUsageMB float64
	startTime     time.Time

	mu sync.RWMutex
}

func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{startTime: time.Now()}
}

func (m *PipelineMetrics) AddRows(n int)          { m.totalRows.Add(int64(n)) }
func (m *PipelineMetrics) AddAnomalousRows(n int) { m.anomalousRows.Add(int64(n)) }
func (m *PipelineMetrics) IncrementAlerts()       { m.totalAlerts.Add(1) }
func (m *PipelineMetrics) IncrementBlocks()       { m.totalBlocks.Add(1) }
func (m *PipelineMetrics) IncrementBatches()      { m.batches.Add(1) }

func (m *PipelineMetrics) TotalRows() int64 {
	return m.totalRows.Load()
}

func (m *PipelineMetrics) UpdateRPS(rps float64) {
	m.mu.Lock()
	m.rowsPerSecond = rps
	m.mu.Unlock()
}

func (m *PipelineMetrics) SetActiveWorkers(count int) {
	m.mu.Lock()
	m.activeWorkers = count
	m.mu.Unlock()
}

func (m *PipelineMetrics) SetMemoryUsage(mb float64) {
	m.mu.Lock()
	m.memoryUsageMB = mb
	m.mu.Unlock()
}

func (m *PipelineMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		TotalRows:     m.totalRows.Load(),
		AnomalousRows: m.anomalousRows.Load(),
		TotalAlerts:   m.totalAlerts.Load(),
		TotalBlocks:   m.totalBlocks.Load(),
		Batches:       m.batches.Load(),
		RowsPerSecond: m.rowsPerSecond,
		ActiveWorkers: m.activeWorkers,
		MemoryUsageMB: m.memoryUsageMB,
		Uptime:        time.Since(m.startTime),
		StartTime:     m.startTime,
	}
}

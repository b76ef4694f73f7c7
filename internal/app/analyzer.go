package app

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/internal/ports"
)

// Analyzer groups streamed rows into batches and feeds them to the worker
// pool. A batch is flushed when it reaches BatchSize rows or when
// FlushInterval elapses with rows pending.
type Analyzer struct {
	reader     ports.RowReader
	workerPool *WorkerPool
	metrics    *domain.PipelineMetrics
	cfg        AnalyzerConfig

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex

	seq               int64
	lastRowsProcessed int64
	lastRPSCheck      time.Time
}

type AnalyzerConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	WorkerConfig  WorkerPoolConfig
	Metrics       *domain.PipelineMetrics // shared with exporters; created when nil
}

func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		WorkerConfig:  DefaultWorkerPoolConfig(),
	}
}

func NewAnalyzer(cfg AnalyzerConfig, reader ports.RowReader, processor BatchProcessor, collector ports.MetricsCollector) *Analyzer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = domain.NewPipelineMetrics()
	}

	return &Analyzer{
		reader:       reader,
		workerPool:   NewWorkerPool(cfg.WorkerConfig, processor, metrics, collector),
		metrics:      metrics,
		cfg:          cfg,
		lastRPSCheck: time.Now(),
	}
}

func (a *Analyzer) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.mu.Unlock()

	a.ctx, a.cancel = context.WithCancel(ctx)

	a.workerPool.Start(a.ctx)

	rowChan, errChan := a.reader.Start(a.ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.processRows(rowChan, errChan)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.updateMetrics()
	}()

	log.Info().
		Int("batch_size", a.cfg.BatchSize).
		Dur("flush_interval", a.cfg.FlushInterval).
		Msg("Analyzer started")
	return nil
}

func (a *Analyzer) processRows(rowChan <-chan []string, errChan <-chan error) {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make([][]string, 0, a.cfg.BatchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		a.seq++
		batch := &Batch{Seq: a.seq, Header: a.reader.Header(), Rows: pending}
		if !a.workerPool.SubmitBlocking(a.ctx, batch) {
			log.Warn().Int64("batch", batch.Seq).Int("rows", len(pending)).Msg("Failed to submit batch to worker pool")
		}
		pending = make([][]string, 0, a.cfg.BatchSize)
	}

	for {
		select {
		case <-a.ctx.Done():
			return
		case err, ok := <-errChan:
			if !ok {
				errChan = nil
				continue
			}
			log.Error().Err(err).Msg("Error reading rows")
		case <-ticker.C:
			flush()
		case row, ok := <-rowChan:
			if !ok {
				flush()
				log.Info().Msg("Row channel closed")
				return
			}
			pending = append(pending, row)
			if len(pending) >= a.cfg.BatchSize {
				flush()
			}
		}
	}
}

func (a *Analyzer) updateMetrics() {
	ticker := time.NewTicker(1 * time.Second)
	memTicker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	defer memTicker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-memTicker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			a.metrics.SetMemoryUsage(float64(m.Alloc) / 1024 / 1024)
		case <-ticker.C:
			now := time.Now()
			elapsed := now.Sub(a.lastRPSCheck).Seconds()
			if elapsed >= 1.0 {
				current := a.metrics.TotalRows()
				a.metrics.UpdateRPS(float64(current-a.lastRowsProcessed) / elapsed)
				a.lastRowsProcessed = current
				a.lastRPSCheck = now
			}
		}
	}
}

func (a *Analyzer) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	log.Info().Msg("Stopping analyzer gracefully...")

	if err := a.reader.Stop(); err != nil {
		log.Error().Err(err).Msg("Error stopping reader")
	}
	if a.cancel != nil {
		a.cancel()
	}

	a.wg.Wait()
	a.workerPool.Stop()

	log.Info().Msg("Analyzer stopped")
}

func (a *Analyzer) Metrics() domain.MetricsSnapshot {
	return a.metrics.Snapshot()
}

func (a *Analyzer) PipelineMetrics() *domain.PipelineMetrics {
	return a.metrics
}

func (a *Analyzer) WorkerPool() *WorkerPool {
	return a.workerPool
}

func (a *Analyzer) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

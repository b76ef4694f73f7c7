// Package app holds the scoring and mitigation core and its orchestration.
//
// The WorkerPool manages a fixed set of worker goroutines that run streamed
// row batches through the pipeline in parallel. It includes resilience
// features like backpressure, dead-letter queues, and overflow handling.
package app

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/internal/ports"
)

// Batch is a group of raw rows sharing one header, in arrival order.
type Batch struct {
	Seq    int64      `json:"seq"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// BatchProcessor runs one batch through the pipeline.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batch *Batch) (*domain.MitigationResult, error)
}

// ToxicMessage represents a batch that caused a worker panic.
// Used for Dead Letter Queue (DLQ) processing and forensic analysis.
type ToxicMessage struct {
	Batch     *Batch      // The problematic batch
	PanicErr  interface{} // The panic value
	Timestamp time.Time   // When the panic occurred
	WorkerID  int         // Which worker crashed
}

// WorkerPool manages concurrent batch processing.
//
// Features:
//   - Fixed worker count for predictable resource usage
//   - Backpressure with configurable timeouts
//   - Dead Letter Queue for toxic batches
//   - Overflow to disk when the queue saturates
//   - Quarantine for batches causing panics
//   - Automatic worker restart on panic
//
// Thread Safety: All public methods are safe for concurrent access.
type WorkerPool struct {
	workerCount int                     // Number of worker goroutines
	inputChan   chan *Batch             // Buffered input channel
	processor   BatchProcessor          // Pipeline entry point
	metrics     *domain.PipelineMetrics // Runtime metrics collector
	collector   ports.MetricsCollector  // Prometheus gauges (optional)
	bufferSize  int                     // Channel buffer size

	submitTimeout   time.Duration // Max wait for channel space
	useBackpressure bool          // Enable timeout-based backpressure

	dlqChan    chan *ToxicMessage // Dead Letter Queue channel
	dlqEnabled bool               // DLQ feature flag

	overflow        *OverflowWriter // Overflow file writer
	overflowBatches atomic.Int64    // Batches written to overflow
	failedBatches   atomic.Int64    // Batches whose processing returned an error

	quarantine *QuarantineWriter // Quarantine for toxic batches

	wg       sync.WaitGroup // Tracks worker goroutines
	stopOnce sync.Once      // Ensures single shutdown
	running  bool           // Running state
	mu       sync.RWMutex   // Protects running state and sends
}

// WorkerPoolConfig defines worker pool configuration options.
type WorkerPoolConfig struct {
	WorkerCount    int           // Number of worker goroutines (default: 4)
	BufferSize     int           // Input channel buffer in batches (default: 64)
	SubmitTimeout  time.Duration // Backpressure timeout (default: 100ms)
	EnableDLQ      bool          // Enable Dead Letter Queue (default: true)
	DLQSize        int           // DLQ channel buffer (default: 100)
	OverflowPath   string        // Path for overflow file (empty disables)
	QuarantinePath string        // Path for quarantine file (empty disables)
}

// DefaultWorkerPoolConfig returns production-ready default configuration.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:   4,
		BufferSize:    64,
		SubmitTimeout: 100 * time.Millisecond,
		EnableDLQ:     true,
		DLQSize:       100,
	}
}

// NewWorkerPool creates a configured worker pool.
//
// Parameters:
//   - config: Pool configuration options
//   - processor: Runs each batch through extraction, scoring and mitigation
//   - metrics: Runtime metrics collector
//   - collector: Optional Prometheus collector (may be nil)
//
// Returns:
//   - Configured WorkerPool ready for Start()
func NewWorkerPool(config WorkerPoolConfig, processor BatchProcessor, metrics *domain.PipelineMetrics, collector ports.MetricsCollector) *WorkerPool {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	if config.DLQSize <= 0 {
		config.DLQSize = 100
	}
	if metrics == nil {
		metrics = domain.NewPipelineMetrics()
	}

	wp := &WorkerPool{
		workerCount:     config.WorkerCount,
		inputChan:       make(chan *Batch, config.BufferSize),
		processor:       processor,
		metrics:         metrics,
		collector:       collector,
		bufferSize:      config.BufferSize,
		submitTimeout:   config.SubmitTimeout,
		useBackpressure: config.SubmitTimeout > 0,
		dlqEnabled:      config.EnableDLQ,
	}

	if config.EnableDLQ {
		wp.dlqChan = make(chan *ToxicMessage, config.DLQSize)
	}

	if config.OverflowPath != "" {
		overflow, err := NewOverflowWriter(config.OverflowPath)
		if err != nil {
			log.Error().Err(err).Str("path", config.OverflowPath).Msg("Failed to create overflow writer")
		} else {
			wp.overflow = overflow
		}
	}

	if config.QuarantinePath != "" {
		quarantine, err := NewQuarantineWriter(config.QuarantinePath)
		if err != nil {
			log.Error().Err(err).Str("path", config.QuarantinePath).Msg("Failed to create quarantine writer")
		} else {
			wp.quarantine = quarantine
		}
	}

	return wp
}

// Start launches worker goroutines.
//
// Behavior:
//   - Spawns WorkerCount worker goroutines
//   - Updates metrics with worker count
//   - Idempotent (safe to call multiple times)
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	if wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = true
	wp.mu.Unlock()

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}

	wp.setActiveWorkers(wp.workerCount)

	log.Info().
		Int("workers", wp.workerCount).
		Bool("backpressure", wp.useBackpressure).
		Bool("dlq", wp.dlqEnabled).
		Msg("Worker pool started")
}

// worker is the main processing loop for a single worker goroutine.
// Includes panic recovery with automatic restart.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	var current *Batch

	// Panic recovery with worker restart and toxic batch handling
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Int("worker_id", id).
				Msg("Worker panic recovered")

			if wp.quarantine != nil && wp.quarantine.Enabled() {
				if err := wp.quarantine.WriteToxicBatch(id, r, debug.Stack(), current); err != nil {
					log.Error().Err(err).Int("worker_id", id).Msg("Failed to quarantine toxic batch")
				}
			}

			if wp.dlqEnabled && current != nil {
				select {
				case wp.dlqChan <- &ToxicMessage{
					Batch:     current,
					PanicErr:  r,
					Timestamp: time.Now(),
					WorkerID:  id,
				}:
					log.Debug().Int("worker_id", id).Msg("Toxic batch sent to DLQ")
				default:
					log.Warn().Int("worker_id", id).Msg("DLQ full, toxic batch only in quarantine file")
				}
			}

			// Restart worker
			wp.wg.Add(1)
			go wp.worker(ctx, id)
		}
	}()

	log.Debug().Int("worker_id", id).Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Int("worker_id", id).Msg("Worker stopped (context cancelled)")
			return
		case batch, ok := <-wp.inputChan:
			if !ok {
				log.Debug().Int("worker_id", id).Msg("Worker stopped (input channel closed)")
				return
			}

			current = batch
			wp.process(ctx, batch)
			current = nil
		}
	}
}

func (wp *WorkerPool) process(ctx context.Context, batch *Batch) {
	result, err := wp.processor.ProcessBatch(ctx, batch)
	wp.metrics.IncrementBatches()
	wp.metrics.AddRows(len(batch.Rows))
	if err != nil {
		wp.failedBatches.Add(1)
		log.Error().Err(err).Int64("batch", batch.Seq).Int("rows", len(batch.Rows)).Msg("Batch processing failed")
		if result == nil {
			return
		}
	}

	wp.metrics.AddAnomalousRows(len(result.Mitigations))
	for range result.Mitigations {
		wp.metrics.IncrementAlerts()
	}
	for _, m := range result.Mitigations {
		if m.Blocked && !m.AlreadyBlocked {
			wp.metrics.IncrementBlocks()
		}
	}
}

// Submit attempts non-blocking batch submission with backpressure fallback.
//
// Returns:
//   - true if submitted (channel, backpressure wait, or overflow)
//   - false if pool not running or all fallbacks failed
func (wp *WorkerPool) Submit(batch *Batch) bool {
	// The read lock is held across the send so Stop cannot close the
	// channel underneath it.
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return false
	}

	// Fast path
	select {
	case wp.inputChan <- batch:
		return true
	default:
	}

	// Backpressure path
	if wp.useBackpressure {
		timer := time.NewTimer(wp.submitTimeout)
		select {
		case wp.inputChan <- batch:
			timer.Stop()
			return true
		case <-timer.C:
		}
	}

	return wp.spill(batch)
}

func (wp *WorkerPool) spill(batch *Batch) bool {
	if wp.overflow == nil || !wp.overflow.Enabled() {
		return false
	}
	if err := wp.overflow.WriteBatch(batch); err != nil {
		log.Error().Err(err).Msg("Failed to write batch to overflow")
		return false
	}
	wp.overflowBatches.Add(1)
	return true
}

// SubmitBlocking blocks until the batch is submitted or context cancelled.
//
// Returns:
//   - true if submitted successfully
//   - false if context cancelled or pool stopped
func (wp *WorkerPool) SubmitBlocking(ctx context.Context, batch *Batch) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return false
	}

	select {
	case wp.inputChan <- batch:
		return true
	case <-ctx.Done():
		return false
	}
}

// DLQ returns the Dead Letter Queue channel for toxic batch handling.
func (wp *WorkerPool) DLQ() <-chan *ToxicMessage {
	return wp.dlqChan
}

// OverflowBatches returns count of batches written to overflow file.
func (wp *WorkerPool) OverflowBatches() int64 {
	return wp.overflowBatches.Load()
}

// FailedBatches returns count of batches whose processing returned an error.
func (wp *WorkerPool) FailedBatches() int64 {
	return wp.failedBatches.Load()
}

// Stop performs graceful shutdown of the worker pool.
// Workers drain queued batches before exiting. Idempotent via sync.Once.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.mu.Lock()
		wp.running = false
		wp.mu.Unlock()

		close(wp.inputChan)
		wp.wg.Wait()

		if wp.dlqChan != nil {
			close(wp.dlqChan)
		}

		if wp.overflow != nil {
			if err := wp.overflow.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close overflow writer")
			}
		}

		if wp.quarantine != nil {
			if err := wp.quarantine.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close quarantine writer")
			}
		}

		wp.setActiveWorkers(0)

		if n := wp.overflowBatches.Load(); n > 0 {
			log.Warn().Int64("overflow_batches", n).Msg("Worker pool stopped with batches in overflow file")
		} else {
			log.Info().Msg("Worker pool stopped")
		}
	})
}

func (wp *WorkerPool) setActiveWorkers(n int) {
	wp.metrics.SetActiveWorkers(n)
	if wp.collector != nil {
		wp.collector.SetActiveWorkers(n)
	}
}

// IsRunning returns true if the pool is actively processing.
func (wp *WorkerPool) IsRunning() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.running
}

// QueueLength returns current batches waiting in input channel.
func (wp *WorkerPool) QueueLength() int {
	return len(wp.inputChan)
}

// QueueCapacity returns the input channel buffer size.
func (wp *WorkerPool) QueueCapacity() int {
	return wp.bufferSize
}

// QueueUtilization returns percentage of input channel capacity in use.
func (wp *WorkerPool) QueueUtilization() float64 {
	if wp.bufferSize == 0 {
		return 0
	}
	return float64(len(wp.inputChan)) / float64(wp.bufferSize) * 100
}

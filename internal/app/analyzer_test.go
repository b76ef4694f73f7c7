package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

// chanReader is a RowReader fed by the test.
type chanReader struct {
	rows   chan []string
	errs   chan error
	header []string
	once   sync.Once
}

func newChanReader(header ...string) *chanReader {
	return &chanReader{rows: make(chan []string, 64), errs: make(chan error, 1), header: header}
}

func (r *chanReader) Start(context.Context) (<-chan []string, <-chan error) {
	return r.rows, r.errs
}

func (r *chanReader) Header() []string { return r.header }

func (r *chanReader) Stop() error {
	r.once.Do(func() { close(r.rows) })
	return nil
}

type batchRecorder struct {
	mu      sync.Mutex
	batches []*Batch
}

func (b *batchRecorder) ProcessBatch(_ context.Context, batch *Batch) (*domain.MitigationResult, error) {
	b.mu.Lock()
	b.batches = append(b.batches, batch)
	b.mu.Unlock()
	return &domain.MitigationResult{Scores: make([]float64, len(batch.Rows))}, nil
}

func (b *batchRecorder) rows() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, batch := range b.batches {
		n += len(batch.Rows)
	}
	return n
}

func (b *batchRecorder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

func TestAnalyzer_FlushesBySize(t *testing.T) {
	reader := newChanReader("temperature", "source_ip")
	rec := &batchRecorder{}
	a := NewAnalyzer(AnalyzerConfig{BatchSize: 3, FlushInterval: time.Hour, WorkerConfig: WorkerPoolConfig{WorkerCount: 1}}, reader, rec, nil)
	require.NoError(t, a.Start(context.Background()))
	assert.True(t, a.IsRunning())

	for i := 0; i < 6; i++ {
		reader.rows <- []string{"20", ipFor(i)}
	}

	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	a.Stop()

	assert.Equal(t, 6, rec.rows())
	rec.mu.Lock()
	assert.Equal(t, []string{"temperature", "source_ip"}, rec.batches[0].Header)
	rec.mu.Unlock()
	assert.False(t, a.IsRunning())
}

func TestAnalyzer_FlushesOnInterval(t *testing.T) {
	reader := newChanReader("temperature", "source_ip")
	rec := &batchRecorder{}
	a := NewAnalyzer(AnalyzerConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond, WorkerConfig: WorkerPoolConfig{WorkerCount: 1}}, reader, rec, nil)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	reader.rows <- []string{"20", "10.0.0.1"}

	require.Eventually(t, func() bool { return rec.rows() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return a.Metrics().Batches == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), a.Metrics().TotalRows)
}

func TestAnalyzer_StopIsIdempotent(t *testing.T) {
	a := NewAnalyzer(DefaultAnalyzerConfig(), newChanReader("x"), &batchRecorder{}, nil)
	a.Stop()
	require.NoError(t, a.Start(context.Background()))
	a.Stop()
	a.Stop()
	assert.False(t, a.WorkerPool().IsRunning())
}

package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

type fakeAlerter struct {
	mu     sync.Mutex
	sent   []*domain.Alert
	err    error
	gate   chan struct{}
	closed bool
}

func (f *fakeAlerter) Send(ctx context.Context, alert *domain.Alert) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, alert)
	return nil
}

func (f *fakeAlerter) Flush() error { return nil }

func (f *fakeAlerter) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestDispatcher_FansOut(t *testing.T) {
	a, b := &fakeAlerter{}, &fakeAlerter{}
	d := NewAlertDispatcher(DefaultDispatcherConfig(), a, b)

	for i := 0; i < 10; i++ {
		d.OnAlert(domain.NewAlert(ipFor(i), 0.9, domain.OriginModel, nil))
	}
	require.NoError(t, d.Close())

	assert.Equal(t, 10, a.count())
	assert.Equal(t, 10, b.count())
	assert.True(t, a.closed)
	assert.Equal(t, int64(10), d.Stats().Dispatched)
	assert.Zero(t, d.Stats().Failed)
}

func TestDispatcher_CountsFailures(t *testing.T) {
	d := NewAlertDispatcher(DefaultDispatcherConfig(), &fakeAlerter{err: errBoom}, &fakeAlerter{})
	d.OnAlert(domain.NewAlert("10.0.0.1", 0.9, domain.OriginModel, nil))
	require.NoError(t, d.Close())

	assert.Equal(t, int64(1), d.Stats().Failed)
	assert.Equal(t, int64(1), d.Stats().Dispatched)
}

func TestDispatcher_SpillsWhenFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts-overflow.jsonl")
	slow := &fakeAlerter{gate: make(chan struct{})}
	d := NewAlertDispatcher(DispatcherConfig{BufferSize: 1, SubmitTimeout: time.Millisecond, OverflowPath: path}, slow)

	for i := 0; i < 5; i++ {
		d.OnAlert(domain.NewAlert(ipFor(i), 0.9, domain.OriginModel, nil))
	}
	assert.Positive(t, d.Stats().Spilled)

	close(slow.gate)
	require.NoError(t, d.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"alert"`)
	assert.Equal(t, int64(5), d.Stats().Spilled+int64(slow.count()))
}

func TestDispatcher_DropsAfterClose(t *testing.T) {
	d := NewAlertDispatcher(DefaultDispatcherConfig())
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	d.OnAlert(domain.NewAlert("10.0.0.1", 0.9, domain.OriginModel, nil))
	assert.Equal(t, int64(1), d.Stats().Dropped)
}

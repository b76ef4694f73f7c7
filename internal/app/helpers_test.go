package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/internal/ports"
)

// stubScorer returns fixed scores, or a constant when scores is nil.
type stubScorer struct {
	scores   []float64
	constant float64
	err      error
	calls    atomic.Int64
	trained  *domain.FeatureSet
}

func (s *stubScorer) Score(_ context.Context, fs *domain.FeatureSet) ([]float64, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if s.scores != nil {
		return append([]float64(nil), s.scores...), nil
	}
	out := make([]float64, fs.Len())
	for i := range out {
		out[i] = s.constant
	}
	return out, nil
}

func (s *stubScorer) Train(_ context.Context, fs *domain.FeatureSet, labels []int) error {
	if len(labels) != fs.Len() {
		return domain.NewInputError("label mismatch")
	}
	s.trained = fs
	return nil
}

func (s *stubScorer) Name() string { return "stub" }

type zeroDensity struct{}

func (zeroDensity) Name() string { return "zero" }

func (zeroDensity) Fit(_ context.Context, fs *domain.FeatureSet) (ports.DensityModel, error) {
	if fs.Len() == 0 {
		return nil, domain.WrapInputError(domain.ErrEmptyBatch, "fit")
	}
	return zeroModel{}, nil
}

type zeroModel struct{}

func (zeroModel) Score(fs *domain.FeatureSet) ([]int, error) {
	return make([]int, fs.Len()), nil
}

// recordingStore is an AlertStore that keeps alerts in insertion order and
// can be made to fail.
type recordingStore struct {
	mu     sync.Mutex
	alerts []*domain.Alert
	err    error
}

func (s *recordingStore) Append(_ context.Context, a *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *recordingStore) Recent(_ context.Context, n int) ([]*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Alert, 0, n)
	for i := len(s.alerts) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.alerts[i])
	}
	return out, nil
}

func (s *recordingStore) Ping(context.Context) error { return s.err }
func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) all() []*domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Alert(nil), s.alerts...)
}

// countingBlocker tracks probes and installs per address.
type countingBlocker struct {
	mu       sync.Mutex
	blocked  map[string]bool
	probes   map[string]int
	installs map[string]int
	blockErr error
	probeErr error
}

func newCountingBlocker() *countingBlocker {
	return &countingBlocker{
		blocked:  make(map[string]bool),
		probes:   make(map[string]int),
		installs: make(map[string]int),
	}
}

func (b *countingBlocker) Name() string { return "counting" }

func (b *countingBlocker) IsBlocked(_ context.Context, addr string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probes[addr]++
	if b.probeErr != nil {
		return false, b.probeErr
	}
	return b.blocked[addr], nil
}

func (b *countingBlocker) Block(_ context.Context, addr string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blockErr != nil {
		return b.blockErr
	}
	b.installs[addr]++
	b.blocked[addr] = true
	return nil
}

func (b *countingBlocker) Unblock(_ context.Context, addr string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blocked, addr)
	return nil
}

func (b *countingBlocker) installCount(addr string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.installs[addr]
}

func (b *countingBlocker) probeCount(addr string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.probes[addr]
}

type mockMetrics struct {
	mu          sync.Mutex
	rows        int
	anomalies   int
	blocks      map[string]int
	storeErrors int
	workers     int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{blocks: make(map[string]int)}
}

func (m *mockMetrics) IncrementRows(n int) {
	m.mu.Lock()
	m.rows += n
	m.mu.Unlock()
}

func (m *mockMetrics) IncrementAnomalies(_ string, n int) {
	m.mu.Lock()
	m.anomalies += n
	m.mu.Unlock()
}

func (m *mockMetrics) ObserveScoringTime(string, float64) {}

func (m *mockMetrics) IncrementBlocks(outcome string) {
	m.mu.Lock()
	m.blocks[outcome]++
	m.mu.Unlock()
}

func (m *mockMetrics) IncrementStoreErrors() {
	m.mu.Lock()
	m.storeErrors++
	m.mu.Unlock()
}

func (m *mockMetrics) SetActiveWorkers(n int) {
	m.mu.Lock()
	m.workers = n
	m.mu.Unlock()
}

type alertCollector struct {
	mu     sync.Mutex
	alerts []*domain.Alert
}

func (c *alertCollector) OnAlert(a *domain.Alert) {
	c.mu.Lock()
	c.alerts = append(c.alerts, a)
	c.mu.Unlock()
}

func (c *alertCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

// featureRows builds a feature set with one row per address.
func featureRows(addrs ...string) *domain.FeatureSet {
	fs := &domain.FeatureSet{Columns: []string{"temperature"}}
	for i, addr := range addrs {
		r := domain.NewRecord(i)
		r.SourceIP = addr
		r.Values["temperature"] = 20 + float64(i)
		fs.Rows = append(fs.Rows, &domain.FeatureRecord{Record: r})
	}
	return fs
}

func ipFor(i int) string {
	return fmt.Sprintf("10.0.0.%d", i+1)
}

var errBoom = errors.New("boom")

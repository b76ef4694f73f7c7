package output

import (
	"context"
	"sync"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

// MemoryAlertStore keeps the most recent alerts in a fixed-size ring buffer.
// Older alerts are overwritten once capacity is reached.
//
// Thread Safety: Safe for concurrent access via RWMutex.
type MemoryAlertStore struct {
	alerts    []*domain.Alert // Ring buffer storage
	head      int             // Next write position
	count     int             // Current alert count
	maxAlerts int             // Buffer capacity
	mu        sync.RWMutex
}

// NewMemoryAlertStore creates an in-memory alert store holding up to
// maxAlerts records (default 10000).
func NewMemoryAlertStore(maxAlerts int) *MemoryAlertStore {
	if maxAlerts <= 0 {
		maxAlerts = 10000
	}
	return &MemoryAlertStore{
		alerts:    make([]*domain.Alert, maxAlerts),
		maxAlerts: maxAlerts,
	}
}

func (s *MemoryAlertStore) Append(_ context.Context, alert *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts[s.head] = alert
	s.head = (s.head + 1) % s.maxAlerts
	if s.count < s.maxAlerts {
		s.count++
	}
	return nil
}

// Recent returns up to n alerts, newest first.
func (s *MemoryAlertStore) Recent(_ context.Context, n int) ([]*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return []*domain.Alert{}, nil
	}
	if n > s.count {
		n = s.count
	}
	result := make([]*domain.Alert, n)
	for i := 0; i < n; i++ {
		idx := (s.head - 1 - i + s.maxAlerts) % s.maxAlerts
		result[i] = s.alerts[idx]
	}
	return result, nil
}

func (s *MemoryAlertStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *MemoryAlertStore) Ping(context.Context) error { return nil }

func (s *MemoryAlertStore) Close() error { return nil }

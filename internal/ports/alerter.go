// Package ports defines the primary and secondary port interfaces following
// hexagonal architecture (ports and adapters pattern).
//
// This package contains interfaces that define the contract between the
// scoring and mitigation core and external infrastructure (tabular input,
// firewall, alert persistence, notification sinks).
//
// Design Principles:
//   - Interfaces are small and focused
//   - Dependencies flow inward (domain has no infrastructure imports)
//   - Implementations provided by adapters in internal/adapters/
package ports

import (
	"context"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

// Alerter defines the interface for fanning persisted alerts out to
// secondary destinations.
//
// Implementations:
//   - JSONAlerter: Writes alerts as JSON lines to file or stdout
//   - KafkaNotifier: Produces alerts to a Kafka topic
//
// Thread Safety: Implementations MUST be safe for concurrent Send() calls.
type Alerter interface {
	// Send dispatches an alert to the output destination.
	//
	// Returns:
	//   - nil on success
	//   - Error if dispatch fails (caller logs, never retries)
	Send(ctx context.Context, alert *domain.Alert) error

	// Flush forces pending alerts to be written to destination.
	Flush() error

	// Close releases resources and ensures all alerts are flushed.
	Close() error
}

// AlertSubscriber defines the callback interface for alert notification.
// Used by the mitigation gate to notify interested components (websocket
// hub, dashboard, metrics) after an alert has been persisted.
type AlertSubscriber interface {
	// OnAlert is called synchronously after an alert is stored.
	//
	// Performance: Implementation should return quickly to avoid blocking
	// the request path. Use buffering for expensive operations.
	OnAlert(alert *domain.Alert)
}

// MetricsCollector defines the interface for observability metric collection.
// Implemented by the Prometheus adapter.
//
// Thread Safety: All methods MUST be safe for concurrent calls.
type MetricsCollector interface {
	// IncrementRows adds n scored rows.
	IncrementRows(n int)

	// IncrementAnomalies adds n rows flagged by the named scorer.
	IncrementAnomalies(scorer string, n int)

	// ObserveScoringTime records one scoring call duration in seconds.
	ObserveScoringTime(scorer string, seconds float64)

	// IncrementBlocks records a block outcome: installed, present or failed.
	IncrementBlocks(outcome string)

	// IncrementStoreErrors counts failed alert appends.
	IncrementStoreErrors()

	// SetActiveWorkers updates the active worker gauge.
	SetActiveWorkers(count int)
}

// Block outcomes reported to MetricsCollector.IncrementBlocks.
const (
	BlockInstalled = "installed"
	BlockPresent   = "present"
	BlockFailed    = "failed"
)

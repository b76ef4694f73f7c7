package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellysabi/Sentry-IoT/internal/adapters/firewall"
	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/internal/ports"
)

func newTestGate(blocker ports.NetworkBlocker, store ports.AlertStore) *MitigationGate {
	return NewMitigationGate(DefaultGateConfig(), blocker, store, nil)
}

func TestMitigate_StrictThreshold(t *testing.T) {
	blocker := newCountingBlocker()
	store := &recordingStore{}
	gate := newTestGate(blocker, store)

	fs := featureRows("10.0.0.1", "10.0.0.2", "10.0.0.3")
	result, err := gate.Mitigate(context.Background(), fs, []float64{0.79, 0.80, 0.81})
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.3"}, result.TriggeredIPs())
	assert.Equal(t, []float64{0.79, 0.80, 0.81}, result.Scores)
	assert.Zero(t, blocker.probeCount("10.0.0.1"))
	assert.Zero(t, blocker.probeCount("10.0.0.2"))
	assert.Equal(t, 1, blocker.installCount("10.0.0.3"))
	require.Len(t, store.all(), 1)
	assert.Equal(t, 0.81, store.all()[0].Score)
}

func TestMitigate_UnknownAddressesSkipped(t *testing.T) {
	blocker := newCountingBlocker()
	store := &recordingStore{}
	gate := newTestGate(blocker, store)

	fs := featureRows("", "unknown", "not-an-ip", "N/A", "10.0.0.9")
	result, err := gate.Mitigate(context.Background(), fs, []float64{0.99, 0.99, 0.99, 0.99, 0.99})
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.9"}, result.TriggeredIPs())
	assert.Len(t, store.all(), 1)
}

func TestMitigate_DuplicatesInBatch(t *testing.T) {
	blocker := newCountingBlocker()
	store := &recordingStore{}
	gate := newTestGate(blocker, store)

	fs := featureRows("10.0.0.5", "10.0.0.5", "10.0.0.5")
	result, err := gate.Mitigate(context.Background(), fs, []float64{0.9, 0.95, 0.99})
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.5", "10.0.0.5", "10.0.0.5"}, result.TriggeredIPs())
	assert.Equal(t, 3, blocker.probeCount("10.0.0.5"))
	assert.Equal(t, 1, blocker.installCount("10.0.0.5"))
	assert.Len(t, store.all(), 3)

	assert.False(t, result.Mitigations[0].AlreadyBlocked)
	assert.True(t, result.Mitigations[1].AlreadyBlocked)
	assert.True(t, result.Mitigations[2].AlreadyBlocked)
}

func TestMitigate_BlockIdempotence(t *testing.T) {
	blocker := firewall.NewMemoryBlocker()
	gate := newTestGate(blocker, &recordingStore{})
	ctx := context.Background()

	already, err := gate.ensureBlocked(ctx, "192.168.0.7")
	require.NoError(t, err)
	assert.False(t, already)

	already, err = gate.ensureBlocked(ctx, "192.168.0.7")
	require.NoError(t, err)
	assert.True(t, already)

	blocked, err := blocker.IsBlocked(ctx, "192.168.0.7")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, 1, blocker.Transitions("192.168.0.7"))
}

func TestMitigate_BlockFailureStillPersists(t *testing.T) {
	blocker := newCountingBlocker()
	blocker.blockErr = errors.New("permission denied")
	store := &recordingStore{}
	metrics := newMockMetrics()
	gate := NewMitigationGate(DefaultGateConfig(), blocker, store, metrics)

	result, err := gate.Mitigate(context.Background(), featureRows("10.0.0.1"), []float64{0.9})
	require.NoError(t, err)

	require.Len(t, result.Failures, 1)
	assert.ErrorContains(t, result.Failures[0].Err, "permission denied")
	require.Len(t, result.Mitigations, 1)
	assert.False(t, result.Mitigations[0].Blocked)

	alerts := store.all()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Details[DetailBlockError], "permission denied")
	assert.Equal(t, 1, metrics.blocks[ports.BlockFailed])
}

func TestMitigate_PersistenceFailure(t *testing.T) {
	store := &recordingStore{err: errBoom}
	metrics := newMockMetrics()
	gate := NewMitigationGate(DefaultGateConfig(), newCountingBlocker(), store, metrics)

	_, err := gate.Mitigate(context.Background(), featureRows("10.0.0.1"), []float64{0.9})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, metrics.storeErrors)
}

func TestMitigate_LengthMismatch(t *testing.T) {
	gate := newTestGate(newCountingBlocker(), &recordingStore{})
	_, err := gate.Mitigate(context.Background(), featureRows("10.0.0.1"), []float64{0.9, 0.1})
	assert.Error(t, err)
}

func TestMitigate_DetailsCarryFeatures(t *testing.T) {
	store := &recordingStore{}
	gate := newTestGate(newCountingBlocker(), store)

	fs := featureRows("10.0.0.1")
	fs.Rows[0].Derived = map[string]float64{"temp_rolling_mean": 20}
	fs.Rows[0].Attrs["device"] = "sensor-1"

	_, err := gate.Mitigate(context.Background(), fs, []float64{0.95})
	require.NoError(t, err)

	d := store.all()[0].Details
	assert.Equal(t, 20.0, d["temperature"])
	assert.Equal(t, 20.0, d["temp_rolling_mean"])
	assert.Equal(t, "sensor-1", d["device"])
	assert.Equal(t, "10.0.0.1", d["source_ip"])
	assert.Equal(t, domain.OriginModel, store.all()[0].Origin)
}

func TestMitigate_NotifiesSubscribers(t *testing.T) {
	gate := newTestGate(newCountingBlocker(), &recordingStore{})
	sub := &alertCollector{}
	gate.AddSubscriber(sub)

	_, err := gate.Mitigate(context.Background(), featureRows("10.0.0.1", "10.0.0.2"), []float64{0.9, 0.1})
	require.NoError(t, err)
	assert.Equal(t, 1, sub.count())
}

func TestMitigate_ConcurrentSameAddress(t *testing.T) {
	blocker := newCountingBlocker()
	gate := newTestGate(blocker, &recordingStore{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = gate.Mitigate(context.Background(), featureRows("10.9.9.9"), []float64{0.99})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, blocker.installCount("10.9.9.9"))
	assert.Zero(t, gate.locks.size())
}

func TestSetThreshold(t *testing.T) {
	gate := newTestGate(newCountingBlocker(), &recordingStore{})
	assert.Equal(t, DefaultThreshold, gate.Threshold())

	gate.SetThreshold(0.5)
	assert.Equal(t, 0.5, gate.Threshold())

	gate.SetThreshold(3)
	assert.Equal(t, DefaultThreshold, gate.Threshold())
}

func TestManual(t *testing.T) {
	blocker := newCountingBlocker()
	store := &recordingStore{}
	gate := newTestGate(blocker, store)

	details := map[string]any{"reason": "operator"}
	alert, err := gate.Manual(context.Background(), "172.16.0.4", details)
	require.NoError(t, err)

	assert.Equal(t, 1.0, alert.Score)
	assert.Equal(t, domain.OriginManual, alert.Origin)
	assert.Equal(t, "operator", alert.Details["reason"])
	assert.Equal(t, 1, blocker.installCount("172.16.0.4"))
	assert.Len(t, store.all(), 1)

	details["reason"] = "changed"
	assert.Equal(t, "operator", alert.Details["reason"])
}

func TestManual_InvalidAddress(t *testing.T) {
	gate := newTestGate(newCountingBlocker(), &recordingStore{})
	for _, addr := range []string{"", "unknown", "999.1.1.1"} {
		_, err := gate.Manual(context.Background(), addr, nil)
		assert.True(t, domain.IsInputError(err), addr)
	}
}

func TestManual_BlockFailure(t *testing.T) {
	blocker := newCountingBlocker()
	blocker.blockErr = errBoom
	store := &recordingStore{}
	gate := newTestGate(blocker, store)

	alert, err := gate.Manual(context.Background(), "172.16.0.4", nil)
	require.Error(t, err)
	require.NotNil(t, alert)
	assert.True(t, IsBlockError(err))
	assert.ErrorIs(t, err, errBoom)
	require.Len(t, store.all(), 1)
	assert.Equal(t, alert.ID, store.all()[0].ID)
}

package output

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

func newTestSQLiteStore(t *testing.T) *SQLiteAlertStore {
	t.Helper()
	store, err := NewSQLiteAlertStore(filepath.Join(t.TempDir(), "db", "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteAlertStore_RecentNewestFirst(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	ids := make([]string, 0, 25)
	for i := 1; i <= 25; i++ {
		a := numberedAlert(i)
		ids = append(ids, a.ID)
		require.NoError(t, store.Append(ctx, a))
	}

	recent, err := store.Recent(ctx, 20)
	require.NoError(t, err)
	require.Len(t, recent, 20)
	for i, a := range recent {
		assert.Equal(t, ids[24-i], a.ID)
	}
}

func TestSQLiteAlertStore_RoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	alert := domain.NewAlert("192.168.1.20", 0.93, domain.OriginManual, map[string]any{
		"temperature": 71.5,
		"device":      "sensor-7",
	})
	require.NoError(t, store.Append(ctx, alert))

	recent, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	got := recent[0]
	assert.Equal(t, alert.ID, got.ID)
	assert.Equal(t, "192.168.1.20", got.SourceIP)
	assert.InDelta(t, 0.93, got.Score, 1e-9)
	assert.Equal(t, domain.OriginManual, got.Origin)
	assert.Equal(t, "sensor-7", got.Details["device"])
	assert.InDelta(t, 71.5, got.Details["temperature"], 1e-9)
	assert.True(t, alert.CreatedAt.Equal(got.CreatedAt))
}

func TestSQLiteAlertStore_DuplicateIDFails(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	alert := numberedAlert(1)
	require.NoError(t, store.Append(ctx, alert))
	assert.Error(t, store.Append(ctx, alert))
}

func TestSQLiteAlertStore_PingAndEmpty(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	recent, err := store.Recent(ctx, 20)
	require.NoError(t, err)
	assert.Empty(t, recent)

	recent, err = store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

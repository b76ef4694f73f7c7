package output

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

func numberedAlert(i int) *domain.Alert {
	return domain.NewAlert(fmt.Sprintf("10.0.0.%d", i), 0.9, domain.OriginModel, map[string]any{"n": float64(i)})
}

func TestMemoryAlertStore_RecentNewestFirst(t *testing.T) {
	store := NewMemoryAlertStore(100)
	ctx := context.Background()

	inserted := make([]*domain.Alert, 0, 25)
	for i := 1; i <= 25; i++ {
		a := numberedAlert(i)
		inserted = append(inserted, a)
		require.NoError(t, store.Append(ctx, a))
	}

	recent, err := store.Recent(ctx, 20)
	require.NoError(t, err)
	require.Len(t, recent, 20)
	for i, a := range recent {
		assert.Equal(t, inserted[24-i].ID, a.ID, "position %d", i)
	}
}

func TestMemoryAlertStore_Wraparound(t *testing.T) {
	store := NewMemoryAlertStore(5)
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		require.NoError(t, store.Append(ctx, numberedAlert(i)))
	}

	assert.Equal(t, 5, store.Count())
	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, "10.0.0.8", recent[0].SourceIP)
	assert.Equal(t, "10.0.0.4", recent[4].SourceIP)
}

func TestMemoryAlertStore_NonPositiveLimit(t *testing.T) {
	store := NewMemoryAlertStore(0)
	require.NoError(t, store.Append(context.Background(), numberedAlert(1)))

	for _, n := range []int{0, -3} {
		recent, err := store.Recent(context.Background(), n)
		require.NoError(t, err)
		assert.Empty(t, recent)
	}
}

func TestMemoryAlertStore_Concurrent(t *testing.T) {
	store := NewMemoryAlertStore(1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = store.Append(ctx, numberedAlert(g))
				_, _ = store.Recent(ctx, 5)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 400, store.Count())
}

package output

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

func TestJSONAlerter_WritesLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	alerter, err := NewJSONAlerter(JSONAlerterConfig{FilePath: path})
	require.NoError(t, err)

	ctx := context.Background()
	first := domain.NewAlert("10.0.0.1", 0.9, domain.OriginModel, map[string]any{"temperature": 80.0})
	second := domain.NewAlert("10.0.0.2", 1.0, domain.OriginManual, nil)
	require.NoError(t, alerter.Send(ctx, first))
	require.NoError(t, alerter.Send(ctx, second))
	require.NoError(t, alerter.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		got = append(got, m)
	}
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0]["id"])
	assert.Equal(t, "10.0.0.1", got[0]["source_ip"])
	assert.Equal(t, "manual", got[1]["origin"])
}

func TestJSONAlerter_CloseIdempotent(t *testing.T) {
	alerter, err := NewJSONAlerter(JSONAlerterConfig{})
	require.NoError(t, err)

	require.NoError(t, alerter.Send(context.Background(), domain.NewAlert("10.0.0.1", 0.9, domain.OriginModel, nil)))
	require.NoError(t, alerter.Close())
	assert.NoError(t, alerter.Close())
	assert.Equal(t, "json", alerter.Name())
}

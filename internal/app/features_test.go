package app

import (
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellysabi/Sentry-IoT/internal/adapters/input"
	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

func parseTable(t *testing.T, csv string) *domain.Table {
	t.Helper()
	table, err := input.NewCSVParser().Parse(strings.NewReader(csv))
	require.NoError(t, err)
	return table
}

func TestExtract_DropsMissingRows(t *testing.T) {
	table := parseTable(t, `temperature,humidity,source_ip
20,40,10.0.0.1
,41,10.0.0.2
22,NaN,10.0.0.3
23,43,
24,44,10.0.0.5
`)
	fs := NewFeatureExtractor(10).Extract(table)

	missing := 0
	for _, r := range table.Records {
		if r.Missing {
			missing++
		}
	}
	assert.LessOrEqual(t, fs.Len(), len(table.Records))
	assert.Equal(t, len(table.Records)-missing, fs.Len())
	require.Equal(t, 2, fs.Len())
	assert.Equal(t, "10.0.0.1", fs.Rows[0].SourceIP)
	assert.Equal(t, "10.0.0.5", fs.Rows[1].SourceIP)
}

func TestExtract_NaNSpellingDoesNotPoisonRollingMean(t *testing.T) {
	fs := NewFeatureExtractor(10).Extract(parseTable(t, "temperature,source_ip\n20,10.0.0.1\nNAN,10.0.0.2\n22,10.0.0.3\n"))

	require.Equal(t, 2, fs.Len())
	assert.Equal(t, "10.0.0.3", fs.Rows[1].SourceIP)
	for _, r := range fs.Rows {
		mean, ok := r.Value("temp_rolling_mean")
		require.True(t, ok)
		assert.False(t, math.IsNaN(mean))
	}
	mean, _ := fs.Rows[1].Value("temp_rolling_mean")
	assert.InDelta(t, 21.0, mean, 1e-9)

	_, err := fs.MatrixFor(fs.Columns)
	assert.NoError(t, err)
}

func TestExtract_RenumbersWithoutTouchingInput(t *testing.T) {
	table := parseTable(t, "temperature,source_ip\n,10.0.0.1\n20,10.0.0.2\n21,10.0.0.3\n")
	fs := NewFeatureExtractor(10).Extract(table)

	require.Equal(t, 2, fs.Len())
	assert.Equal(t, 0, fs.Rows[0].Index)
	assert.Equal(t, 1, fs.Rows[1].Index)
	assert.Equal(t, 1, table.Records[1].Index)
	assert.Equal(t, 2, table.Records[2].Index)
}

func TestExtract_ConstantChannel(t *testing.T) {
	var b strings.Builder
	b.WriteString("temperature,humidity\n")
	for i := 0; i < 25; i++ {
		b.WriteString("21.5,55\n")
	}
	fs := NewFeatureExtractor(10).Extract(parseTable(t, b.String()))

	require.Equal(t, 25, fs.Len())
	for _, r := range fs.Rows {
		assert.Equal(t, 21.5, r.Derived["temp_rolling_mean"])
		assert.Equal(t, 55.0, r.Derived["humid_rolling_mean"])
	}
}

func TestExtract_TrailingMean(t *testing.T) {
	var b strings.Builder
	b.WriteString("temperature\n")
	for i := 1; i <= 12; i++ {
		b.WriteString(strconv.Itoa(i))
		b.WriteString("\n")
	}
	fs := NewFeatureExtractor(10).Extract(parseTable(t, b.String()))
	require.Equal(t, 12, fs.Len())

	// Partial window: mean of 1..k.
	assert.InDelta(t, 1.0, fs.Rows[0].Derived["temp_rolling_mean"], 1e-12)
	assert.InDelta(t, 1.5, fs.Rows[1].Derived["temp_rolling_mean"], 1e-12)
	assert.InDelta(t, 5.5, fs.Rows[9].Derived["temp_rolling_mean"], 1e-12)
	// Full window: mean of 2..11 and 3..12.
	assert.InDelta(t, 6.5, fs.Rows[10].Derived["temp_rolling_mean"], 1e-12)
	assert.InDelta(t, 7.5, fs.Rows[11].Derived["temp_rolling_mean"], 1e-12)
}

func TestExtract_WindowSize(t *testing.T) {
	fs := NewFeatureExtractor(2).Extract(parseTable(t, "temperature\n1\n3\n5\n"))
	require.Equal(t, 3, fs.Len())
	assert.InDelta(t, 1.0, fs.Rows[0].Derived["temp_rolling_mean"], 1e-12)
	assert.InDelta(t, 2.0, fs.Rows[1].Derived["temp_rolling_mean"], 1e-12)
	assert.InDelta(t, 4.0, fs.Rows[2].Derived["temp_rolling_mean"], 1e-12)
}

func TestExtract_AbsentChannels(t *testing.T) {
	fs := NewFeatureExtractor(10).Extract(parseTable(t, "pressure,source_ip\n1013,10.0.0.1\n1012,10.0.0.2\n"))

	require.Equal(t, 2, fs.Len())
	assert.Equal(t, []string{"pressure"}, fs.Columns)
	assert.Empty(t, fs.Rows[0].Derived)
}

func TestExtract_Columns(t *testing.T) {
	fs := NewFeatureExtractor(10).Extract(parseTable(t, "humidity,temperature,alert,device,source_ip\n40,20,0,a,10.0.0.1\n"))

	assert.Equal(t, []string{"humidity", "temperature", "temp_rolling_mean", "humid_rolling_mean"}, fs.Columns)
	m, err := fs.MatrixFor(fs.Columns)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{40, 20, 20, 40}}, m)
}

func TestExtract_NilAndEmpty(t *testing.T) {
	e := NewFeatureExtractor(0)
	assert.Equal(t, DefaultWindow, e.Window())
	assert.Equal(t, 0, e.Extract(nil).Len())
	assert.Equal(t, 0, e.Extract(parseTable(t, "temperature,source_ip\n")).Len())
}

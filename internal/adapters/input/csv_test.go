package input

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

func TestCSVParser(t *testing.T) {
	parser := NewCSVParser()

	tests := []struct {
		name        string
		payload     string
		wantErr     bool
		wantRows    int
		wantNumeric []string
		wantMissing []bool
	}{
		{
			name:        "sensor readings",
			payload:     "source_ip,temperature,humidity\n10.0.0.1,21.5,40\n10.0.0.2,22.0,41\n",
			wantRows:    2,
			wantNumeric: []string{"temperature", "humidity"},
			wantMissing: []bool{false, false},
		},
		{
			name:        "missing cells flagged",
			payload:     "source_ip,temperature\n10.0.0.1,NaN\n10.0.0.2,\n,22\n10.0.0.4,23\n",
			wantRows:    4,
			wantNumeric: []string{"temperature"},
			wantMissing: []bool{true, true, true, false},
		},
		{
			name:        "nan in any case flagged",
			payload:     "source_ip,temperature\n10.0.0.1,20\n10.0.0.2,NAN\n10.0.0.3,nAn\n10.0.0.4,21\n",
			wantRows:    4,
			wantNumeric: []string{"temperature"},
			wantMissing: []bool{false, true, true, false},
		},
		{
			name:        "label column excluded from features",
			payload:     "temperature,alert\n20,0\n99,1\n",
			wantRows:    2,
			wantNumeric: []string{"temperature"},
			wantMissing: []bool{false, false},
		},
		{
			name:        "mixed column typed as text",
			payload:     "device,temperature\nA1,20\n42,21\n",
			wantRows:    2,
			wantNumeric: []string{"temperature"},
			wantMissing: []bool{false, false},
		},
		{
			name:    "empty payload",
			payload: "",
			wantErr: true,
		},
		{
			name:    "duplicate column",
			payload: "a,a\n1,2\n",
			wantErr: true,
		},
		{
			name:    "unterminated quote",
			payload: "a,b\n\"1,2\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := parser.Parse(strings.NewReader(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsInputError(err))
				return
			}

			require.NoError(t, err)
			require.Len(t, table.Records, tt.wantRows)
			assert.Equal(t, tt.wantNumeric, table.NumericColumns())
			for i, want := range tt.wantMissing {
				assert.Equal(t, want, table.Records[i].Missing, "row %d", i)
			}
		})
	}
}

func TestCSVParserRecordFields(t *testing.T) {
	parser := NewCSVParser()

	table, err := parser.Parse(strings.NewReader("\ufeffsource_ip, temperature,device,alert\n10.0.0.5, 30.5,thermo,1\n"))
	require.NoError(t, err)
	require.Len(t, table.Records, 1)

	rec := table.Records[0]
	assert.Equal(t, "source_ip", table.Columns[0])
	assert.Equal(t, "10.0.0.5", rec.SourceIP)
	assert.Equal(t, 30.5, rec.Values["temperature"])
	assert.Equal(t, "thermo", rec.Attrs["device"])
	assert.True(t, rec.HasLabel)
	assert.Equal(t, 1, rec.Label)
	assert.NotContains(t, rec.Values, "alert")
	assert.Equal(t, []int{1}, table.Labels())
}

func TestCSVParserDropsRaggedRows(t *testing.T) {
	parser := NewCSVParser()

	table, err := parser.Parse(strings.NewReader("a,b\n1,2\n3\n4,5,6\n7,8\n"))
	require.NoError(t, err)

	assert.Len(t, table.Records, 2)
	assert.Equal(t, 2, table.Dropped)
}

func TestCSVParserBuild(t *testing.T) {
	parser := NewCSVParser()

	table, err := parser.Build([]string{"source_ip", "humidity"}, [][]string{{"10.0.0.1", "50"}, {"10.0.0.2", "51"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"humidity"}, table.NumericColumns())
	assert.Equal(t, "10.0.0.2", table.Records[1].SourceIP)
	assert.Nil(t, table.Labels())
}

func TestCSVParserFormat(t *testing.T) {
	assert.Equal(t, "csv", NewCSVParser().Format())
}

func BenchmarkCSVParser(b *testing.B) {
	parser := NewCSVParser()
	var sb strings.Builder
	sb.WriteString("source_ip,temperature,humidity\n")
	for i := 0; i < 1000; i++ {
		sb.WriteString("10.0.0.1,21.5,40\n")
	}
	payload := sb.String()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, _ = parser.Parse(strings.NewReader(payload))
	}
}

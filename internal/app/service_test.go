package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellysabi/Sentry-IoT/internal/adapters/firewall"
	"github.com/Kellysabi/Sentry-IoT/internal/adapters/input"
	"github.com/Kellysabi/Sentry-IoT/internal/adapters/output"
	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

type serviceFixture struct {
	svc     *Service
	seq     *stubScorer
	gate    *MitigationGate
	blocker *firewall.MemoryBlocker
	store   *output.MemoryAlertStore
}

func newServiceFixture(t *testing.T, seq *stubScorer, datasetPath string) *serviceFixture {
	t.Helper()
	blocker := firewall.NewMemoryBlocker()
	store := output.NewMemoryAlertStore(100)
	gate := NewMitigationGate(DefaultGateConfig(), blocker, store, nil)

	svc := NewService(ServiceConfig{ExternalDatasetPath: datasetPath}, Dependencies{
		Parser:   input.NewCSVParser(),
		Sequence: seq,
		Density:  zeroDensity{},
		Gate:     gate,
		Blocker:  blocker,
		Store:    store,
	})
	return &serviceFixture{svc: svc, seq: seq, gate: gate, blocker: blocker, store: store}
}

const threeRows = `temperature,humidity,source_ip
21.0,40.0,10.0.0.1
21.5,41.0,10.0.0.2
35.0,90.0,10.0.0.5
`

func TestUpload_EndToEnd(t *testing.T) {
	f := newServiceFixture(t, &stubScorer{scores: []float64{0.1, 0.2, 0.95}}, "")
	ctx := context.Background()

	result, err := f.svc.Upload(ctx, strings.NewReader(threeRows))
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.5"}, result.TriggeredIPs())
	assert.Equal(t, []float64{0.1, 0.2, 0.95}, result.Scores)

	alerts, err := f.store.Recent(ctx, 20)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, 0.95, alerts[0].Score)
	assert.Equal(t, "10.0.0.5", alerts[0].SourceIP)
	assert.Equal(t, 35.0, alerts[0].Details["temperature"])

	blocked, err := f.svc.IsBlocked(ctx, "10.0.0.5")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestUpload_Malformed(t *testing.T) {
	f := newServiceFixture(t, &stubScorer{}, "")
	_, err := f.svc.Upload(context.Background(), strings.NewReader("a,a\n1,2\n"))
	assert.Error(t, err)
	assert.True(t, domain.IsInputError(err))
}

func TestUpload_ScorerLengthMismatch(t *testing.T) {
	f := newServiceFixture(t, &stubScorer{scores: []float64{0.9}}, "")
	_, err := f.svc.Upload(context.Background(), strings.NewReader(threeRows))
	assert.Error(t, err)
	assert.Empty(t, f.blocker.Blocked())
}

func TestProcessBatch(t *testing.T) {
	f := newServiceFixture(t, &stubScorer{constant: 0.9}, "")

	batch := &Batch{
		Seq:    1,
		Header: []string{"temperature", "source_ip"},
		Rows:   [][]string{{"20", "10.1.0.1"}, {"21", "10.1.0.2"}},
	}
	result, err := f.svc.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"10.1.0.1", "10.1.0.2"}, result.TriggeredIPs())
	assert.ElementsMatch(t, []string{"10.1.0.1", "10.1.0.2"}, f.blocker.Blocked())
}

func TestExternalDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.csv")
	require.NoError(t, os.WriteFile(path, []byte(threeRows), 0o644))

	f := newServiceFixture(t, &stubScorer{constant: 0.99}, path)
	scores, err := f.svc.ExternalDataset(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []float64{0.99, 0.99, 0.99}, scores)
	assert.Empty(t, f.blocker.Blocked())
	assert.Zero(t, f.store.Count())
}

func TestExternalDataset_Missing(t *testing.T) {
	f := newServiceFixture(t, &stubScorer{}, filepath.Join(t.TempDir(), "nope.csv"))
	_, err := f.svc.ExternalDataset(context.Background())
	assert.Error(t, err)

	f = newServiceFixture(t, &stubScorer{}, "")
	_, err = f.svc.ExternalDataset(context.Background())
	assert.Error(t, err)
}

func TestServiceBenchmark(t *testing.T) {
	f := newServiceFixture(t, &stubScorer{constant: 0}, "")
	report, err := f.svc.Benchmark(context.Background(), strings.NewReader(`temperature,source_ip,alert
20,10.0.0.1,0
21,10.0.0.2,0
`))
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Sequence.Accuracy)
	assert.Empty(t, f.blocker.Blocked())
}

func TestTrain(t *testing.T) {
	seq := &stubScorer{}
	f := newServiceFixture(t, seq, "")

	n, err := f.svc.Train(context.Background(), strings.NewReader(`temperature,source_ip,alert
20,10.0.0.1,0
45,10.0.0.2,1
`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NotNil(t, seq.trained)
	assert.Equal(t, 2, seq.trained.Len())
}

func TestTrain_RequiresLabels(t *testing.T) {
	f := newServiceFixture(t, &stubScorer{}, "")
	_, err := f.svc.Train(context.Background(), strings.NewReader("temperature,source_ip\n20,10.0.0.1\n"))
	assert.True(t, domain.IsInputError(err))
}

func TestSimulateAlertAndRecent(t *testing.T) {
	f := newServiceFixture(t, &stubScorer{}, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.SimulateAlert(ctx, ipFor(i), map[string]any{"n": i})
		require.NoError(t, err)
	}

	alerts, err := f.svc.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, ipFor(2), alerts[0].SourceIP)
	assert.Equal(t, domain.OriginManual, alerts[0].Origin)

	alerts, err = f.svc.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestUnblock(t *testing.T) {
	f := newServiceFixture(t, &stubScorer{}, "")
	ctx := context.Background()

	_, err := f.svc.SimulateAlert(ctx, "10.2.0.1", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Unblock(ctx, "10.2.0.1"))
	blocked, err := f.svc.IsBlocked(ctx, "10.2.0.1")
	require.NoError(t, err)
	assert.False(t, blocked)

	assert.True(t, domain.IsInputError(f.svc.Unblock(ctx, "unknown")))
	_, err = f.svc.IsBlocked(ctx, "")
	assert.True(t, domain.IsInputError(err))
}

func TestBenchmark_IgnoresMitigationThreshold(t *testing.T) {
	f := newServiceFixture(t, &stubScorer{scores: []float64{0.6, 0.9}}, "")
	f.gate.SetThreshold(0.5)

	report, err := f.svc.Benchmark(context.Background(), strings.NewReader("temperature,alert,source_ip\n20,0,10.0.0.1\n30,1,10.0.0.2\n"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Sequence.Accuracy)
	assert.Equal(t, 0.5, f.gate.Threshold())
}

package detection

import (
	"context"
	"math/rand"
	"sync"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

type memArtifacts struct {
	mu      sync.Mutex
	data    map[string][]byte
	loadErr error
	saves   int
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{data: make(map[string][]byte)}
}

func (m *memArtifacts) Load(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	b, ok := m.data[name]
	if !ok {
		return nil, domain.ErrArtifactNotFound
	}
	return b, nil
}

func (m *memArtifacts) Save(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = data
	m.saves++
	return nil
}

func featureSet(columns []string, rows [][]float64) *domain.FeatureSet {
	fs := &domain.FeatureSet{Columns: columns}
	for i, x := range rows {
		rec := domain.NewRecord(i)
		for j, c := range columns {
			rec.Values[c] = x[j]
		}
		fs.Rows = append(fs.Rows, &domain.FeatureRecord{Record: rec})
	}
	return fs
}

// separable returns n rows whose first feature is shifted for label 1.
func separable(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	labels := make([]int, n)
	for i := range rows {
		label := i % 2
		temp := 20 + rng.NormFloat64()
		if label == 1 {
			temp = 45 + rng.NormFloat64()
		}
		rows[i] = []float64{temp, 40 + rng.NormFloat64()}
		labels[i] = label
	}
	return rows, labels
}

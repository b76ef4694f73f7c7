package detection

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/internal/ports"
)

const eulerGamma = 0.5772156649015329

// IsolationConfig configures the isolation forest.
type IsolationConfig struct {
	Contamination float64 // Expected anomaly fraction, sets the threshold
	Trees         int
	SampleSize    int
	Seed          int64
}

func DefaultIsolationConfig() IsolationConfig {
	return IsolationConfig{
		Contamination: 0.1,
		Trees:         100,
		SampleSize:    256,
		Seed:          42,
	}
}

// IsolationScorer fits an isolation forest on the batch it is given.
type IsolationScorer struct {
	cfg IsolationConfig
}

func NewIsolationScorer(cfg IsolationConfig) *IsolationScorer {
	def := DefaultIsolationConfig()
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		cfg.Contamination = def.Contamination
	}
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = def.SampleSize
	}
	return &IsolationScorer{cfg: cfg}
}

func (s *IsolationScorer) Name() string {
	return "density"
}

// Fit builds a forest on fs and calibrates its threshold so that roughly
// Contamination of fs is labelled anomalous.
func (s *IsolationScorer) Fit(ctx context.Context, fs *domain.FeatureSet) (ports.DensityModel, error) {
	if fs.Len() == 0 {
		return nil, domain.WrapInputError(domain.ErrEmptyBatch, "density fit")
	}
	if len(fs.Columns) == 0 {
		return nil, domain.NewInputError("no numeric feature columns")
	}
	rows, err := fs.MatrixFor(fs.Columns)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(s.cfg.Seed))
	psi := s.cfg.SampleSize
	if psi > len(rows) {
		psi = len(rows)
	}
	limit := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	forest := &IsolationForest{
		Columns: append([]string(nil), fs.Columns...),
		psi:     psi,
		trees:   make([]*iNode, 0, s.cfg.Trees),
	}
	for t := 0; t < s.cfg.Trees; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sample := rng.Perm(len(rows))[:psi]
		forest.trees = append(forest.trees, buildTree(rng, rows, sample, 0, limit))
	}

	scores := forest.scoreRows(rows)
	forest.Threshold = quantile(scores, 1-s.cfg.Contamination)

	log.Debug().
		Int("rows", len(rows)).
		Int("trees", len(forest.trees)).
		Float64("threshold", forest.Threshold).
		Msg("Isolation forest fitted")
	return forest, nil
}

// IsolationForest is a fitted forest. Safe for concurrent Score calls.
type IsolationForest struct {
	Columns   []string
	Threshold float64

	psi   int
	trees []*iNode
}

// Score labels each row 1 when its anomaly score exceeds the threshold.
func (f *IsolationForest) Score(fs *domain.FeatureSet) ([]int, error) {
	rows, err := fs.MatrixFor(f.Columns)
	if err != nil {
		return nil, err
	}
	scores := f.scoreRows(rows)
	labels := make([]int, len(scores))
	for i, v := range scores {
		if v > f.Threshold {
			labels[i] = 1
		}
	}
	return labels, nil
}

func (f *IsolationForest) scoreRows(rows [][]float64) []float64 {
	norm := averagePathLength(f.psi)
	out := make([]float64, len(rows))
	for i, x := range rows {
		total := 0.0
		for _, t := range f.trees {
			total += t.pathLength(x, 0)
		}
		mean := total / float64(len(f.trees))
		if norm == 0 {
			out[i] = 0.5
			continue
		}
		out[i] = math.Pow(2, -mean/norm)
	}
	return out
}

type iNode struct {
	feature     int
	split       float64
	left, right *iNode
	size        int
}

func (n *iNode) leaf() bool { return n.left == nil }

func (n *iNode) pathLength(x []float64, depth int) float64 {
	if n.leaf() {
		return float64(depth) + averagePathLength(n.size)
	}
	if x[n.feature] < n.split {
		return n.left.pathLength(x, depth+1)
	}
	return n.right.pathLength(x, depth+1)
}

func buildTree(rng *rand.Rand, rows [][]float64, idx []int, depth, limit int) *iNode {
	if depth >= limit || len(idx) <= 1 {
		return &iNode{size: len(idx)}
	}

	d := len(rows[idx[0]])
	for _, feature := range rng.Perm(d) {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := rows[i][feature]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi <= lo {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)
		var left, right []int
		for _, i := range idx {
			if rows[i][feature] < split {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		return &iNode{
			feature: feature,
			split:   split,
			left:    buildTree(rng, rows, left, depth+1, limit),
			right:   buildTree(rng, rows, right, depth+1, limit),
			size:    len(idx),
		}
	}

	return &iNode{size: len(idx)}
}

// averagePathLength is the expected path length of an unsuccessful search
// in a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// quantile uses linear interpolation between closest ranks.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

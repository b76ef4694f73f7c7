package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

const recurrentArtifactVersion = 1

// RecurrentConfig holds training hyperparameters.
type RecurrentConfig struct {
	HiddenUnits  int
	Epochs       int
	BatchSize    int
	LearningRate float64
	Patience     int
	Seed         int64
}

func DefaultRecurrentConfig() RecurrentConfig {
	return RecurrentConfig{
		HiddenUnits:  32,
		Epochs:       10,
		BatchSize:    32,
		LearningRate: 0.05,
		Patience:     3,
		Seed:         42,
	}
}

// RecurrentModel is an Elman cell with a sigmoid head. Inputs are
// standardized with the statistics of the training batch. A loaded model is
// never mutated.
type RecurrentModel struct {
	Version   int         `json:"version"`
	Columns   []string    `json:"columns"`
	Mean      []float64   `json:"mean"`
	Scale     []float64   `json:"scale"`
	Wx        [][]float64 `json:"wx"`
	Wh        [][]float64 `json:"wh"`
	Bh        []float64   `json:"bh"`
	Wo        []float64   `json:"wo"`
	Bo        float64     `json:"bo"`
	Loss      float64     `json:"loss"`
	Epochs    int         `json:"epochs"`
	TrainedAt time.Time   `json:"trained_at"`
}

// DecodeRecurrentModel parses and validates an artifact.
func DecodeRecurrentModel(data []byte) (*RecurrentModel, error) {
	var m RecurrentModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact: %w", err)
	}
	return &m, nil
}

func (m *RecurrentModel) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func (m *RecurrentModel) validate() error {
	if m.Version != recurrentArtifactVersion {
		return fmt.Errorf("unsupported version %d", m.Version)
	}
	d, h := len(m.Columns), len(m.Bh)
	if d == 0 || h == 0 {
		return fmt.Errorf("empty model")
	}
	if len(m.Mean) != d || len(m.Scale) != d || len(m.Wx) != h || len(m.Wh) != h || len(m.Wo) != h {
		return fmt.Errorf("shape mismatch")
	}
	for i := 0; i < h; i++ {
		if len(m.Wx[i]) != d || len(m.Wh[i]) != h {
			return fmt.Errorf("shape mismatch in hidden unit %d", i)
		}
	}
	return nil
}

func (m *RecurrentModel) hidden() int { return len(m.Bh) }

func (m *RecurrentModel) standardize(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - m.Mean[j]) / m.Scale[j]
	}
	return out
}

// forward runs the cell over seq (already standardized) from a zero state
// and returns every hidden state, h[0] being the initial state.
func (m *RecurrentModel) forward(seq [][]float64) [][]float64 {
	h := m.hidden()
	states := make([][]float64, len(seq)+1)
	states[0] = make([]float64, h)
	for t, x := range seq {
		prev := states[t]
		next := make([]float64, h)
		for i := 0; i < h; i++ {
			a := m.Bh[i]
			for j, xv := range x {
				a += m.Wx[i][j] * xv
			}
			for k, hv := range prev {
				a += m.Wh[i][k] * hv
			}
			next[i] = math.Tanh(a)
		}
		states[t+1] = next
	}
	return states
}

func (m *RecurrentModel) head(h []float64) float64 {
	z := m.Bo
	for i, v := range h {
		z += m.Wo[i] * v
	}
	return sigmoid(z)
}

// PredictSequence scores a sequence of raw feature vectors.
func (m *RecurrentModel) PredictSequence(seq [][]float64) float64 {
	std := make([][]float64, len(seq))
	for t, x := range seq {
		std[t] = m.standardize(x)
	}
	states := m.forward(std)
	return m.head(states[len(states)-1])
}

// Predict scores each row as an independent single-step sequence.
func (m *RecurrentModel) Predict(rows [][]float64) []float64 {
	out := make([]float64, len(rows))
	for i, x := range rows {
		out[i] = m.PredictSequence([][]float64{x})
	}
	return out
}

type gradients struct {
	wx, wh [][]float64
	bh, wo []float64
	bo     float64
}

func newGradients(h, d int) *gradients {
	return &gradients{wx: matrix(h, d), wh: matrix(h, h), bh: make([]float64, h), wo: make([]float64, h)}
}

// backward accumulates the gradient of the binary cross-entropy loss for one
// labelled sequence and returns that loss.
func (m *RecurrentModel) backward(seq [][]float64, label float64, g *gradients) float64 {
	states := m.forward(seq)
	last := states[len(states)-1]
	y := m.head(last)

	dz := y - label
	for i, v := range last {
		g.wo[i] += dz * v
	}
	g.bo += dz

	h := m.hidden()
	dh := make([]float64, h)
	for i := range dh {
		dh[i] = dz * m.Wo[i]
	}

	for t := len(seq); t >= 1; t-- {
		cur, prev, x := states[t], states[t-1], seq[t-1]
		da := make([]float64, h)
		for i := 0; i < h; i++ {
			da[i] = dh[i] * (1 - cur[i]*cur[i])
			g.bh[i] += da[i]
			for j, xv := range x {
				g.wx[i][j] += da[i] * xv
			}
			for k, hv := range prev {
				g.wh[i][k] += da[i] * hv
			}
		}
		next := make([]float64, h)
		for k := 0; k < h; k++ {
			for i := 0; i < h; i++ {
				next[k] += m.Wh[i][k] * da[i]
			}
		}
		dh = next
	}

	return binaryCrossEntropy(y, label)
}

func (m *RecurrentModel) apply(g *gradients, lr float64, n int) {
	scale := lr / float64(n)
	for i := range m.Wx {
		for j := range m.Wx[i] {
			m.Wx[i][j] -= scale * g.wx[i][j]
		}
		for k := range m.Wh[i] {
			m.Wh[i][k] -= scale * g.wh[i][k]
		}
		m.Bh[i] -= scale * g.bh[i]
		m.Wo[i] -= scale * g.wo[i]
	}
	m.Bo -= scale * g.bo
}

// TrainRecurrent fits a model on rows with binary labels, each row being a
// single-step sequence. Training stops early once the epoch loss has not
// improved for cfg.Patience epochs.
func TrainRecurrent(ctx context.Context, columns []string, rows [][]float64, labels []int, cfg RecurrentConfig) (*RecurrentModel, error) {
	if len(rows) == 0 || len(columns) == 0 {
		return nil, fmt.Errorf("no training data")
	}
	if cfg.HiddenUnits <= 0 {
		cfg.HiddenUnits = 32
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = 10
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.05
	}

	d, h := len(columns), cfg.HiddenUnits
	rng := rand.New(rand.NewSource(cfg.Seed))

	m := &RecurrentModel{
		Version: recurrentArtifactVersion,
		Columns: append([]string(nil), columns...),
		Wx:      glorot(rng, h, d),
		Wh:      glorot(rng, h, h),
		Bh:      make([]float64, h),
		Wo:      glorot(rng, 1, h)[0],
	}
	m.Mean, m.Scale = columnStats(rows)

	std := make([][][]float64, len(rows))
	for i, x := range rows {
		std[i] = [][]float64{m.standardize(x)}
	}

	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}

	best := math.Inf(1)
	stale := 0
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		total := 0.0
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := start + cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			g := newGradients(h, d)
			for _, idx := range order[start:end] {
				total += m.backward(std[idx], float64(labels[idx]), g)
			}
			m.apply(g, cfg.LearningRate, end-start)
		}

		loss := total / float64(len(rows))
		m.Loss = loss
		m.Epochs = epoch
		log.Debug().Int("epoch", epoch).Float64("loss", loss).Msg("Sequence model epoch complete")

		if loss < best-1e-9 {
			best = loss
			stale = 0
			continue
		}
		stale++
		if cfg.Patience > 0 && stale >= cfg.Patience {
			log.Debug().Int("epoch", epoch).Msg("Early stopping sequence model training")
			break
		}
	}

	m.TrainedAt = time.Now().UTC()
	return m, nil
}

func columnStats(rows [][]float64) (mean, scale []float64) {
	d := len(rows[0])
	mean = make([]float64, d)
	scale = make([]float64, d)
	for _, x := range rows {
		for j, v := range x {
			mean[j] += v
		}
	}
	n := float64(len(rows))
	for j := range mean {
		mean[j] /= n
	}
	for _, x := range rows {
		for j, v := range x {
			diff := v - mean[j]
			scale[j] += diff * diff
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] < 1e-12 {
			scale[j] = 1
		}
	}
	return mean, scale
}

func glorot(rng *rand.Rand, rows, cols int) [][]float64 {
	limit := math.Sqrt(6 / float64(rows+cols))
	m := matrix(rows, cols)
	for i := range m {
		for j := range m[i] {
			m[i][j] = (rng.Float64()*2 - 1) * limit
		}
	}
	return m
}

func matrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func binaryCrossEntropy(y, label float64) float64 {
	const eps = 1e-12
	y = math.Min(math.Max(y, eps), 1-eps)
	return -(label*math.Log(y) + (1-label)*math.Log(1-y))
}

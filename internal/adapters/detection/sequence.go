// Package detection implements the anomaly scorers.
//
// SequenceScorer serves a pretrained recurrent model loaded from an artifact
// store. The loaded model is published through an atomic pointer so the
// scoring path never takes a lock beyond the train/score barrier.
//
// Load Policy:
//   - Lazy: the first Score call loads the artifact
//   - Missing artifact: deterministic seeded fallback, retried on next call
//   - Any other load error: returned to the caller
//   - Train and Reload swap the published model
//
// Thread Safety: All methods are safe for concurrent access.
package detection

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/internal/ports"
)

// SequenceConfig configures the sequence scorer.
type SequenceConfig struct {
	ArtifactName string // Artifact key in the store
	FallbackSeed int64  // Seed for scores when no artifact exists
	Training     RecurrentConfig
}

func DefaultSequenceConfig() SequenceConfig {
	return SequenceConfig{
		ArtifactName: "sequence_model",
		FallbackSeed: 42,
		Training:     DefaultRecurrentConfig(),
	}
}

// ModelStatus describes the active sequence model.
type ModelStatus struct {
	Loaded    bool      `json:"loaded"`
	Fallback  bool      `json:"fallback"`
	Columns   []string  `json:"columns,omitempty"`
	TrainedAt time.Time `json:"trained_at,omitempty"`
	Loss      float64   `json:"loss,omitempty"`
}

type SequenceScorer struct {
	store ports.ArtifactStore
	cfg   SequenceConfig

	model   atomic.Pointer[RecurrentModel]
	barrier sync.RWMutex // read: scoring, write: artifact write + swap
	loadMu  sync.Mutex   // serializes lazy loads

	fallbacks atomic.Int64
}

func NewSequenceScorer(store ports.ArtifactStore, cfg SequenceConfig) *SequenceScorer {
	if cfg.ArtifactName == "" {
		cfg.ArtifactName = "sequence_model"
	}
	return &SequenceScorer{store: store, cfg: cfg}
}

func (s *SequenceScorer) Name() string {
	return "sequence"
}

// Score returns one score in [0,1] per row of fs.
func (s *SequenceScorer) Score(ctx context.Context, fs *domain.FeatureSet) ([]float64, error) {
	s.barrier.RLock()
	defer s.barrier.RUnlock()

	m := s.model.Load()
	if m == nil {
		loaded, err := s.loadOnce(ctx)
		switch {
		case errors.Is(err, domain.ErrArtifactNotFound):
			s.fallbacks.Add(1)
			log.Debug().Int("rows", fs.Len()).Int64("seed", s.cfg.FallbackSeed).Msg("No sequence model artifact, using seeded fallback scores")
			return FallbackScores(fs.Len(), s.cfg.FallbackSeed), nil
		case err != nil:
			return nil, err
		}
		m = loaded
	}

	if fs.Len() == 0 {
		return []float64{}, nil
	}

	rows, err := fs.MatrixFor(m.Columns)
	if err != nil {
		return nil, err
	}
	return m.Predict(rows), nil
}

// loadOnce loads the artifact unless a concurrent caller already did.
func (s *SequenceScorer) loadOnce(ctx context.Context) (*RecurrentModel, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if m := s.model.Load(); m != nil {
		return m, nil
	}

	m, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.model.Store(m)
	log.Info().
		Str("artifact", s.cfg.ArtifactName).
		Strs("columns", m.Columns).
		Time("trained_at", m.TrainedAt).
		Msg("Sequence model loaded")
	return m, nil
}

func (s *SequenceScorer) load(ctx context.Context) (*RecurrentModel, error) {
	data, err := s.store.Load(ctx, s.cfg.ArtifactName)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load sequence model: %w", err)
	}
	return DecodeRecurrentModel(data)
}

// Reload re-reads the artifact and swaps the published model. A missing
// artifact clears the model so scoring falls back.
func (s *SequenceScorer) Reload(ctx context.Context) error {
	s.barrier.Lock()
	defer s.barrier.Unlock()

	m, err := s.load(ctx)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		s.model.Store(nil)
		log.Warn().Str("artifact", s.cfg.ArtifactName).Msg("Sequence model artifact missing on reload, falling back")
		return nil
	}
	if err != nil {
		return err
	}
	s.model.Store(m)
	log.Info().Str("artifact", s.cfg.ArtifactName).Msg("Sequence model reloaded")
	return nil
}

// Train fits a new model, persists it and publishes it.
func (s *SequenceScorer) Train(ctx context.Context, fs *domain.FeatureSet, labels []int) error {
	if fs.Len() == 0 {
		return domain.WrapInputError(domain.ErrEmptyBatch, "training set")
	}
	if len(labels) != fs.Len() {
		return domain.NewInputError("label count %d does not match row count %d", len(labels), fs.Len())
	}
	for i, l := range labels {
		if l != 0 && l != 1 {
			return domain.NewInputError("non-binary label %d at row %d", l, i)
		}
	}
	if len(fs.Columns) == 0 {
		return domain.NewInputError("no numeric feature columns")
	}

	rows, err := fs.MatrixFor(fs.Columns)
	if err != nil {
		return err
	}

	start := time.Now()
	m, err := TrainRecurrent(ctx, fs.Columns, rows, labels, s.cfg.Training)
	if err != nil {
		return fmt.Errorf("train sequence model: %w", err)
	}

	data, err := m.Encode()
	if err != nil {
		return fmt.Errorf("encode sequence model: %w", err)
	}

	s.barrier.Lock()
	defer s.barrier.Unlock()

	if err := s.store.Save(ctx, s.cfg.ArtifactName, data); err != nil {
		return fmt.Errorf("save sequence model: %w", err)
	}
	s.model.Store(m)

	log.Info().
		Int("rows", len(rows)).
		Int("epochs", m.Epochs).
		Float64("loss", m.Loss).
		Dur("duration", time.Since(start)).
		Msg("Sequence model trained")
	return nil
}

func (s *SequenceScorer) Status() ModelStatus {
	m := s.model.Load()
	if m == nil {
		return ModelStatus{Fallback: true}
	}
	return ModelStatus{Loaded: true, Columns: m.Columns, TrainedAt: m.TrainedAt, Loss: m.Loss}
}

// FallbackCount returns how many Score calls used the seeded fallback.
func (s *SequenceScorer) FallbackCount() int64 {
	return s.fallbacks.Load()
}

// FallbackScores returns n uniform values in [0,1) drawn from a fresh
// generator seeded with seed. Equal inputs give equal outputs.
func FallbackScores(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.Float64()
	}
	return out
}

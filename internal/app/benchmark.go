package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/internal/ports"
)

// Benchmark compares both scorers on one labelled batch. It has no effect
// on block state or the alert store. Sequence predictions are cut at
// DefaultThreshold whatever the mitigation threshold is.
type Benchmark struct {
	sequence ports.SequenceScorer
	density  ports.DensityScorer
}

func NewBenchmark(sequence ports.SequenceScorer, density ports.DensityScorer) *Benchmark {
	return &Benchmark{sequence: sequence, density: density}
}

// Run scores fs with both scorers. A nil labels slice is treated as all
// zeros. Density latency excludes the fit; sequence latency includes a
// possible artifact load.
func (b *Benchmark) Run(ctx context.Context, fs *domain.FeatureSet, labels []int) (*domain.BenchmarkReport, error) {
	if fs.Len() == 0 {
		return nil, domain.WrapInputError(domain.ErrEmptyBatch, "benchmark")
	}
	if labels == nil {
		labels = make([]int, fs.Len())
	}
	if len(labels) != fs.Len() {
		return nil, domain.NewInputError("label count %d does not match row count %d", len(labels), fs.Len())
	}

	start := time.Now()
	scores, err := b.sequence.Score(ctx, fs)
	seqLatency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%s scorer: %w", b.sequence.Name(), err)
	}

	model, err := b.density.Fit(ctx, fs)
	if err != nil {
		return nil, fmt.Errorf("%s fit: %w", b.density.Name(), err)
	}
	start = time.Now()
	flags, err := model.Score(fs)
	densLatency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%s scorer: %w", b.density.Name(), err)
	}

	seqHits := 0
	for i, s := range scores {
		pred := 0
		if s > DefaultThreshold {
			pred = 1
		}
		if pred == labels[i] {
			seqHits++
		}
	}

	densPreds := make([]float64, len(flags))
	densHits := 0
	for i, f := range flags {
		densPreds[i] = float64(f)
		if f == labels[i] {
			densHits++
		}
	}

	n := float64(fs.Len())
	report := &domain.BenchmarkReport{
		Rows: fs.Len(),
		Sequence: domain.ScorerReport{
			Latency:     seqLatency,
			Accuracy:    float64(seqHits) / n,
			Predictions: scores,
		},
		Density: domain.ScorerReport{
			Latency:     densLatency,
			Accuracy:    float64(densHits) / n,
			Predictions: densPreds,
		},
	}

	log.Info().
		Int("rows", report.Rows).
		Dur("sequence_latency", seqLatency).
		Float64("sequence_accuracy", report.Sequence.Accuracy).
		Dur("density_latency", densLatency).
		Float64("density_accuracy", report.Density.Accuracy).
		Msg("Benchmark complete")
	return report, nil
}

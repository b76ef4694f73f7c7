// Package ports defines the anomaly scorer interfaces.
//
// Two scorer families exist: a sequence scorer producing continuous scores
// from a pretrained artifact, and a density scorer that is fitted on the
// batch it scores.
package ports

import (
	"context"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

// SequenceScorer defines the interface for the pretrained sequence model.
//
// Implementations:
//   - detection.SequenceScorer: recurrent cell with sigmoid head, seeded
//     pseudo-random fallback when no artifact exists
//
// Thread Safety: Implementations MUST be safe for concurrent Score() calls
// and MUST serialize Train() against Score().
type SequenceScorer interface {
	// Score returns one value in [0,1] per row of fs, in row order.
	//
	// Contract:
	//   - MUST NOT modify fs
	//   - A missing artifact is not an error (fallback strategy)
	//   - Any other artifact load failure is returned
	Score(ctx context.Context, fs *domain.FeatureSet) ([]float64, error)

	// Train fits a new model on fs with binary labels, persists it and makes
	// it the active model. The previous artifact is overwritten.
	Train(ctx context.Context, fs *domain.FeatureSet, labels []int) error

	// Name returns the scorer's identifier for logging and metrics.
	Name() string
}

// DensityScorer fits an unsupervised density model.
type DensityScorer interface {
	// Fit builds a model calibrated on fs. An empty fs is an input error.
	Fit(ctx context.Context, fs *domain.FeatureSet) (DensityModel, error)

	Name() string
}

// DensityModel labels rows 1 (anomalous) or 0 (normal).
type DensityModel interface {
	Score(fs *domain.FeatureSet) ([]int, error)
}

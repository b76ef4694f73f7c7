package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/internal/ports"
)

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 500
)

// Dependencies are the collaborators the service orchestrates. Metrics and
// Observer may be nil.
type Dependencies struct {
	Parser    ports.TableParser
	Extractor *FeatureExtractor
	Sequence  ports.SequenceScorer
	Density   ports.DensityScorer
	Gate      *MitigationGate
	Blocker   ports.NetworkBlocker
	Store     ports.AlertStore
	Metrics   ports.MetricsCollector
	Observer  ports.ProcessingObserver
}

type ServiceConfig struct {
	ExternalDatasetPath string
}

// Service is the ingestion orchestrator shared by the HTTP transport, the
// CLI commands and the stream worker pool.
type Service struct {
	deps      Dependencies
	cfg       ServiceConfig
	benchmark *Benchmark
}

func NewService(cfg ServiceConfig, deps Dependencies) *Service {
	if deps.Extractor == nil {
		deps.Extractor = NewFeatureExtractor(DefaultWindow)
	}
	return &Service{
		deps:      deps,
		cfg:       cfg,
		benchmark: NewBenchmark(deps.Sequence, deps.Density),
	}
}

// Upload parses a tabular payload and runs it through scoring and
// mitigation.
func (s *Service) Upload(ctx context.Context, r io.Reader) (*domain.MitigationResult, error) {
	table, err := s.deps.Parser.Parse(r)
	if err != nil {
		return nil, err
	}
	return s.ProcessTable(ctx, table)
}

// ProcessTable extracts, scores and mitigates one parsed batch.
func (s *Service) ProcessTable(ctx context.Context, table *domain.Table) (*domain.MitigationResult, error) {
	fs := s.deps.Extractor.Extract(table)
	s.observeDropped(len(table.Records) - fs.Len() + table.Dropped)

	scores, err := s.score(ctx, fs)
	if err != nil {
		return nil, err
	}

	result, err := s.deps.Gate.Mitigate(ctx, fs, scores)
	if err != nil {
		return result, err
	}

	s.observeRows(fs.Len(), len(result.Mitigations))
	return result, nil
}

// ProcessBatch types a streamed batch and runs it through the pipeline.
func (s *Service) ProcessBatch(ctx context.Context, batch *Batch) (*domain.MitigationResult, error) {
	table, err := s.deps.Parser.Build(batch.Header, batch.Rows)
	if err != nil {
		return nil, err
	}
	return s.ProcessTable(ctx, table)
}

// ExternalDataset scores the configured dataset file without mitigation.
func (s *Service) ExternalDataset(ctx context.Context) ([]float64, error) {
	if s.cfg.ExternalDatasetPath == "" {
		return nil, fmt.Errorf("external dataset path is not configured")
	}
	f, err := os.Open(s.cfg.ExternalDatasetPath)
	if err != nil {
		return nil, fmt.Errorf("open external dataset: %w", err)
	}
	defer f.Close()

	table, err := s.deps.Parser.Parse(f)
	if err != nil {
		return nil, err
	}
	fs := s.deps.Extractor.Extract(table)

	log.Info().
		Str("path", s.cfg.ExternalDatasetPath).
		Int("rows", fs.Len()).
		Msg("Scoring external dataset")
	return s.score(ctx, fs)
}

// Benchmark compares both scorers on the payload, using its alert column as
// ground truth when every row carries one.
func (s *Service) Benchmark(ctx context.Context, r io.Reader) (*domain.BenchmarkReport, error) {
	table, err := s.deps.Parser.Parse(r)
	if err != nil {
		return nil, err
	}
	fs := s.deps.Extractor.Extract(table)

	var labels []int
	if fs.HasLabels() {
		labels = fs.Labels()
	}
	return s.benchmark.Run(ctx, fs, labels)
}

// Train fits the sequence model on a labelled payload.
func (s *Service) Train(ctx context.Context, r io.Reader) (int, error) {
	table, err := s.deps.Parser.Parse(r)
	if err != nil {
		return 0, err
	}
	if !table.HasColumn(domain.ColumnLabel) {
		return 0, domain.NewInputError("training data needs an %q column", domain.ColumnLabel)
	}
	fs := s.deps.Extractor.Extract(table)
	if fs.Len() > 0 && !fs.HasLabels() {
		return 0, domain.NewInputError("column %q must be numeric", domain.ColumnLabel)
	}
	if err := s.deps.Sequence.Train(ctx, fs, fs.Labels()); err != nil {
		return 0, err
	}
	return fs.Len(), nil
}

// SimulateAlert raises a manual alert for addr.
func (s *Service) SimulateAlert(ctx context.Context, addr string, details map[string]any) (*domain.Alert, error) {
	return s.deps.Gate.Manual(ctx, addr, details)
}

// Recent returns the newest alerts. n is clamped to [1, MaxRecentLimit];
// zero or less selects DefaultRecentLimit.
func (s *Service) Recent(ctx context.Context, n int) ([]*domain.Alert, error) {
	switch {
	case n <= 0:
		n = DefaultRecentLimit
	case n > MaxRecentLimit:
		n = MaxRecentLimit
	}
	alerts, err := s.deps.Store.Recent(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("read recent alerts: %w", err)
	}
	return alerts, nil
}

func (s *Service) IsBlocked(ctx context.Context, addr string) (bool, error) {
	ip, ok := validAddress(addr)
	if !ok {
		return false, domain.WrapInputError(domain.ErrUnknownAddress, "source_ip %q", addr)
	}
	return s.deps.Blocker.IsBlocked(ctx, ip)
}

func (s *Service) Unblock(ctx context.Context, addr string) error {
	ip, ok := validAddress(addr)
	if !ok {
		return domain.WrapInputError(domain.ErrUnknownAddress, "source_ip %q", addr)
	}
	if err := s.deps.Blocker.Unblock(ctx, ip); err != nil {
		return fmt.Errorf("unblock %s: %w", ip, err)
	}
	log.Info().Str("source_ip", ip).Str("blocker", s.deps.Blocker.Name()).Msg("Source address unblocked")
	return nil
}

// Ping checks the alert store.
func (s *Service) Ping(ctx context.Context) error {
	return s.deps.Store.Ping(ctx)
}

func (s *Service) Gate() *MitigationGate {
	return s.deps.Gate
}

func (s *Service) score(ctx context.Context, fs *domain.FeatureSet) ([]float64, error) {
	start := time.Now()
	scores, err := s.deps.Sequence.Score(ctx, fs)
	if err != nil {
		return nil, fmt.Errorf("%s scorer: %w", s.deps.Sequence.Name(), err)
	}
	if len(scores) != fs.Len() {
		return nil, fmt.Errorf("%s scorer returned %d scores for %d rows", s.deps.Sequence.Name(), len(scores), fs.Len())
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveScoringTime(s.deps.Sequence.Name(), time.Since(start).Seconds())
	}
	return scores, nil
}

func (s *Service) observeRows(total, anomalous int) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.IncrementRows(total)
		s.deps.Metrics.IncrementAnomalies(s.deps.Sequence.Name(), anomalous)
	}
	if s.deps.Observer != nil {
		for i := 0; i < total; i++ {
			if i < anomalous {
				s.deps.Observer.IncrementRowsProcessedByResult("anomalous")
			} else {
				s.deps.Observer.IncrementRowsProcessedByResult("normal")
			}
		}
	}
}

func (s *Service) observeDropped(n int) {
	if s.deps.Observer == nil {
		return
	}
	for i := 0; i < n; i++ {
		s.deps.Observer.IncrementRowsProcessedByResult("dropped")
	}
}

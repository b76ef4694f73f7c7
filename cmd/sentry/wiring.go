package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/internal/adapters/artifact"
	"github.com/Kellysabi/Sentry-IoT/internal/adapters/detection"
	"github.com/Kellysabi/Sentry-IoT/internal/adapters/firewall"
	"github.com/Kellysabi/Sentry-IoT/internal/adapters/input"
	"github.com/Kellysabi/Sentry-IoT/internal/adapters/output"
	"github.com/Kellysabi/Sentry-IoT/internal/app"
	"github.com/Kellysabi/Sentry-IoT/internal/config"
	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/internal/ports"
	"github.com/Kellysabi/Sentry-IoT/pkg/redisconn"
)

// stack is every stateful handle a command needs, built once from the
// configuration and torn down in reverse order.
type stack struct {
	cfg       *config.Config
	redis     *redis.Client
	store     ports.AlertStore
	blocker   ports.NetworkBlocker
	artifacts ports.ArtifactStore
	sequence  *detection.SequenceScorer
	density   *detection.IsolationScorer
	metrics   *output.PrometheusMetrics
	gate      *app.MitigationGate
	service   *app.Service

	closers []func() error
}

// buildStack wires the core. pipeline is nil outside watch mode.
func buildStack(ctx context.Context, cfg *config.Config, pipeline *domain.PipelineMetrics) (s *stack, err error) {
	s = &stack{cfg: cfg}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.metrics = output.NewPrometheusMetrics("sentry", prometheus.NewRegistry(), pipeline)

	if s.store, err = s.buildStore(ctx); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.store.Close)

	if s.blocker, err = s.buildBlocker(ctx); err != nil {
		return nil, err
	}

	if s.artifacts, err = s.buildArtifacts(); err != nil {
		return nil, err
	}

	s.sequence = detection.NewSequenceScorer(s.artifacts, detection.SequenceConfig{
		ArtifactName: cfg.Model.ArtifactName,
		FallbackSeed: cfg.Model.FallbackSeed,
		Training: detection.RecurrentConfig{
			HiddenUnits:  cfg.Model.HiddenUnits,
			Epochs:       cfg.Model.Epochs,
			BatchSize:    cfg.Model.BatchSize,
			LearningRate: cfg.Model.LearningRate,
			Patience:     cfg.Model.Patience,
			Seed:         cfg.Model.Seed,
		},
	})
	s.density = detection.NewIsolationScorer(detection.IsolationConfig{
		Contamination: cfg.Density.Contamination,
		Trees:         cfg.Density.Trees,
		SampleSize:    cfg.Density.SampleSize,
		Seed:          cfg.Density.Seed,
	})

	s.gate = app.NewMitigationGate(app.GateConfig{
		Threshold:           cfg.Mitigation.Threshold,
		SerializePerAddress: cfg.Mitigation.SerializePerAddress,
	}, s.blocker, s.store, s.metrics)
	s.gate.AddSubscriber(s.metrics)

	extractor := app.NewFeatureExtractor(cfg.Features.Window)
	s.service = app.NewService(app.ServiceConfig{
		ExternalDatasetPath: cfg.Dataset.ExternalPath,
	}, app.Dependencies{
		Parser:    input.NewCSVParser(),
		Extractor: extractor,
		Sequence:  s.sequence,
		Density:   s.density,
		Gate:      s.gate,
		Blocker:   s.blocker,
		Store:     s.store,
		Metrics:   s.metrics,
		Observer:  s.metrics,
	})

	log.Info().
		Str("store", cfg.Store.Driver).
		Str("blocker", s.blocker.Name()).
		Str("artifacts", cfg.Model.ArtifactStore).
		Float64("threshold", cfg.Mitigation.Threshold).
		Int("feature_window", extractor.Window()).
		Msg("Core components initialized")
	return s, nil
}

// redisClient connects on first use and is shared by the store and blocker.
func (s *stack) redisClient(ctx context.Context) (*redis.Client, error) {
	if s.redis != nil {
		return s.redis, nil
	}
	client, err := redisconn.Connect(ctx, redisconn.Config{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
		TLS:      s.cfg.Redis.TLS,
	})
	if err != nil {
		return nil, err
	}
	s.redis = client
	s.closers = append(s.closers, client.Close)
	return client, nil
}

func (s *stack) buildStore(ctx context.Context) (ports.AlertStore, error) {
	cfg := s.cfg.Store
	switch cfg.Driver {
	case "memory":
		warnCappedStore(cfg.Driver, cfg.MaxAlerts)
		return output.NewMemoryAlertStore(cfg.MaxAlerts), nil
	case "sqlite":
		return output.NewSQLiteAlertStore(cfg.SQLitePath)
	case "postgres":
		return output.NewPostgresAlertStore(ctx, output.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.Name,
			SSLMode:  cfg.Postgres.SSLMode,
		})
	case "redis":
		client, err := s.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		warnCappedStore(cfg.Driver, cfg.MaxAlerts)
		return output.NewRedisAlertStore(client, cfg.RedisKey, int64(cfg.MaxAlerts)), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (s *stack) buildBlocker(ctx context.Context) (ports.NetworkBlocker, error) {
	cfg := s.cfg.Mitigation
	switch cfg.Blocker {
	case "iptables":
		return firewall.NewIPTablesBlocker(firewall.IPTablesConfig{
			Chain:          cfg.IPTables.Chain,
			Target:         cfg.IPTables.Target,
			IPv4Binary:     cfg.IPTables.Binary,
			IPv6Binary:     cfg.IPTables.Binary6,
			CommandTimeout: cfg.IPTables.CommandTimeout,
			BreakerTimeout: cfg.IPTables.BreakerTimeout,
			MaxFailures:    cfg.IPTables.MaxFailures,
		}, firewall.ExecRunner), nil
	case "redis":
		client, err := s.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return firewall.NewRedisBlocker(client, cfg.RedisKey), nil
	case "memory":
		log.Warn().Msg("Memory blocker selected, blocks are not enforced on the host")
		return firewall.NewMemoryBlocker(), nil
	default:
		return nil, fmt.Errorf("unknown blocker %q", cfg.Blocker)
	}
}

func (s *stack) buildArtifacts() (ports.ArtifactStore, error) {
	cfg := s.cfg.Model
	switch cfg.ArtifactStore {
	case "bolt":
		store, err := artifact.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		return store, nil
	default:
		return artifact.NewFileStore(cfg.Dir)
	}
}

// buildDispatcher returns nil when no secondary alert output is enabled.
func (s *stack) buildDispatcher() (*app.AlertDispatcher, error) {
	var alerters []ports.Alerter

	if j := s.cfg.Output.JSON; j.Enabled {
		alerter, err := output.NewJSONAlerter(output.JSONAlerterConfig{
			FilePath:   j.Path,
			Stdout:     j.Stdout,
			Pretty:     j.Pretty,
			MaxSizeMB:  j.MaxSizeMB,
			MaxBackups: j.MaxBackups,
			MaxAgeDays: j.MaxAgeDays,
			Compress:   j.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create JSON alerter: %w", err)
		}
		alerters = append(alerters, alerter)
	}

	if k := s.cfg.Output.Kafka; k.Enabled {
		notifier, err := output.NewKafkaNotifier(k.Settings)
		if err != nil {
			for _, a := range alerters {
				a.Close()
			}
			return nil, fmt.Errorf("failed to create kafka notifier: %w", err)
		}
		alerters = append(alerters, notifier)
	}

	if len(alerters) == 0 {
		return nil, nil
	}
	dcfg := app.DefaultDispatcherConfig()
	dcfg.BufferSize = s.cfg.Output.QueueSize
	dcfg.OverflowPath = s.cfg.Output.OverflowPath
	dispatcher := app.NewAlertDispatcher(dcfg, alerters...)
	s.gate.AddSubscriber(dispatcher)
	s.closers = append(s.closers, dispatcher.Close)
	return dispatcher, nil
}

// healthChecker reports store and blocker reachability.
func (s *stack) healthChecker() *output.HealthChecker {
	health := output.NewHealthChecker(output.DefaultHealthCheckerConfig())
	health.AddCheck("store", s.store.Ping)
	if s.redis != nil {
		health.AddCheck("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		})
	}
	return health
}

func (s *stack) startMetricsServer(extra map[string]http.Handler) {
	if !s.cfg.Metrics.Enabled {
		return
	}
	if err := s.metrics.StartServer(output.MetricsConfig{
		Addr:  s.cfg.Metrics.Addr,
		Path:  s.cfg.Metrics.Path,
		Extra: extra,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to start metrics server")
		return
	}
	s.closers = append(s.closers, s.metrics.StopServer)
}

// Close releases resources in reverse construction order.
func (s *stack) Close() {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("Errors during shutdown")
	}
}

// warnCappedStore flags drivers that evict the oldest alerts at capacity.
func warnCappedStore(driver string, maxAlerts int) {
	log.Warn().
		Str("driver", driver).
		Int("max_alerts", maxAlerts).
		Msg("Alert store is capped, oldest alerts are evicted at capacity")
}

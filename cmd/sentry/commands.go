package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Kellysabi/Sentry-IoT/internal/adapters/input"
	"github.com/Kellysabi/Sentry-IoT/internal/api"
	"github.com/Kellysabi/Sentry-IoT/internal/app"
	"github.com/Kellysabi/Sentry-IoT/internal/config"
	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/internal/tui"
)

var (
	watchFile     string
	watchNoTUI    bool
	watchFromHead bool
	dataFile      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and live alert feed",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail a growing CSV file and mitigate in batches",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit the sequence model on a labelled CSV file",
	Args:  cobra.NoArgs,
	RunE:  runTrain,
}

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Compare the sequence and density scorers on a labelled CSV file",
	Args:  cobra.NoArgs,
	RunE:  runBenchmark,
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <ip>",
	Short: "Remove the block for one source address",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnblock,
}

func init() {
	watchCmd.Flags().StringVarP(&watchFile, "file", "f", "", "CSV file to tail (header on the first line)")
	watchCmd.Flags().BoolVar(&watchNoTUI, "no-tui", false, "disable the dashboard and log alerts instead")
	watchCmd.Flags().BoolVar(&watchFromHead, "from-start", false, "score rows already in the file")
	watchCmd.Flags().Int("workers", 0, "number of worker goroutines (overrides stream.workers)")
	watchCmd.Flags().Int("batch-size", 0, "rows per batch (overrides stream.batch_size)")
	_ = watchCmd.MarkFlagRequired("file")

	for _, c := range []*cobra.Command{trainCmd, benchmarkCmd} {
		c.Flags().StringVarP(&dataFile, "data", "d", "", "labelled CSV file")
		_ = c.MarkFlagRequired("data")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, v, err := loadConfig()
	if err != nil {
		return err
	}
	defer setupLogging(cfg.Logging, false)()

	ctx, stop := signalContext()
	defer stop()

	st, err := buildStack(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.buildDispatcher(); err != nil {
		return err
	}

	hub := api.NewHub(originChecker(cfg.Server.AllowedOrigins))
	st.gate.AddSubscriber(hub)

	var auth *api.Authenticator
	if cfg.Auth.Enabled {
		auth = api.NewAuthenticator(cfg.Auth.APIKeys, cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	}

	srv := api.NewServer(api.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxUploadBytes:  cfg.Server.MaxUploadMB << 20,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, st.service, api.Options{
		Auth:   auth,
		Hub:    hub,
		Health: st.healthChecker(),
		Model:  func() any { return st.sequence.Status() },
	})

	st.startMetricsServer(nil)

	if reload := watchConfig(ctx, v, cfg, st); reload != nil {
		defer reload.Stop()
	}

	log.Info().
		Str("version", Version).
		Str("addr", cfg.Server.Addr).
		Bool("auth", cfg.Auth.Enabled).
		Msg("Sentry-IoT API started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")
		hub.Stop()
		return srv.Shutdown(context.Background())
	})
	return g.Wait()
}

// watchConfig enables hot reload when a config file is in use.
func watchConfig(ctx context.Context, v *viper.Viper, cfg *config.Config, st *stack) *config.HotReload {
	if v.ConfigFileUsed() == "" {
		return nil
	}
	reload := config.NewHotReload(v, cfg, 0)
	reload.OnReload(func(ctx context.Context, next *config.Config) error {
		st.gate.SetThreshold(next.Mitigation.Threshold)
		return st.sequence.Reload(ctx)
	})
	reload.StartWatching(ctx)
	return reload
}

// originChecker returns nil, accepting every origin, when origins holds "*".
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}

// alertLogger is the console subscriber used by watch --no-tui.
type alertLogger struct{}

func (alertLogger) OnAlert(alert *domain.Alert) {
	ev := log.Warn()
	if alert.Level() == domain.AlertLevelCritical {
		ev = log.Error()
	}
	if blockErr, ok := alert.Details["block_error"]; ok {
		ev = ev.Interface("block_error", blockErr)
	}
	ev.Str("alert_id", alert.ID).
		Str("source_ip", alert.SourceIP).
		Float64("score", alert.Score).
		Str("origin", string(alert.Origin)).
		Msg("Anomaly mitigated")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, v, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("workers") {
		cfg.Stream.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.Stream.BatchSize, _ = cmd.Flags().GetInt("batch-size")
	}
	defer setupLogging(cfg.Logging, !watchNoTUI)()

	if _, err := os.Stat(watchFile); err != nil {
		return fmt.Errorf("cannot watch %s: %w", watchFile, err)
	}

	ctx, stop := signalContext()
	defer stop()

	pipeline := domain.NewPipelineMetrics()
	st, err := buildStack(ctx, cfg, pipeline)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.buildDispatcher(); err != nil {
		return err
	}

	tailer := input.NewCSVTailer(watchFile, cfg.Stream.BufferSize)
	tailer.SetFromBeginning(watchFromHead)

	analyzer := app.NewAnalyzer(app.AnalyzerConfig{
		BatchSize:     cfg.Stream.BatchSize,
		FlushInterval: cfg.Stream.FlushInterval,
		WorkerConfig: app.WorkerPoolConfig{
			WorkerCount:    cfg.Stream.Workers,
			BufferSize:     cfg.Stream.BufferSize,
			SubmitTimeout:  cfg.Stream.SubmitTimeout,
			EnableDLQ:      true,
			DLQSize:        100,
			OverflowPath:   cfg.Stream.OverflowPath,
			QuarantinePath: cfg.Stream.QuarantinePath,
		},
		Metrics: pipeline,
	}, tailer, st.service, st.metrics)

	health := st.healthChecker()
	health.SetQueue(analyzer.WorkerPool())
	st.startMetricsServer(map[string]http.Handler{"/ready": health})

	if reload := watchConfig(ctx, v, cfg, st); reload != nil {
		defer reload.Stop()
	}

	go drainDLQ(ctx, analyzer.WorkerPool())

	log.Info().
		Str("source", watchFile).
		Int("workers", cfg.Stream.Workers).
		Int("batch_size", cfg.Stream.BatchSize).
		Bool("tui", !watchNoTUI).
		Msg("Sentry-IoT watch started")

	if watchNoTUI {
		st.gate.AddSubscriber(alertLogger{})
		if err := analyzer.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		analyzer.Stop()
		return nil
	}

	ui := tui.NewApp()
	ui.SetSource(watchFile)
	st.gate.AddSubscriber(ui)
	if err := analyzer.Start(ctx); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ui.SendMetrics(analyzer.Metrics())
			}
		}
	}()

	uiErr := ui.Run(ctx)
	stop()

	done := make(chan struct{})
	go func() {
		analyzer.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Shutdown timeout, forcing exit")
	}
	return uiErr
}

// drainDLQ logs batches whose processing panicked.
func drainDLQ(ctx context.Context, pool *app.WorkerPool) {
	dlq := pool.DLQ()
	if dlq == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-dlq:
			if !ok {
				return
			}
			rows := 0
			if msg.Batch != nil {
				rows = len(msg.Batch.Rows)
			}
			log.Error().
				Int("worker_id", msg.WorkerID).
				Int("rows", rows).
				Time("at", msg.Timestamp).
				Interface("panic", msg.PanicErr).
				Msg("Batch moved to dead letter queue")
		}
	}
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer setupLogging(cfg.Logging, false)()

	ctx, stop := signalContext()
	defer stop()

	st, err := buildStack(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	f, err := os.Open(dataFile)
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	rows, err := st.service.Train(ctx, f)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	status := st.sequence.Status()
	log.Info().
		Int("rows", rows).
		Float64("loss", status.Loss).
		Dur("took", time.Since(start)).
		Str("artifact", cfg.Model.ArtifactName).
		Msg("Sequence model trained")
	return nil
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer setupLogging(cfg.Logging, false)()

	ctx, stop := signalContext()
	defer stop()

	st, err := buildStack(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	f, err := os.Open(dataFile)
	if err != nil {
		return err
	}
	defer f.Close()

	report, err := st.service.Benchmark(ctx, f)
	if err != nil {
		return fmt.Errorf("benchmark failed: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runUnblock(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer setupLogging(cfg.Logging, false)()

	ctx, stop := signalContext()
	defer stop()

	st, err := buildStack(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.service.Unblock(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s unblocked\n", args[0])
	return nil
}

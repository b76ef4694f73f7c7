package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Kellysabi/Sentry-IoT/internal/config"
)

var (
	cfgFile string

	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "sentry",
	Short: "Anomaly detection and automated response for IoT telemetry",
	Long: `Sentry-IoT scores tabular device telemetry with a sequence model and an
isolation forest, blocks the source address of every row scoring above the
mitigation threshold and keeps an audit trail of the resulting alerts.

Commands:
  serve      HTTP API with live alert feed
  watch      tail a growing CSV file and mitigate in batches
  train      fit the sequence model on a labelled CSV file
  benchmark  compare both scorers on a labelled CSV file
  unblock    remove the block for one address`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Sentry-IoT %s\n", Version)
		fmt.Printf("Commit:  %s\n", Commit)
		fmt.Printf("Built:   %s\n", BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides logging.level)")

	rootCmd.AddCommand(serveCmd, watchCmd, trainCmd, benchmarkCmd, unblockCmd, versionCmd)
}

// loadConfig reads .env, the config file and SENTRY_* variables into a
// fresh viper instance. Flags win over everything else.
func loadConfig() (*config.Config, *viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	config.Setup(v, cfgFile)
	if err := v.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// setupLogging configures the global zerolog logger. With quiet set and no
// log file, output is discarded so it cannot tear the dashboard.
func setupLogging(cfg config.LoggingConfig, quiet bool) func() {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	cleanup := func() {}
	switch {
	case cfg.File != "":
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = rotating
		cleanup = func() { rotating.Close() }
	case quiet:
		out = io.Discard
	case cfg.Format == "console":
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return cleanup
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

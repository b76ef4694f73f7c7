package config

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// ReloadFunc receives every accepted configuration after a file change.
type ReloadFunc func(ctx context.Context, cfg *Config) error

// HotReload re-reads the config file on change and publishes the new
// configuration only when it validates. Rapid successive events are
// coalesced.
type HotReload struct {
	v        *viper.Viper
	current  atomic.Pointer[Config]
	onReload []ReloadFunc

	debounce time.Duration
	timer    *time.Timer
	mu       sync.Mutex
	stopped  bool
}

func NewHotReload(v *viper.Viper, initial *Config, debounce time.Duration) *HotReload {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	h := &HotReload{v: v, debounce: debounce}
	h.current.Store(initial)
	return h
}

func (h *HotReload) OnReload(fn ReloadFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReload = append(h.onReload, fn)
}

func (h *HotReload) Current() *Config {
	return h.current.Load()
}

func (h *HotReload) StartWatching(ctx context.Context) {
	h.v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().
			Str("file", e.Name).
			Str("op", e.Op.String()).
			Msg("Config file changed, reloading...")
		h.schedule(ctx)
	})

	h.v.WatchConfig()
	log.Info().Str("config", h.v.ConfigFileUsed()).Msg("Hot-reload config watching started")
}

func (h *HotReload) schedule(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(h.debounce, func() { h.Reload(ctx) })
}

// Reload re-reads the file now. An unreadable or invalid file keeps the
// current configuration.
func (h *HotReload) Reload(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.v.ReadInConfig(); err != nil {
		log.Error().Err(err).Msg("Failed to re-read config, keeping current configuration")
		return
	}
	cfg, err := Decode(h.v)
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration, rejecting reload")
		return
	}
	h.current.Store(cfg)

	for _, fn := range h.onReload {
		if err := fn(ctx, cfg); err != nil {
			log.Error().Err(err).Msg("Config reload hook failed")
		}
	}
	log.Info().Float64("threshold", cfg.Mitigation.Threshold).Msg("Configuration hot-reloaded successfully")
}

func (h *HotReload) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	if h.timer != nil {
		h.timer.Stop()
	}
	log.Info().Msg("Hot-reload config watcher stopped")
}

package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/internal/ports"
)

// AlertDispatcher fans persisted alerts out to secondary destinations (audit
// log, broker) off the request path. It implements ports.AlertSubscriber.
//
// When the queue is full OnAlert waits up to SubmitTimeout and then spills
// the alert to the overflow file, or drops it when none is configured.
type AlertDispatcher struct {
	alerters      []ports.Alerter
	queue         chan *domain.Alert
	submitTimeout time.Duration
	sendTimeout   time.Duration
	overflow      *OverflowWriter

	dispatched atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64
	spilled    atomic.Int64

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

type DispatcherConfig struct {
	BufferSize    int
	SubmitTimeout time.Duration
	SendTimeout   time.Duration
	OverflowPath  string
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BufferSize:    1024,
		SubmitTimeout: 50 * time.Millisecond,
		SendTimeout:   10 * time.Second,
	}
}

func NewAlertDispatcher(cfg DispatcherConfig, alerters ...ports.Alerter) *AlertDispatcher {
	def := DefaultDispatcherConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}

	d := &AlertDispatcher{
		alerters:      alerters,
		queue:         make(chan *domain.Alert, cfg.BufferSize),
		submitTimeout: cfg.SubmitTimeout,
		sendTimeout:   cfg.SendTimeout,
	}

	if cfg.OverflowPath != "" {
		overflow, err := NewOverflowWriter(cfg.OverflowPath)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.OverflowPath).Msg("Failed to create alert overflow writer")
		} else {
			d.overflow = overflow
		}
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *AlertDispatcher) OnAlert(alert *domain.Alert) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}

	select {
	case d.queue <- alert:
		return
	default:
	}

	if d.submitTimeout > 0 {
		timer := time.NewTimer(d.submitTimeout)
		select {
		case d.queue <- alert:
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if d.overflow != nil && d.overflow.Enabled() {
		if err := d.overflow.WriteAlert(alert); err == nil {
			d.spilled.Add(1)
			return
		}
	}
	d.dropped.Add(1)
	log.Warn().Str("alert_id", alert.ID).Msg("Alert dispatch queue full, alert not forwarded")
}

func (d *AlertDispatcher) run() {
	defer d.wg.Done()
	for alert := range d.queue {
		for _, alerter := range d.alerters {
			ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
			err := alerter.Send(ctx, alert)
			cancel()
			if err != nil {
				d.failed.Add(1)
				log.Debug().Err(err).Str("alert_id", alert.ID).Msg("Alert send failed")
			}
		}
		d.dispatched.Add(1)
	}
}

// Close drains the queue, then flushes and closes every alerter.
func (d *AlertDispatcher) Close() error {
	var firstErr error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		d.wg.Wait()

		for _, alerter := range d.alerters {
			if err := alerter.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if d.overflow != nil {
			if err := d.overflow.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

type DispatcherStats struct {
	Dispatched int64 `json:"dispatched"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	Spilled    int64 `json:"spilled"`
}

func (d *AlertDispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Dispatched: d.dispatched.Load(),
		Failed:     d.failed.Load(),
		Dropped:    d.dropped.Load(),
		Spilled:    d.spilled.Load(),
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/internal/ports"
)

const (
	DefaultThreshold = 0.8
	ManualScore      = 1.0

	// DetailBlockError is set on an alert whose block attempt failed.
	DetailBlockError = "block_error"
)

type GateConfig struct {
	Threshold           float64
	SerializePerAddress bool
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		Threshold:           DefaultThreshold,
		SerializePerAddress: true,
	}
}

// MitigationGate thresholds scores, blocks the offending source and persists
// one alert per qualifying row.
//
// Block failures never abort persistence: the alert is stored with the
// failure recorded in its details. Persistence failures are returned.
//
// Thread Safety: All methods are safe for concurrent access. With
// SerializePerAddress the probe-then-install sequence for one address is
// serialized inside this process.
type MitigationGate struct {
	blocker ports.NetworkBlocker
	store   ports.AlertStore
	metrics ports.MetricsCollector

	threshold atomic.Uint64 // math.Float64bits
	serialize bool
	locks     *keyedMutex

	subscribers []ports.AlertSubscriber
	mu          sync.RWMutex
}

func NewMitigationGate(cfg GateConfig, blocker ports.NetworkBlocker, store ports.AlertStore, metrics ports.MetricsCollector) *MitigationGate {
	g := &MitigationGate{
		blocker:   blocker,
		store:     store,
		metrics:   metrics,
		serialize: cfg.SerializePerAddress,
		locks:     newKeyedMutex(),
	}
	g.SetThreshold(cfg.Threshold)
	return g
}

// SetThreshold replaces the threshold. Values outside [0,1] restore the
// default.
func (g *MitigationGate) SetThreshold(t float64) {
	if math.IsNaN(t) || t < 0 || t > 1 {
		t = DefaultThreshold
	}
	g.threshold.Store(math.Float64bits(t))
}

func (g *MitigationGate) Threshold() float64 {
	return math.Float64frombits(g.threshold.Load())
}

func (g *MitigationGate) AddSubscriber(sub ports.AlertSubscriber) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribers = append(g.subscribers, sub)
}

// Mitigate acts on every row of fs whose score is strictly above the
// threshold and whose source address is a valid IP. Each such row gets its
// own block probe and its own alert, duplicates included.
func (g *MitigationGate) Mitigate(ctx context.Context, fs *domain.FeatureSet, scores []float64) (*domain.MitigationResult, error) {
	if len(scores) != fs.Len() {
		return nil, fmt.Errorf("score count %d does not match row count %d", len(scores), fs.Len())
	}

	result := &domain.MitigationResult{
		Scores:      scores,
		Mitigations: []domain.Mitigation{},
		Failures:    []domain.BlockFailure{},
	}
	threshold := g.Threshold()

	for i, score := range scores {
		if !(score > threshold) {
			continue
		}
		row := fs.Rows[i]
		addr, ok := validAddress(row.SourceIP)
		if !ok {
			log.Debug().
				Int("row", i).
				Str("source_ip", row.SourceIP).
				Float64("score", score).
				Msg("Skipping mitigation for row without a usable source address")
			continue
		}

		already, blockErr := g.ensureBlocked(ctx, addr)

		details := row.Details()
		if blockErr != nil {
			details[DetailBlockError] = blockErr.Error()
			result.Failures = append(result.Failures, domain.BlockFailure{Row: i, SourceIP: addr, Err: blockErr})
		}

		alert := domain.NewAlert(addr, score, domain.OriginModel, details)
		if err := g.persist(ctx, alert); err != nil {
			return result, err
		}

		result.Mitigations = append(result.Mitigations, domain.Mitigation{
			Row:            i,
			SourceIP:       addr,
			Score:          score,
			AlertID:        alert.ID,
			AlreadyBlocked: already,
			Blocked:        blockErr == nil,
		})
	}

	if len(result.Mitigations) > 0 {
		log.Info().
			Int("rows", fs.Len()).
			Int("mitigated", len(result.Mitigations)).
			Int("block_failures", len(result.Failures)).
			Float64("threshold", threshold).
			Msg("Batch mitigated")
	}
	return result, nil
}

// Manual blocks addr and persists an alert with score 1.0. The alert is
// persisted even when the block fails; the block error is then returned
// together with the alert.
func (g *MitigationGate) Manual(ctx context.Context, addr string, details map[string]any) (*domain.Alert, error) {
	ip, ok := validAddress(addr)
	if !ok {
		return nil, domain.WrapInputError(domain.ErrUnknownAddress, "source_ip %q", addr)
	}

	payload := make(map[string]any, len(details)+1)
	for k, v := range details {
		payload[k] = v
	}

	_, blockErr := g.ensureBlocked(ctx, ip)
	if blockErr != nil {
		payload[DetailBlockError] = blockErr.Error()
	}

	alert := domain.NewAlert(ip, ManualScore, domain.OriginManual, payload)
	if err := g.persist(ctx, alert); err != nil {
		return nil, err
	}

	log.Info().
		Str("source_ip", ip).
		Str("alert_id", alert.ID).
		Bool("blocked", blockErr == nil).
		Msg("Manual alert processed")

	if blockErr != nil {
		return alert, &BlockError{Addr: ip, AlertID: alert.ID, Err: blockErr}
	}
	return alert, nil
}

// ensureBlocked probes then installs. It reports whether the block was
// already present.
func (g *MitigationGate) ensureBlocked(ctx context.Context, addr string) (bool, error) {
	if g.serialize {
		unlock := g.locks.Lock(addr)
		defer unlock()
	}

	blocked, err := g.blocker.IsBlocked(ctx, addr)
	if err != nil {
		g.countBlock(ports.BlockFailed)
		log.Error().Err(err).Str("source_ip", addr).Str("blocker", g.blocker.Name()).Msg("Block probe failed")
		return false, fmt.Errorf("probe block for %s: %w", addr, err)
	}
	if blocked {
		g.countBlock(ports.BlockPresent)
		log.Info().Str("source_ip", addr).Msg("Source address already blocked")
		return true, nil
	}

	if err := g.blocker.Block(ctx, addr); err != nil {
		g.countBlock(ports.BlockFailed)
		log.Error().Err(err).Str("source_ip", addr).Str("blocker", g.blocker.Name()).Msg("Block install failed")
		return false, fmt.Errorf("block %s: %w", addr, err)
	}
	g.countBlock(ports.BlockInstalled)
	return false, nil
}

func (g *MitigationGate) persist(ctx context.Context, alert *domain.Alert) error {
	if err := g.store.Append(ctx, alert); err != nil {
		if g.metrics != nil {
			g.metrics.IncrementStoreErrors()
		}
		log.Error().Err(err).Str("source_ip", alert.SourceIP).Msg("Failed to persist alert")
		return fmt.Errorf("persist alert: %w", err)
	}

	g.mu.RLock()
	subs := g.subscribers
	g.mu.RUnlock()
	for _, sub := range subs {
		sub.OnAlert(alert)
	}
	return nil
}

func (g *MitigationGate) countBlock(outcome string) {
	if g.metrics != nil {
		g.metrics.IncrementBlocks(outcome)
	}
}

// BlockError reports a failed block whose alert was still persisted.
type BlockError struct {
	Addr    string
	AlertID string
	Err     error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("alert %s persisted: %v", e.AlertID, e.Err)
}

func (e *BlockError) Unwrap() error { return e.Err }

// IsBlockError reports whether err is, or wraps, a *BlockError.
func IsBlockError(err error) bool {
	var be *BlockError
	return errors.As(err, &be)
}

// validAddress returns the canonical form of addr when it is a known,
// syntactically valid IP.
func validAddress(addr string) (string, bool) {
	if !domain.IsKnownAddress(addr) {
		return "", false
	}
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return "", false
	}
	return ip.String(), true
}

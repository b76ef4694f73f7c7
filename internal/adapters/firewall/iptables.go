// Package firewall implements ports.NetworkBlocker drivers.
//
// Drivers:
//   - IPTablesBlocker: host packet filter via iptables/ip6tables
//   - RedisBlocker: shared deny set consumed by edge enforcers
//   - MemoryBlocker: in-process set for tests and dry runs
package firewall

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
	"github.com/Kellysabi/Sentry-IoT/pkg/breaker"
)

// Runner executes a command without a shell and returns its combined output.
// A non-zero exit must be reported through an error exposing ExitCode().
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type IPTablesConfig struct {
	Chain          string
	Target         string
	IPv4Binary     string
	IPv6Binary     string
	CommandTimeout time.Duration
	BreakerTimeout time.Duration
	MaxFailures    uint32
}

func DefaultIPTablesConfig() IPTablesConfig {
	return IPTablesConfig{
		Chain:          "INPUT",
		Target:         "DROP",
		IPv4Binary:     "iptables",
		IPv6Binary:     "ip6tables",
		CommandTimeout: 5 * time.Second,
		BreakerTimeout: 30 * time.Second,
		MaxFailures:    5,
	}
}

// IPTablesBlocker installs one drop rule per source address. The rule is
// probed with -C, added with -A and removed with -D.
type IPTablesBlocker struct {
	cfg     IPTablesConfig
	run     Runner
	breaker breaker.CircuitBreaker
}

func NewIPTablesBlocker(cfg IPTablesConfig, run Runner) *IPTablesBlocker {
	def := DefaultIPTablesConfig()
	if cfg.Chain == "" {
		cfg.Chain = def.Chain
	}
	if cfg.Target == "" {
		cfg.Target = def.Target
	}
	if cfg.IPv4Binary == "" {
		cfg.IPv4Binary = def.IPv4Binary
	}
	if cfg.IPv6Binary == "" {
		cfg.IPv6Binary = def.IPv6Binary
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if run == nil {
		run = ExecRunner
	}
	return &IPTablesBlocker{
		cfg:     cfg,
		run:     run,
		breaker: breaker.New("iptables", cfg.BreakerTimeout, cfg.MaxFailures),
	}
}

func (b *IPTablesBlocker) Name() string {
	return "iptables"
}

func (b *IPTablesBlocker) IsBlocked(ctx context.Context, addr string) (bool, error) {
	ip, err := parseAddr(addr)
	if err != nil {
		return false, err
	}
	code, err := b.exec(ctx, ip, "-C")
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

func (b *IPTablesBlocker) Block(ctx context.Context, addr string) error {
	ip, err := parseAddr(addr)
	if err != nil {
		return err
	}
	code, err := b.exec(ctx, ip, "-A")
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("iptables append for %s exited with %d", ip, code)
	}
	log.Info().Str("source_ip", ip.String()).Str("chain", b.cfg.Chain).Msg("Blocked source address")
	return nil
}

// Unblock is a no-op when no rule exists.
func (b *IPTablesBlocker) Unblock(ctx context.Context, addr string) error {
	ip, err := parseAddr(addr)
	if err != nil {
		return err
	}
	code, err := b.exec(ctx, ip, "-D")
	if err != nil {
		return err
	}
	if code == 0 {
		log.Info().Str("source_ip", ip.String()).Str("chain", b.cfg.Chain).Msg("Unblocked source address")
	}
	return nil
}

// exec runs one rule operation. Exit code 1 means "rule absent" and is
// returned as a code, not an error.
func (b *IPTablesBlocker) exec(ctx context.Context, ip netip.Addr, op string) (int, error) {
	binary := b.cfg.IPv4Binary
	if ip.Is6() && !ip.Is4In6() {
		binary = b.cfg.IPv6Binary
	}
	args := []string{"-w", op, b.cfg.Chain, "-s", ip.Unmap().String(), "-j", b.cfg.Target}

	code := 0
	err := b.breaker.Execute(func() error {
		cmdCtx, cancel := context.WithTimeout(ctx, b.cfg.CommandTimeout)
		defer cancel()

		out, err := b.run(cmdCtx, binary, args...)
		if err == nil {
			return nil
		}
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && op != "-A" {
			code = 1
			return nil
		}
		return fmt.Errorf("%s %s: %w: %s", binary, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	})
	return code, err
}

func parseAddr(addr string) (netip.Addr, error) {
	if !domain.IsKnownAddress(addr) {
		return netip.Addr{}, domain.ErrUnknownAddress
	}
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", domain.ErrUnknownAddress, addr)
	}
	return ip, nil
}

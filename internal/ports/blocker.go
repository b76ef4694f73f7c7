package ports

import "context"

// NetworkBlocker controls the external block state keyed by source address.
//
// Block is expected to be idempotent at the driver level, but callers probe
// with IsBlocked first so the rule set never accumulates duplicates.
type NetworkBlocker interface {
	IsBlocked(ctx context.Context, addr string) (bool, error)
	Block(ctx context.Context, addr string) error
	Unblock(ctx context.Context, addr string) error
	Name() string
}

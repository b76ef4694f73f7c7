package ports

import (
	"context"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

// AlertStore persists alert records append-only.
//
// Implementations:
//   - MemoryAlertStore: bounded in-process ring (tests, single instance)
//   - SQLiteAlertStore: sqlx over modernc sqlite
//   - PostgresAlertStore: gorm with a jsonb details column
//   - RedisAlertStore: capped list, newest at the head
type AlertStore interface {
	// Append stores alert. It fails only on storage failure.
	Append(ctx context.Context, alert *domain.Alert) error

	// Recent returns at most n alerts, newest first.
	Recent(ctx context.Context, n int) ([]*domain.Alert, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// ArtifactStore keeps trained model artifacts by name. Save overwrites;
// concurrent saves are last-writer-wins.
type ArtifactStore interface {
	// Load returns domain.ErrArtifactNotFound when name has never been saved.
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
}

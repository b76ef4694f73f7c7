package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		source_ip  TEXT NOT NULL,
		score      REAL NOT NULL,
		details    TEXT NOT NULL,
		origin     TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_source_ip ON alerts(source_ip)`,
}

type alertRow struct {
	Seq       int64   `db:"seq"`
	ID        string  `db:"id"`
	SourceIP  string  `db:"source_ip"`
	Score     float64 `db:"score"`
	Details   string  `db:"details"`
	Origin    string  `db:"origin"`
	CreatedAt int64   `db:"created_at"`
}

func (r alertRow) toAlert() (*domain.Alert, error) {
	details := make(map[string]any)
	if err := json.Unmarshal([]byte(r.Details), &details); err != nil {
		return nil, fmt.Errorf("decode details of alert %s: %w", r.ID, err)
	}
	return &domain.Alert{
		ID:        r.ID,
		SourceIP:  r.SourceIP,
		Score:     r.Score,
		Details:   details,
		Origin:    domain.AlertOrigin(r.Origin),
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}, nil
}

// SQLiteAlertStore persists alerts in a local sqlite database. Insertion
// order is the autoincrement sequence.
type SQLiteAlertStore struct {
	db *sqlx.DB
}

func NewSQLiteAlertStore(dbPath string) (*SQLiteAlertStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	for i, m := range sqliteMigrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	log.Info().Str("path", dbPath).Msg("SQLite alert store ready")
	return &SQLiteAlertStore{db: db}, nil
}

func (s *SQLiteAlertStore) Append(ctx context.Context, alert *domain.Alert) error {
	details, err := json.Marshal(alert.Details)
	if err != nil {
		return fmt.Errorf("encode alert details: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, source_ip, score, details, origin, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.SourceIP, alert.Score, string(details), string(alert.Origin), alert.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *SQLiteAlertStore) Recent(ctx context.Context, n int) ([]*domain.Alert, error) {
	if n <= 0 {
		return []*domain.Alert{}, nil
	}
	var rows []alertRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT seq, id, source_ip, score, details, origin, created_at FROM alerts ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}

	alerts := make([]*domain.Alert, 0, len(rows))
	for _, r := range rows {
		a, err := r.toAlert()
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func (s *SQLiteAlertStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteAlertStore) Close() error {
	return s.db.Close()
}

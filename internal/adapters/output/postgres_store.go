package output

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

// PostgresConfig holds database connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
}

type alertModel struct {
	Seq       uint64         `gorm:"primaryKey;autoIncrement"`
	AlertID   string         `gorm:"column:alert_id;size:36;uniqueIndex"`
	SourceIP  string         `gorm:"column:source_ip;size:64;index"`
	Score     float64        `gorm:"column:score"`
	Details   datatypes.JSON `gorm:"column:details;type:jsonb"`
	Origin    string         `gorm:"column:origin;size:16"`
	CreatedAt time.Time      `gorm:"column:created_at;index"`
}

func (alertModel) TableName() string { return "alerts" }

func toAlertModel(a *domain.Alert) (*alertModel, error) {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return nil, fmt.Errorf("encode alert details: %w", err)
	}
	return &alertModel{
		AlertID:   a.ID,
		SourceIP:  a.SourceIP,
		Score:     a.Score,
		Details:   datatypes.JSON(details),
		Origin:    string(a.Origin),
		CreatedAt: a.CreatedAt,
	}, nil
}

func (m *alertModel) toAlert() (*domain.Alert, error) {
	details := make(map[string]any)
	if len(m.Details) > 0 {
		if err := json.Unmarshal(m.Details, &details); err != nil {
			return nil, fmt.Errorf("decode details of alert %s: %w", m.AlertID, err)
		}
	}
	return &domain.Alert{
		ID:        m.AlertID,
		SourceIP:  m.SourceIP,
		Score:     m.Score,
		Details:   details,
		Origin:    domain.AlertOrigin(m.Origin),
		CreatedAt: m.CreatedAt.UTC(),
	}, nil
}

// PostgresAlertStore persists alerts with gorm. Details are stored as jsonb.
type PostgresAlertStore struct {
	db *gorm.DB
}

func NewPostgresAlertStore(ctx context.Context, cfg PostgresConfig) (*PostgresAlertStore, error) {
	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("db", cfg.DBName).
		Str("user", cfg.User).
		Msg("Connecting to postgres")

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&alertModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate alerts table: %w", err)
	}

	return &PostgresAlertStore{db: db}, nil
}

func (s *PostgresAlertStore) Append(ctx context.Context, alert *domain.Alert) error {
	m, err := toAlertModel(alert)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *PostgresAlertStore) Recent(ctx context.Context, n int) ([]*domain.Alert, error) {
	if n <= 0 {
		return []*domain.Alert{}, nil
	}
	var models []alertModel
	if err := s.db.WithContext(ctx).Order("seq DESC").Limit(n).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	alerts := make([]*domain.Alert, 0, len(models))
	for i := range models {
		a, err := models[i].toAlert()
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func (s *PostgresAlertStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresAlertStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

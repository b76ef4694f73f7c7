package domain

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "INFO"
	AlertLevelWarning  AlertLevel = "WARNING"
	AlertLevelCritical AlertLevel = "CRITICAL"
)

// AlertOrigin records what raised an alert.
type AlertOrigin string

const (
	OriginModel  AlertOrigin = "model"
	OriginManual AlertOrigin = "manual"
)

// Alert is the persisted record of a mitigation. It is immutable once
// appended to a store.
type Alert struct {
	ID        string         `json:"id"`
	SourceIP  string         `json:"source_ip"`
	Score     float64        `json:"score"`
	Details   map[string]any `json:"details"`
	Origin    AlertOrigin    `json:"origin"`
	CreatedAt time.Time      `json:"created_at"`
}

func NewAlert(sourceIP string, score float64, origin AlertOrigin, details map[string]any) *Alert {
	if details == nil {
		details = make(map[string]any)
	}
	return &Alert{
		ID:        uuid.NewString(),
		SourceIP:  sourceIP,
		Score:     clampScore(score),
		Details:   details,
		Origin:    origin,
		CreatedAt: time.Now().UTC(),
	}
}

func (a *Alert) ToJSON() ([]byte, error) {
	return json.Marshal(a)
}

func (a *Alert) ToJSONPretty() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// AddDetail sets a key in the details payload. Only valid before the alert
// is handed to a store.
func (a *Alert) AddDetail(key string, value any) {
	if a.Details == nil {
		a.Details = make(map[string]any)
	}
	a.Details[key] = value
}

// Level buckets the score for display and metric labels.
func (a *Alert) Level() AlertLevel {
	switch {
	case a.Score >= 0.95:
		return AlertLevelCritical
	case a.Score > 0.8:
		return AlertLevelWarning
	default:
		return AlertLevelInfo
	}
}

func (a *Alert) IPString() string {
	if !IsKnownAddress(a.SourceIP) {
		return UnknownAddress
	}
	return a.SourceIP
}

func clampScore(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

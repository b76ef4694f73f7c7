package domain

import (
	"encoding/json"
	"time"
)

// Mitigation is the outcome for one row whose score crossed the threshold.
type Mitigation struct {
	Row            int     `json:"row"`
	SourceIP       string  `json:"source_ip"`
	Score          float64 `json:"score"`
	AlertID        string  `json:"alert_id,omitempty"`
	AlreadyBlocked bool    `json:"already_blocked"`
	Blocked        bool    `json:"blocked"`
}

type BlockFailure struct {
	Row      int    `json:"row"`
	SourceIP string `json:"source_ip"`
	Err      error  `json:"-"`
}

func (f BlockFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Row      int    `json:"row"`
		SourceIP string `json:"source_ip"`
		Error    string `json:"error"`
	}{f.Row, f.SourceIP, msg})
}

// MitigationResult carries the full score sequence of a batch together with
// the per-row mitigations, in row order.
type MitigationResult struct {
	Scores      []float64      `json:"predictions"`
	Mitigations []Mitigation   `json:"mitigations"`
	Failures    []BlockFailure `json:"block_failures"`
}

// TriggeredIPs lists the addresses of every mitigated row, duplicates
// included.
func (r *MitigationResult) TriggeredIPs() []string {
	ips := make([]string, 0, len(r.Mitigations))
	for _, m := range r.Mitigations {
		ips = append(ips, m.SourceIP)
	}
	return ips
}

// ScorerReport is one scorer's benchmark outcome. Latency covers the scoring
// call only.
type ScorerReport struct {
	Latency     time.Duration `json:"-"`
	Accuracy    float64       `json:"accuracy"`
	Predictions []float64     `json:"predictions"`
}

func (r ScorerReport) MarshalJSON() ([]byte, error) {
	type alias ScorerReport
	return json.Marshal(struct {
		alias
		Latency float64 `json:"latency"`
	}{alias(r), r.Latency.Seconds()})
}

type BenchmarkReport struct {
	Rows     int          `json:"rows"`
	Sequence ScorerReport `json:"deep_model"`
	Density  ScorerReport `json:"traditional_model"`
}

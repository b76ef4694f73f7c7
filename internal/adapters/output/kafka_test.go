package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKafkaSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]interface{}
		want     KafkaConfig
		wantErr  string
	}{
		{
			name:     "defaults applied",
			settings: map[string]interface{}{"brokers": "localhost:9092", "topic": "alerts"},
			want:     KafkaConfig{Brokers: "localhost:9092", Topic: "alerts", ClientID: "sentry-iot", Acks: "all"},
		},
		{
			name: "explicit values kept",
			settings: map[string]interface{}{
				"brokers": "k1:9092,k2:9092", "topic": "iot", "client_id": "edge-1", "acks": "1",
			},
			want: KafkaConfig{Brokers: "k1:9092,k2:9092", Topic: "iot", ClientID: "edge-1", Acks: "1"},
		},
		{
			name:     "missing brokers",
			settings: map[string]interface{}{"topic": "alerts"},
			wantErr:  "brokers",
		},
		{
			name:     "missing topic",
			settings: map[string]interface{}{"brokers": "localhost:9092"},
			wantErr:  "topic",
		},
		{
			name:     "wrong type",
			settings: map[string]interface{}{"brokers": []int{1}, "topic": "alerts"},
			wantErr:  "invalid kafka config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKafkaSettings(tt.settings)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

package scrobble

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name           string
		played         int64
		duration       int64
		wantCounted    bool
		wantConfidence float64
	}{
		{"below 30s minimum", 29_999, 100_000, false, 0.0},
		{"exactly 30s on a 60s track", 30_000, 60_000, true, 0.5},
		{"just under half of a long-enough track", 49_999, 100_000, false, 0.0},
		{"exactly half", 50_000, 100_000, true, 0.5},
		{"240s cap on a 10 minute track", 240_000, 600_000, true, 0.4},
		{"just under the 240s cap on a 10 minute track", 239_999, 600_000, false, 0.0},
		{"full play", 180_000, 180_000, true, 1.0},
		{"played longer than track length caps at 1.0", 200_000, 180_000, true, 1.0},
		{"zero track duration", 45_000, 0, false, 0.0},
		{"negative track duration", 45_000, -1, false, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counted, confidence := Evaluate(tt.played, tt.duration)
			assert.Equal(t, tt.wantCounted, counted)
			assert.InDelta(t, tt.wantConfidence, confidence, 1e-9)
		})
	}
}

func TestEvaluateConfidenceRange(t *testing.T) {
	// Whenever a play counts, confidence must land in [0, 1].
	for played := int64(0); played <= 400_000; played += 7_919 {
		for duration := int64(1_000); duration <= 400_000; duration += 13_337 {
			counted, confidence := Evaluate(played, duration)
			if counted {
				assert.GreaterOrEqual(t, confidence, 0.0)
				assert.LessOrEqual(t, confidence, 1.0)
			} else {
				assert.Equal(t, 0.0, confidence)
			}
		}
	}
}

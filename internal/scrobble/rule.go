package scrobble

import "math"

const (
	// MinDurationMS is the minimum playback time for a play to count.
	MinDurationMS = 30_000
	// HalfPlayCapMS caps the 50%-of-track requirement for long tracks.
	HalfPlayCapMS = 240_000
)

// Evaluate decides whether a playback sample counts as a listen and with what
// confidence. A play counts when at least 30 seconds were heard and at least
// half the track (capped at 240 seconds) was heard. Confidence is the played
// fraction of the track, capped at 1.0.
func Evaluate(durationPlayedMS, trackDurationMS int64) (bool, float64) {
	if trackDurationMS <= 0 {
		return false, 0.0
	}

	if durationPlayedMS < MinDurationMS {
		return false, 0.0
	}

	required := math.Min(float64(trackDurationMS)*0.5, float64(HalfPlayCapMS))
	if float64(durationPlayedMS) < required {
		return false, 0.0
	}

	confidence := math.Min(float64(durationPlayedMS)/float64(trackDurationMS), 1.0)
	return true, confidence
}

// Package match computes pairwise taste-similarity and the composite search
// ranking. Everything here is a pure function over aggregates the store
// supplies, so the formulas are testable without any backend.
package match

import "math"

// Fixed ranking weights. Changing any of these changes result ordering for
// every search, so they are constants rather than configuration.
const (
	artistWeight = 70.0
	genreWeight  = 30.0

	genreBonusCap = 5.0

	compatShare    = 0.5
	activityShare  = 0.2
	proximityShare = 0.2
	qualityShare   = 0.1

	proximityDecayKM = 400.0
)

// Overlap is the taste-graph aggregate for a pair of users.
type Overlap struct {
	SharedArtists int
	TotalA        int
	TotalB        int
	SharedGenres  int
}

// Compatibility maps an artist/genre overlap to a 0-100 score. Returns nil
// when either user has no taste-graph data at all; the formula is symmetric
// in A and B.
func Compatibility(o Overlap) *float64 {
	if o.TotalA == 0 || o.TotalB == 0 {
		return nil
	}

	union := o.TotalA + o.TotalB - o.SharedArtists
	artistSimilarity := 0.0
	if union > 0 {
		artistSimilarity = float64(o.SharedArtists) / float64(union)
	}

	genreBonus := math.Min(float64(o.SharedGenres)/genreBonusCap, 1.0)

	score := round1(artistSimilarity*artistWeight + genreBonus*genreWeight)
	return &score
}

// ActivityScore log-scales a recent play count into [0, 1]:
// 0 plays -> 0, ~10 plays -> 0.35, ~100 plays -> 0.67, 1000+ plays -> 1.
func ActivityScore(playCount int64) float64 {
	if playCount <= 0 {
		return 0.0
	}
	return math.Min(math.Log10(float64(playCount)+1)/3.0, 1.0)
}

// ProximityScore decays exponentially with distance; an unknown distance gets
// the neutral 0.5 rather than penalizing the candidate.
func ProximityScore(distanceKM *float64) float64 {
	if distanceKM == nil {
		return 0.5
	}
	return math.Exp(-*distanceKM / proximityDecayKM)
}

// ProfileSignals are the presence flags the quality heuristic looks at.
type ProfileSignals struct {
	HasImage           bool
	HasLocation        bool
	HasConnectedSource bool
}

// ProfileQuality is an additive completeness heuristic in [0, 1].
func ProfileQuality(p ProfileSignals) float64 {
	score := 0.0
	if p.HasImage {
		score += 0.3
	}
	if p.HasLocation {
		score += 0.2
	}
	if p.HasConnectedSource {
		score += 0.5
	}
	return math.Min(score, 1.0)
}

// SearchScore combines the four signals into the 0-100 composite used to
// order search results. A nil compatibility contributes zero.
func SearchScore(compatibility *float64, activity, proximity, quality float64) float64 {
	compat := 0.0
	if compatibility != nil {
		compat = *compatibility / 100.0
	}

	score := compatShare*compat +
		activityShare*activity +
		proximityShare*proximity +
		qualityShare*quality

	return round2(score * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

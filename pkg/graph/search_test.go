package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The shared-context helpers feed capped top-N lists, so their ranking keys
// decide which artists and genres users see at all. These pin the keys: both
// rank by the combined count across the pair, not by one side or by name.

func compact(cypher string) string {
	return strings.Join(strings.Fields(cypher), " ")
}

func TestSharedArtistsRankByCombinedPlayCount(t *testing.T) {
	q := compact(sharedArtistsCypher)

	assert.Contains(t, q, "ORDER BY ra.play_count + rb.play_count DESC, a.name ASC")
	assert.NotContains(t, q, "CASE", "ranking must not fall back to a one-sided play count")
}

func TestSharedGenresRankByCombinedArtistRelevance(t *testing.T) {
	q := compact(sharedGenresCypher)

	assert.Contains(t, q, "count(DISTINCT a1) AS requesterArtists")
	assert.Contains(t, q, "count(DISTINCT a2) AS targetArtists")
	assert.Contains(t, q, "ORDER BY requesterArtists + targetArtists DESC, name ASC")
}

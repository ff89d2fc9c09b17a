package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-match-system/pkg/models"
)

func TestFormatCity(t *testing.T) {
	assert.Nil(t, FormatCity("Berlin", "Germany", models.CityHidden))
	assert.Nil(t, FormatCity("", "Germany", models.CityVisible))
	assert.Nil(t, FormatCity("", "Germany", models.RegionVisible))
	assert.Nil(t, FormatCity("Berlin", "", models.RegionVisible))

	got := FormatCity("Berlin", "Germany", models.RegionVisible)
	require.NotNil(t, got)
	assert.Equal(t, "Germany", *got)

	got = FormatCity("Berlin", "Germany", models.CityVisible)
	require.NotNil(t, got)
	assert.Equal(t, "Berlin", *got)
}

func TestFormatLastActive(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	assert.Nil(t, FormatLastActive(nil, now))

	tests := []struct {
		name string
		ago  time.Duration
		want string
	}{
		{"seconds ago", 30 * time.Second, "Just now"},
		{"59 minutes ago", 59 * time.Minute, "Just now"},
		{"exactly one hour", time.Hour, "1h ago"},
		{"five hours", 5 * time.Hour, "5h ago"},
		{"23 hours", 23 * time.Hour, "23h ago"},
		{"exactly one day", 24 * time.Hour, "1 day ago"},
		{"47 hours is still one day", 47 * time.Hour, "1 day ago"},
		{"three days", 3 * 24 * time.Hour, "3 days ago"},
		{"six days", 6 * 24 * time.Hour, "6 days ago"},
		{"one week", 7 * 24 * time.Hour, "1w ago"},
		{"thirteen days", 13 * 24 * time.Hour, "1w ago"},
		{"four weeks", 29 * 24 * time.Hour, "4w ago"},
		{"one month", 30 * 24 * time.Hour, "1mo ago"},
		{"a year", 365 * 24 * time.Hour, "12mo ago"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := now.Add(-tt.ago)
			got := FormatLastActive(&at, now)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

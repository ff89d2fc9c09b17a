package search

import (
	"fmt"
	"time"

	"github.com/music-match-system/pkg/models"
)

// FormatCity applies the owner's visibility setting to their location.
// hidden (or no city at all) yields nil, region falls back to the country,
// city shows the city verbatim.
func FormatCity(city, country string, visibility models.CityVisibility) *string {
	if visibility == models.CityHidden || city == "" {
		return nil
	}

	if visibility == models.RegionVisible {
		if country == "" {
			return nil
		}
		return &country
	}

	return &city
}

// FormatLastActive renders a timestamp as a coarse relative-time bucket.
// Buckets use integer day division, so 13 days is "1w ago" and 45 days is
// "1mo ago".
func FormatLastActive(lastActive *time.Time, now time.Time) *string {
	if lastActive == nil {
		return nil
	}

	delta := now.Sub(*lastActive)
	days := int(delta.Hours() / 24)

	var s string
	switch {
	case days == 0 && delta < time.Hour:
		s = "Just now"
	case days == 0:
		s = fmt.Sprintf("%dh ago", int(delta.Hours()))
	case days == 1:
		s = "1 day ago"
	case days < 7:
		s = fmt.Sprintf("%d days ago", days)
	case days < 30:
		s = fmt.Sprintf("%dw ago", days/7)
	default:
		s = fmt.Sprintf("%dmo ago", days/30)
	}

	return &s
}

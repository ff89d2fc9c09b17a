package models

import (
	"time"

	"github.com/google/uuid"
)

// CityVisibility controls how a user's location is shown to other users.
type CityVisibility string

const (
	CityVisible   CityVisibility = "city"
	RegionVisible CityVisibility = "region"
	CityHidden    CityVisibility = "hidden"
)

type User struct {
	ID                  uuid.UUID      `json:"id"`
	Handle              string         `json:"handle"`
	Email               string         `json:"email"`
	City                string         `json:"city,omitempty"`
	Country             string         `json:"country,omitempty"`
	CityVisible         CityVisibility `json:"city_visible"`
	DiscoverableByName  bool           `json:"discoverable_by_name"`
	DiscoverableByMusic bool           `json:"discoverable_by_music"`
	ProfileImageURL     string         `json:"profile_image_url,omitempty"`
	SourceAccounts      []string       `json:"source_accounts"`
	CreatedAt           time.Time      `json:"created_at"`
	LastActiveAt        *time.Time     `json:"last_active_at,omitempty"`
}

type Artist struct {
	ID         uuid.UUID `json:"id"`
	SpotifyID  string    `json:"spotify_id"`
	Name       string    `json:"name"`
	Genres     []string  `json:"genres"`
	Popularity int       `json:"popularity"`
}

type Album struct {
	ID          uuid.UUID `json:"id"`
	SpotifyID   string    `json:"spotify_id"`
	Name        string    `json:"name"`
	ReleaseDate string    `json:"release_date,omitempty"`
	AlbumType   string    `json:"album_type,omitempty"`
	TotalTracks int       `json:"total_tracks,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
}

type Track struct {
	ID         uuid.UUID `json:"id"`
	SpotifyID  string    `json:"spotify_id"`
	Name       string    `json:"name"`
	DurationMS int64     `json:"duration_ms"`
	AlbumID    string    `json:"album_spotify_id"`
	ArtistIDs  []string  `json:"artist_spotify_ids"`
	ISRC       string    `json:"isrc,omitempty"`
	Popularity int       `json:"popularity"`
}

// Play is a counted listen. Created at most once per DedupKey, never updated;
// deleted only through the account disconnection flow.
type Play struct {
	ID               uuid.UUID `json:"id"`
	DedupKey         string    `json:"dedup_key"`
	PlayedAt         time.Time `json:"played_at"`
	DurationPlayedMS int64     `json:"duration_played_ms"`
	Source           string    `json:"source"`
	Confidence       float64   `json:"confidence"`
	ContextType      string    `json:"context_type,omitempty"`
	ContextURI       string    `json:"context_uri,omitempty"`
}

// RawPlayEvent is one item of the upstream recently-played feed before the
// ingestion pipeline has validated it.
type RawPlayEvent struct {
	Track            Track     `json:"track"`
	Artists          []Artist  `json:"artists"`
	Album            Album     `json:"album"`
	PlayedAt         time.Time `json:"played_at"`
	DurationPlayedMS int64     `json:"duration_played_ms"`
	ContextType      string    `json:"context_type,omitempty"`
	ContextURI       string    `json:"context_uri,omitempty"`
}

// IngestStats describes the outcome distribution of one ingestion batch.
// Processed == Scrobbled + Skipped + Errors.
type IngestStats struct {
	Processed int `json:"processed"`
	Scrobbled int `json:"scrobbled"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

func (s *IngestStats) Add(o IngestStats) {
	s.Processed += o.Processed
	s.Scrobbled += o.Scrobbled
	s.Skipped += o.Skipped
	s.Errors += o.Errors
}

// ConnectedAccount is one account the polling scheduler manages.
type ConnectedAccount struct {
	UserID uuid.UUID
	Handle string
}

// TasteOverlap is the aggregate the compatibility formula consumes.
type TasteOverlap struct {
	SharedArtists int
	TotalA        int
	TotalB        int
	SharedGenres  int
}

// SharedArtist is one artist both users listen to, with per-side play counts.
type SharedArtist struct {
	ArtistID           string `json:"artist_id"`
	ArtistName         string `json:"artist_name"`
	PlayCountRequester int64  `json:"play_count_requester"`
	PlayCountTarget    int64  `json:"play_count_target"`
}

// ProfileRow is a raw retrieval candidate before enrichment and ranking.
type ProfileRow struct {
	UserID          uuid.UUID      `json:"user_id"`
	Handle          string         `json:"handle"`
	City            string         `json:"city,omitempty"`
	Country         string         `json:"country,omitempty"`
	CityVisible     CityVisibility `json:"city_visible"`
	ProfileImageURL string         `json:"profile_image_url,omitempty"`
	SourceAccounts  []string       `json:"source_accounts,omitempty"`
	LastActiveAt    *time.Time     `json:"last_active_at,omitempty"`
}

// ProfileHit is a ranked, privacy-projected search result.
type ProfileHit struct {
	UserID             uuid.UUID      `json:"user_id"`
	Handle             string         `json:"handle"`
	CityBucket         *string        `json:"city_bucket"`
	ProfileImageURL    string         `json:"profile_image_url,omitempty"`
	TopSharedArtists   []SharedArtist `json:"top_shared_artists"`
	SharedGenres       []string       `json:"shared_genres"`
	CompatibilityScore *float64       `json:"compatibility_score"`
	SearchScore        float64        `json:"search_score"`
	DistanceKM         *float64       `json:"distance_km,omitempty"`
	LastActive         *string        `json:"last_active"`
}

type SearchResponse struct {
	Hits        []ProfileHit `json:"hits"`
	Total       int          `json:"total"`
	NextCursor  *string      `json:"next_cursor"`
	QueryTimeMS int64        `json:"query_time_ms"`
}

// TopArtist is one entry of a user's listening stats.
type TopArtist struct {
	ArtistID  string   `json:"artist_id"`
	SpotifyID string   `json:"spotify_id"`
	Name      string   `json:"name"`
	Genres    []string `json:"genres"`
	PlayCount int64    `json:"play_count"`
}

// ListeningStats summarizes a user's ingested history.
type ListeningStats struct {
	TotalPlays int64       `json:"total_plays"`
	TopArtists []TopArtist `json:"top_artists"`
}

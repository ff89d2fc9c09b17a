package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/music-match-system/pkg/models"
)

const (
	apiBaseURL = "https://api.spotify.com/v1"
	authURL    = "https://accounts.spotify.com/authorize"
	tokenURL   = "https://accounts.spotify.com/api/token"

	// Spotify allows bursts but throttles sustained traffic; stay well under.
	requestsPerSecond = 5
	requestBurst      = 10

	recentlyPlayedMax = 50
)

// Scopes required for scrobbling.
var scopes = []string{
	"user-read-recently-played",
	"user-read-currently-playing",
	"user-read-playback-state",
	"user-top-read",
}

type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string
	httpClient   *http.Client
	limiter      *rate.Limiter

	// Overridable in tests.
	apiBase  string
	tokenURL string
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type apiImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type apiArtist struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Genres     []string `json:"genres"`
	Popularity int      `json:"popularity"`
}

type apiAlbum struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ReleaseDate string     `json:"release_date"`
	AlbumType   string     `json:"album_type"`
	TotalTracks int        `json:"total_tracks"`
	Images      []apiImage `json:"images"`
}

type apiTrack struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	DurationMS  int64       `json:"duration_ms"`
	Artists     []apiArtist `json:"artists"`
	Album       apiAlbum    `json:"album"`
	Popularity  int         `json:"popularity"`
	ExternalIDs struct {
		ISRC string `json:"isrc"`
	} `json:"external_ids"`
}

type recentlyPlayedResponse struct {
	Items []struct {
		Track    apiTrack `json:"track"`
		PlayedAt string   `json:"played_at"`
		Context  *struct {
			Type string `json:"type"`
			URI  string `json:"uri"`
		} `json:"context"`
	} `json:"items"`
}

type artistsResponse struct {
	Artists []apiArtist `json:"artists"`
}

func NewClient(clientID, clientSecret, redirectURI string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		limiter:      rate.NewLimiter(requestsPerSecond, requestBurst),
		apiBase:      apiBaseURL,
		tokenURL:     tokenURL,
	}
}

func (c *Client) GetAuthURL(state string) string {
	params := url.Values{}
	params.Add("client_id", c.clientID)
	params.Add("response_type", "code")
	params.Add("redirect_uri", c.redirectURI)
	params.Add("scope", strings.Join(scopes, " "))
	params.Add("state", state)

	return authURL + "?" + params.Encode()
}

func (c *Client) ExchangeToken(ctx context.Context, code string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.redirectURI)

	return c.doTokenRequest(ctx, data)
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	return c.doTokenRequest(ctx, data)
}

func (c *Client) doTokenRequest(ctx context.Context, data url.Values) (*TokenResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Add("Authorization", "Basic "+auth)
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spotify: token request failed with status %d", resp.StatusCode)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, err
	}

	return &token, nil
}

func (c *Client) doAPIRequest(ctx context.Context, accessToken, path string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.apiBase + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("spotify: %s failed with status %d", path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) GetProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var profile Profile
	if err := c.doAPIRequest(ctx, accessToken, "/me", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetRecentlyPlayed fetches the user's recently-played feed and normalizes it
// into raw play events. Spotify only reports completed plays here, so every
// event carries the full track duration as its played duration. Artist genre
// tags are batch-resolved in a second call since the feed omits them.
func (c *Client) GetRecentlyPlayed(ctx context.Context, accessToken string, limit int, after *time.Time) ([]models.RawPlayEvent, error) {
	if limit <= 0 || limit > recentlyPlayedMax {
		limit = recentlyPlayedMax
	}

	params := url.Values{}
	params.Add("limit", strconv.Itoa(limit))
	if after != nil {
		params.Add("after", strconv.FormatInt(after.UnixMilli(), 10))
	}

	var feed recentlyPlayedResponse
	if err := c.doAPIRequest(ctx, accessToken, "/me/player/recently-played", params, &feed); err != nil {
		return nil, err
	}

	genresByArtist, err := c.resolveArtistGenres(ctx, accessToken, feed)
	if err != nil {
		// Genres enrich the taste graph but are not needed to count plays.
		genresByArtist = nil
	}

	events := make([]models.RawPlayEvent, 0, len(feed.Items))
	for _, item := range feed.Items {
		playedAt, err := time.Parse(time.RFC3339, item.PlayedAt)
		if err != nil {
			continue
		}

		ev := models.RawPlayEvent{
			Track:            toTrack(item.Track),
			Album:            toAlbum(item.Track.Album),
			PlayedAt:         playedAt,
			DurationPlayedMS: item.Track.DurationMS,
		}
		for _, a := range item.Track.Artists {
			artist := models.Artist{
				SpotifyID:  a.ID,
				Name:       a.Name,
				Genres:     a.Genres,
				Popularity: a.Popularity,
			}
			if full, ok := genresByArtist[a.ID]; ok {
				artist.Genres = full.Genres
				artist.Popularity = full.Popularity
			}
			ev.Artists = append(ev.Artists, artist)
		}
		if item.Context != nil {
			ev.ContextType = item.Context.Type
			ev.ContextURI = item.Context.URI
		}

		events = append(events, ev)
	}

	return events, nil
}

// GetArtists resolves up to 50 artists in one call.
func (c *Client) GetArtists(ctx context.Context, accessToken string, artistIDs []string) ([]models.Artist, error) {
	if len(artistIDs) == 0 {
		return nil, nil
	}
	if len(artistIDs) > 50 {
		artistIDs = artistIDs[:50]
	}

	params := url.Values{}
	params.Add("ids", strings.Join(artistIDs, ","))

	var resp artistsResponse
	if err := c.doAPIRequest(ctx, accessToken, "/artists", params, &resp); err != nil {
		return nil, err
	}

	artists := make([]models.Artist, 0, len(resp.Artists))
	for _, a := range resp.Artists {
		artists = append(artists, models.Artist{
			SpotifyID:  a.ID,
			Name:       a.Name,
			Genres:     a.Genres,
			Popularity: a.Popularity,
		})
	}
	return artists, nil
}

func (c *Client) resolveArtistGenres(ctx context.Context, accessToken string, feed recentlyPlayedResponse) (map[string]models.Artist, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, item := range feed.Items {
		for _, a := range item.Track.Artists {
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			ids = append(ids, a.ID)
		}
	}

	byID := make(map[string]models.Artist, len(ids))
	for start := 0; start < len(ids); start += 50 {
		end := start + 50
		if end > len(ids) {
			end = len(ids)
		}
		artists, err := c.GetArtists(ctx, accessToken, ids[start:end])
		if err != nil {
			return nil, err
		}
		for _, a := range artists {
			byID[a.SpotifyID] = a
		}
	}
	return byID, nil
}

func toTrack(t apiTrack) models.Track {
	artistIDs := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artistIDs = append(artistIDs, a.ID)
	}
	return models.Track{
		SpotifyID:  t.ID,
		Name:       t.Name,
		DurationMS: t.DurationMS,
		AlbumID:    t.Album.ID,
		ArtistIDs:  artistIDs,
		ISRC:       t.ExternalIDs.ISRC,
		Popularity: t.Popularity,
	}
}

func toAlbum(a apiAlbum) models.Album {
	album := models.Album{
		SpotifyID:   a.ID,
		Name:        a.Name,
		ReleaseDate: a.ReleaseDate,
		AlbumType:   a.AlbumType,
		TotalTracks: a.TotalTracks,
	}
	// Spotify orders images large to small; the middle size balances quality
	// against payload weight.
	if len(a.Images) > 1 {
		album.ImageURL = a.Images[1].URL
	} else if len(a.Images) == 1 {
		album.ImageURL = a.Images[0].URL
	}
	return album
}

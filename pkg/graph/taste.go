package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/music-match-system/pkg/models"
)

// ErrNotFound is returned when an operation references a user or track that
// is not in the store.
var ErrNotFound = fmt.Errorf("not found in graph store")

// UpsertArtist merges the artist on its Spotify ID and refreshes mutable
// metadata, then links it to Genre nodes for each of its genres.
func (s *Store) UpsertArtist(ctx context.Context, artist models.Artist) error {
	cypher := `
		MERGE (a:Artist {spotify_id: $spotifyID})
		ON CREATE SET a.id = $id,
		              a.name = $name,
		              a.genres = $genres,
		              a.popularity = $popularity,
		              a.created_at = datetime()
		ON MATCH SET a.name = $name,
		             a.genres = $genres,
		             a.popularity = $popularity,
		             a.updated_at = datetime()
		WITH a
		UNWIND $genres AS genre
		MERGE (g:Genre {name: genre})
		MERGE (a)-[:TAGGED_AS]->(g)`

	genres := artist.Genres
	if genres == nil {
		genres = []string{}
	}
	_, err := s.write(ctx, cypher, map[string]any{
		"spotifyID":  artist.SpotifyID,
		"id":         uuid.New().String(),
		"name":       artist.Name,
		"genres":     genres,
		"popularity": artist.Popularity,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert artist %s: %w", artist.SpotifyID, err)
	}
	return nil
}

func (s *Store) UpsertAlbum(ctx context.Context, album models.Album) error {
	cypher := `
		MERGE (al:Album {spotify_id: $spotifyID})
		ON CREATE SET al.id = $id,
		              al.name = $name,
		              al.album_type = $albumType,
		              al.total_tracks = $totalTracks,
		              al.image_url = $imageURL,
		              al.release_date = $releaseDate,
		              al.created_at = datetime()
		ON MATCH SET al.name = $name,
		             al.image_url = $imageURL,
		             al.updated_at = datetime()`

	_, err := s.write(ctx, cypher, map[string]any{
		"spotifyID":   album.SpotifyID,
		"id":          uuid.New().String(),
		"name":        album.Name,
		"albumType":   album.AlbumType,
		"totalTracks": album.TotalTracks,
		"imageURL":    album.ImageURL,
		"releaseDate": album.ReleaseDate,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert album %s: %w", album.SpotifyID, err)
	}
	return nil
}

// UpsertTrack merges the track and wires it to its album and performing
// artists. Missing artist or album nodes are merged as bare nodes so the
// track is never left dangling; a later UpsertArtist fills them in.
func (s *Store) UpsertTrack(ctx context.Context, track models.Track) error {
	cypher := `
		MERGE (t:Track {spotify_id: $spotifyID})
		ON CREATE SET t.id = $id,
		              t.name = $name,
		              t.duration_ms = $durationMS,
		              t.isrc = $isrc,
		              t.popularity = $popularity,
		              t.created_at = datetime()
		ON MATCH SET t.name = $name,
		             t.duration_ms = $durationMS,
		             t.popularity = $popularity,
		             t.updated_at = datetime()
		WITH t
		UNWIND $artistIDs AS artistID
		MERGE (a:Artist {spotify_id: artistID})
		MERGE (a)-[:PERFORMED]->(t)`

	artistIDs := track.ArtistIDs
	if artistIDs == nil {
		artistIDs = []string{}
	}
	_, err := s.write(ctx, cypher, map[string]any{
		"spotifyID":  track.SpotifyID,
		"id":         uuid.New().String(),
		"name":       track.Name,
		"durationMS": track.DurationMS,
		"isrc":       track.ISRC,
		"popularity": track.Popularity,
		"artistIDs":  artistIDs,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert track %s: %w", track.SpotifyID, err)
	}

	if track.AlbumID == "" {
		return nil
	}
	link := `
		MATCH (t:Track {spotify_id: $trackID})
		MERGE (al:Album {spotify_id: $albumID})
		MERGE (t)-[:ON_ALBUM]->(al)`
	if _, err := s.write(ctx, link, map[string]any{
		"trackID": track.SpotifyID,
		"albumID": track.AlbumID,
	}); err != nil {
		return fmt.Errorf("failed to link track %s to album: %w", track.SpotifyID, err)
	}
	return nil
}

// CreatePlay stores a play keyed by its dedup key. It returns false when a
// play with the same key already exists; the existing play is left untouched.
// The CASE/FOREACH guard attaches relationships only on the create path, so
// a concurrent duplicate never re-links or mutates the winner.
func (s *Store) CreatePlay(ctx context.Context, userID uuid.UUID, trackSpotifyID string, play models.Play) (bool, error) {
	cypher := `
		MATCH (u:User {id: $userID})
		MATCH (t:Track {spotify_id: $trackID})
		MERGE (p:Play {dedup_key: $dedupKey})
		ON CREATE SET p.id = $playID,
		              p.played_at = $playedAt,
		              p.duration_played_ms = $durationPlayedMS,
		              p.source = $source,
		              p.confidence = $confidence,
		              p.context_type = $contextType,
		              p.context_uri = $contextURI,
		              p.ingested_at = datetime()
		WITH u, t, p
		FOREACH (_ IN CASE WHEN p.id = $playID THEN [1] ELSE [] END |
			MERGE (u)-[:PLAYED]->(p)
			MERGE (p)-[:OF_TRACK]->(t))
		RETURN p.id = $playID AS created`

	records, err := s.write(ctx, cypher, map[string]any{
		"userID":           userID.String(),
		"trackID":          trackSpotifyID,
		"dedupKey":         play.DedupKey,
		"playID":           uuid.New().String(),
		"playedAt":         play.PlayedAt,
		"durationPlayedMS": play.DurationPlayedMS,
		"source":           play.Source,
		"confidence":       play.Confidence,
		"contextType":      play.ContextType,
		"contextURI":       play.ContextURI,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create play: %w", err)
	}
	if len(records) == 0 {
		// MATCH found no user or track node: the metadata upsert that must
		// precede every play create did not happen.
		return false, fmt.Errorf("create play for user %s track %s: %w", userID, trackSpotifyID, ErrNotFound)
	}
	return recBool(records[0], "created"), nil
}

// RecordListen increments the LISTENS_TO counter from the user to each of
// the track's artists. Counters are a derived convenience; plays remain the
// source of truth and RecountListens can rebuild them at any time.
func (s *Store) RecordListen(ctx context.Context, userID uuid.UUID, artistSpotifyIDs []string) error {
	if len(artistSpotifyIDs) == 0 {
		return nil
	}
	cypher := `
		MATCH (u:User {id: $userID})
		UNWIND $artistIDs AS artistID
		MATCH (a:Artist {spotify_id: artistID})
		MERGE (u)-[r:LISTENS_TO]->(a)
		ON CREATE SET r.play_count = 0
		SET r.play_count = r.play_count + 1,
		    r.last_updated = datetime()`

	_, err := s.write(ctx, cypher, map[string]any{
		"userID":    userID.String(),
		"artistIDs": artistSpotifyIDs,
	})
	if err != nil {
		return fmt.Errorf("failed to record listen: %w", err)
	}
	return nil
}

// RecountListens rebuilds a user's LISTENS_TO counters from their stored
// plays and drops edges no play supports anymore. Used after erasure and as
// a repair for drifted counters.
func (s *Store) RecountListens(ctx context.Context, userID uuid.UUID) error {
	rebuild := `
		MATCH (u:User {id: $userID})-[:PLAYED]->(:Play)-[:OF_TRACK]->(:Track)<-[:PERFORMED]-(a:Artist)
		WITH u, a, count(*) AS plays
		MERGE (u)-[r:LISTENS_TO]->(a)
		SET r.play_count = plays,
		    r.last_updated = datetime()`
	if _, err := s.write(ctx, rebuild, map[string]any{"userID": userID.String()}); err != nil {
		return fmt.Errorf("failed to recount listens: %w", err)
	}

	prune := `
		MATCH (u:User {id: $userID})-[r:LISTENS_TO]->(a:Artist)
		WHERE NOT (u)-[:PLAYED]->(:Play)-[:OF_TRACK]->(:Track)<-[:PERFORMED]-(a)
		DELETE r`
	if _, err := s.write(ctx, prune, map[string]any{"userID": userID.String()}); err != nil {
		return fmt.Errorf("failed to prune stale listens: %w", err)
	}
	return nil
}

// LastPlayTimestamp returns the played_at of the user's most recent play, or
// nil when the user has none.
func (s *Store) LastPlayTimestamp(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	cypher := `
		MATCH (:User {id: $userID})-[:PLAYED]->(p:Play)
		RETURN p.played_at AS playedAt
		ORDER BY p.played_at DESC
		LIMIT 1`

	records, err := s.read(ctx, cypher, map[string]any{"userID": userID.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch last play timestamp: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return recTime(records[0], "playedAt"), nil
}

// TouchLastActive stamps the user's last_active_at, which feeds the search
// activity filter and the relative-time display.
func (s *Store) TouchLastActive(ctx context.Context, userID uuid.UUID) error {
	cypher := `
		MATCH (u:User {id: $userID})
		SET u.last_active_at = datetime()`
	if _, err := s.write(ctx, cypher, map[string]any{"userID": userID.String()}); err != nil {
		return fmt.Errorf("failed to touch last active: %w", err)
	}
	return nil
}

// MarkSourceConnected records that a streaming source is linked to the user.
// Membership in source_accounts is what the scheduler enumerates.
func (s *Store) MarkSourceConnected(ctx context.Context, userID uuid.UUID, source string) error {
	cypher := `
		MATCH (u:User {id: $userID})
		SET u.source_accounts = CASE
			WHEN $source IN coalesce(u.source_accounts, []) THEN u.source_accounts
			ELSE coalesce(u.source_accounts, []) + $source
		END,
		u.source_connected_at = datetime()
		RETURN u.id AS id`

	records, err := s.write(ctx, cypher, map[string]any{
		"userID": userID.String(),
		"source": source,
	})
	if err != nil {
		return fmt.Errorf("failed to mark source connected: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("mark source connected for user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// DisconnectSource unlinks a streaming source and erases every play ingested
// from it, then rebuilds the taste counters from whatever plays remain.
func (s *Store) DisconnectSource(ctx context.Context, userID uuid.UUID, source string) error {
	cypher := `
		MATCH (u:User {id: $userID})
		SET u.source_accounts = [src IN coalesce(u.source_accounts, []) WHERE src <> $source]
		WITH u
		OPTIONAL MATCH (u)-[:PLAYED]->(p:Play)
		WHERE p.source = $source
		DETACH DELETE p`

	if _, err := s.write(ctx, cypher, map[string]any{
		"userID": userID.String(),
		"source": source,
	}); err != nil {
		return fmt.Errorf("failed to disconnect source: %w", err)
	}
	return s.RecountListens(ctx, userID)
}

// SourceConnected reports whether the user currently has the source linked.
func (s *Store) SourceConnected(ctx context.Context, userID uuid.UUID, source string) (bool, error) {
	cypher := `
		MATCH (u:User {id: $userID})
		RETURN $source IN coalesce(u.source_accounts, []) AS connected`

	records, err := s.read(ctx, cypher, map[string]any{
		"userID": userID.String(),
		"source": source,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check source connection: %w", err)
	}
	if len(records) == 0 {
		return false, fmt.Errorf("check source for user %s: %w", userID, ErrNotFound)
	}
	return recBool(records[0], "connected"), nil
}

// ListConnectedAccounts returns every active user with the given source
// connected. The scheduler calls this fresh at the start of each tick.
func (s *Store) ListConnectedAccounts(ctx context.Context, source string) ([]models.ConnectedAccount, error) {
	cypher := `
		MATCH (u:User)
		WHERE $source IN coalesce(u.source_accounts, []) AND u.is_active = true
		RETURN u.id AS userID, u.handle AS handle`

	records, err := s.read(ctx, cypher, map[string]any{"source": source})
	if err != nil {
		return nil, fmt.Errorf("failed to list connected accounts: %w", err)
	}

	accounts := make([]models.ConnectedAccount, 0, len(records))
	for _, rec := range records {
		id, err := uuid.Parse(recString(rec, "userID"))
		if err != nil {
			s.log.Warn().Str("user_id", recString(rec, "userID")).Msg("skipping account with malformed id")
			continue
		}
		accounts = append(accounts, models.ConnectedAccount{
			UserID: id,
			Handle: recString(rec, "handle"),
		})
	}
	return accounts, nil
}

// ListeningStats aggregates a user's play count and their top artists by
// LISTENS_TO counter.
func (s *Store) ListeningStats(ctx context.Context, userID uuid.UUID, topLimit int) (*models.ListeningStats, error) {
	counts := `
		MATCH (u:User {id: $userID})
		OPTIONAL MATCH (u)-[:PLAYED]->(p:Play)
		RETURN count(p) AS plays`

	records, err := s.read(ctx, counts, map[string]any{"userID": userID.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listening stats: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("listening stats for user %s: %w", userID, ErrNotFound)
	}

	stats := &models.ListeningStats{
		TotalPlays: recInt64(records[0], "plays"),
	}

	top := `
		MATCH (:User {id: $userID})-[r:LISTENS_TO]->(a:Artist)
		RETURN a.id AS artistID, a.spotify_id AS spotifyID, a.name AS name,
		       a.genres AS genres, r.play_count AS playCount
		ORDER BY r.play_count DESC, a.name ASC
		LIMIT $limit`

	topRecords, err := s.read(ctx, top, map[string]any{
		"userID": userID.String(),
		"limit":  topLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch top artists: %w", err)
	}
	for _, rec := range topRecords {
		stats.TopArtists = append(stats.TopArtists, models.TopArtist{
			ArtistID:  recString(rec, "artistID"),
			SpotifyID: recString(rec, "spotifyID"),
			Name:      recString(rec, "name"),
			Genres:    recStrings(rec, "genres"),
			PlayCount: recInt64(rec, "playCount"),
		})
	}
	return stats, nil
}

package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/music-match-system/pkg/models"
)

const profileReturn = `
	RETURN u.id AS userID, u.handle AS handle, u.city AS city,
	       u.country AS country, u.city_visible AS cityVisible,
	       u.profile_image_url AS profileImageURL,
	       u.source_accounts AS sourceAccounts,
	       u.last_active_at AS lastActiveAt`

// SearchByName retrieves candidate profiles whose handle contains the query,
// case-insensitively. The requester is never a candidate, and only active,
// verified users who opted into name discovery are returned.
func (s *Store) SearchByName(ctx context.Context, query string, requesterID uuid.UUID, limit, offset int) ([]models.ProfileRow, error) {
	cypher := `
		MATCH (u:User)
		WHERE u.id <> $requesterID
		  AND u.is_active = true
		  AND u.email_verified = true
		  AND u.discoverable_by_name = true
		  AND toLower(u.handle) CONTAINS toLower($query)` +
		profileReturn + `
		ORDER BY u.handle ASC
		SKIP $offset LIMIT $limit`

	records, err := s.read(ctx, cypher, map[string]any{
		"query":       query,
		"requesterID": requesterID.String(),
		"offset":      offset,
		"limit":       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search by name: %w", err)
	}
	return collectProfiles(records), nil
}

// SearchByArtist retrieves listeners of artists matching the query, most
// played first. Matching artists are capped so one broad query term cannot
// fan out across the whole catalog.
func (s *Store) SearchByArtist(ctx context.Context, query string, requesterID uuid.UUID, limit, offset int) ([]models.ProfileRow, error) {
	cypher := `
		MATCH (a:Artist)
		WHERE toLower(a.name) CONTAINS toLower($query)
		WITH a LIMIT 5
		MATCH (u:User)-[r:LISTENS_TO]->(a)
		WHERE u.id <> $requesterID
		  AND u.is_active = true
		  AND u.email_verified = true
		  AND u.discoverable_by_music = true
		WITH u, sum(r.play_count) AS totalPlays` +
		profileReturn + `
		ORDER BY totalPlays DESC, u.handle ASC
		SKIP $offset LIMIT $limit`

	records, err := s.read(ctx, cypher, map[string]any{
		"query":       query,
		"requesterID": requesterID.String(),
		"offset":      offset,
		"limit":       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search by artist: %w", err)
	}
	return collectProfiles(records), nil
}

// SearchByGenre retrieves listeners of artists tagged with genres matching
// the query, ordered by how many such artists they listen to.
func (s *Store) SearchByGenre(ctx context.Context, query string, requesterID uuid.UUID, limit, offset int) ([]models.ProfileRow, error) {
	cypher := `
		MATCH (g:Genre)
		WHERE toLower(g.name) CONTAINS toLower($query)
		WITH g LIMIT 3
		MATCH (u:User)-[:LISTENS_TO]->(a:Artist)-[:TAGGED_AS]->(g)
		WHERE u.id <> $requesterID
		  AND u.is_active = true
		  AND u.email_verified = true
		  AND u.discoverable_by_music = true
		WITH u, count(DISTINCT a) AS artistCount` +
		profileReturn + `
		ORDER BY artistCount DESC, u.handle ASC
		SKIP $offset LIMIT $limit`

	records, err := s.read(ctx, cypher, map[string]any{
		"query":       query,
		"requesterID": requesterID.String(),
		"offset":      offset,
		"limit":       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search by genre: %w", err)
	}
	return collectProfiles(records), nil
}

const sharedArtistsCypher = `
	MATCH (:User {id: $requesterID})-[ra:LISTENS_TO]->(a:Artist)<-[rb:LISTENS_TO]-(:User {id: $targetID})
	RETURN a.spotify_id AS artistID, a.name AS artistName,
	       ra.play_count AS requesterPlays, rb.play_count AS targetPlays
	ORDER BY ra.play_count + rb.play_count DESC, a.name ASC
	LIMIT $limit`

// SharedArtists returns artists both users listen to, ordered by combined
// play count across both sides.
func (s *Store) SharedArtists(ctx context.Context, requesterID, targetID uuid.UUID, limit int) ([]models.SharedArtist, error) {
	records, err := s.read(ctx, sharedArtistsCypher, map[string]any{
		"requesterID": requesterID.String(),
		"targetID":    targetID.String(),
		"limit":       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shared artists: %w", err)
	}

	shared := make([]models.SharedArtist, 0, len(records))
	for _, rec := range records {
		shared = append(shared, models.SharedArtist{
			ArtistID:           recString(rec, "artistID"),
			ArtistName:         recString(rec, "artistName"),
			PlayCountRequester: recInt64(rec, "requesterPlays"),
			PlayCountTarget:    recInt64(rec, "targetPlays"),
		})
	}
	return shared, nil
}

const sharedGenresCypher = `
	MATCH (:User {id: $requesterID})-[:LISTENS_TO]->(a1:Artist)-[:TAGGED_AS]->(g:Genre)
	WITH g, count(DISTINCT a1) AS requesterArtists
	MATCH (:User {id: $targetID})-[:LISTENS_TO]->(a2:Artist)-[:TAGGED_AS]->(g)
	WITH g, requesterArtists, count(DISTINCT a2) AS targetArtists
	RETURN g.name AS name
	ORDER BY requesterArtists + targetArtists DESC, name ASC
	LIMIT $limit`

// SharedGenres returns genre names both users reach through their listened
// artists, most relevant first: a genre's relevance is how many distinct
// artists across both sides carry it.
func (s *Store) SharedGenres(ctx context.Context, requesterID, targetID uuid.UUID, limit int) ([]string, error) {
	records, err := s.read(ctx, sharedGenresCypher, map[string]any{
		"requesterID": requesterID.String(),
		"targetID":    targetID.String(),
		"limit":       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shared genres: %w", err)
	}

	genres := make([]string, 0, len(records))
	for _, rec := range records {
		genres = append(genres, recString(rec, "name"))
	}
	return genres, nil
}

// TasteOverlap gathers the counts the compatibility formula needs. It runs
// as separate aggregations: a user with zero overlap still gets correct
// totals instead of an all-zero row.
func (s *Store) TasteOverlap(ctx context.Context, requesterID, targetID uuid.UUID) (models.TasteOverlap, error) {
	var overlap models.TasteOverlap

	totals := `
		OPTIONAL MATCH (:User {id: $requesterID})-[:LISTENS_TO]->(a:Artist)
		WITH count(DISTINCT a) AS totalA
		OPTIONAL MATCH (:User {id: $targetID})-[:LISTENS_TO]->(b:Artist)
		RETURN totalA, count(DISTINCT b) AS totalB`
	records, err := s.read(ctx, totals, map[string]any{
		"requesterID": requesterID.String(),
		"targetID":    targetID.String(),
	})
	if err != nil {
		return overlap, fmt.Errorf("failed to fetch artist totals: %w", err)
	}
	if len(records) > 0 {
		overlap.TotalA = int(recInt64(records[0], "totalA"))
		overlap.TotalB = int(recInt64(records[0], "totalB"))
	}

	shared := `
		MATCH (:User {id: $requesterID})-[:LISTENS_TO]->(a:Artist)<-[:LISTENS_TO]-(:User {id: $targetID})
		RETURN count(DISTINCT a) AS sharedArtists`
	records, err = s.read(ctx, shared, map[string]any{
		"requesterID": requesterID.String(),
		"targetID":    targetID.String(),
	})
	if err != nil {
		return overlap, fmt.Errorf("failed to fetch shared artist count: %w", err)
	}
	if len(records) > 0 {
		overlap.SharedArtists = int(recInt64(records[0], "sharedArtists"))
	}

	genres := `
		MATCH (:User {id: $requesterID})-[:LISTENS_TO]->(:Artist)-[:TAGGED_AS]->(g:Genre)<-[:TAGGED_AS]-(:Artist)<-[:LISTENS_TO]-(:User {id: $targetID})
		RETURN count(DISTINCT g) AS sharedGenres`
	records, err = s.read(ctx, genres, map[string]any{
		"requesterID": requesterID.String(),
		"targetID":    targetID.String(),
	})
	if err != nil {
		return overlap, fmt.Errorf("failed to fetch shared genre count: %w", err)
	}
	if len(records) > 0 {
		overlap.SharedGenres = int(recInt64(records[0], "sharedGenres"))
	}

	return overlap, nil
}

// RecentPlayCount counts the user's plays since the given instant.
func (s *Store) RecentPlayCount(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	cypher := `
		MATCH (:User {id: $userID})-[:PLAYED]->(p:Play)
		WHERE p.played_at >= $since
		RETURN count(p) AS plays`

	records, err := s.read(ctx, cypher, map[string]any{
		"userID": userID.String(),
		"since":  since,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count recent plays: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	return recInt64(records[0], "plays"), nil
}

func collectProfiles(records []*neo4j.Record) []models.ProfileRow {
	rows := make([]models.ProfileRow, 0, len(records))
	for _, rec := range records {
		id, err := uuid.Parse(recString(rec, "userID"))
		if err != nil {
			continue
		}
		rows = append(rows, models.ProfileRow{
			UserID:          id,
			Handle:          recString(rec, "handle"),
			City:            recString(rec, "city"),
			Country:         recString(rec, "country"),
			CityVisible:     models.CityVisibility(recString(rec, "cityVisible")),
			ProfileImageURL: recString(rec, "profileImageURL"),
			SourceAccounts:  recStrings(rec, "sourceAccounts"),
			LastActiveAt:    recTime(rec, "lastActiveAt"),
		})
	}
	return rows
}

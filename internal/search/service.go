package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/music-match-system/internal/match"
	"github.com/music-match-system/pkg/models"
)

type Type string

const (
	TypeName   Type = "name"
	TypeArtist Type = "artist"
	TypeGenre  Type = "genre"
	TypeMixed  Type = "mixed"
)

const (
	defaultLimit       = 20
	maxLimit           = 100
	sharedArtistsLimit = 3
	sharedGenresLimit  = 5
	activityWindowDays = 30
)

// Repository is the retrieval slice of the event store the orchestrator
// consumes. Retrieval excludes the requester, inactive/unverified accounts,
// and accounts that disabled the relevant discoverability flag.
type Repository interface {
	SearchByName(ctx context.Context, query string, requesterID uuid.UUID, limit, offset int) ([]models.ProfileRow, error)
	SearchByArtist(ctx context.Context, query string, requesterID uuid.UUID, limit, offset int) ([]models.ProfileRow, error)
	SearchByGenre(ctx context.Context, query string, requesterID uuid.UUID, limit, offset int) ([]models.ProfileRow, error)

	SharedArtists(ctx context.Context, requesterID, targetID uuid.UUID, limit int) ([]models.SharedArtist, error)
	SharedGenres(ctx context.Context, requesterID, targetID uuid.UUID, limit int) ([]string, error)
	TasteOverlap(ctx context.Context, requesterID, targetID uuid.UUID) (models.TasteOverlap, error)
	RecentPlayCount(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
}

// Request is a validated profile search.
type Request struct {
	Query            string
	Type             Type
	RequesterID      uuid.UUID
	City             string
	RadiusKM         int
	Limit            int
	Offset           int
	MinSharedArtists int
}

// Service dispatches a query to the retrieval strategies, enriches and ranks
// the merged candidates, and paginates.
type Service struct {
	repo Repository
	log  zerolog.Logger
	now  func() time.Time
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "search").Logger(),
		now:  time.Now,
	}
}

func (s *Service) Search(ctx context.Context, req Request) (models.SearchResponse, error) {
	started := s.now()

	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}
	if req.Type == "" {
		req.Type = TypeMixed
	}

	rows, err := s.retrieve(ctx, req)
	if err != nil {
		return models.SearchResponse{}, err
	}

	hits := make([]models.ProfileHit, 0, len(rows))
	for _, row := range rows {
		hit, keep := s.enrich(ctx, req, row)
		if keep {
			hits = append(hits, hit)
		}
	}

	// Descending score; equal scores fall back to user id so the order is
	// deterministic across runs.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].SearchScore != hits[j].SearchScore {
			return hits[i].SearchScore > hits[j].SearchScore
		}
		return hits[i].UserID.String() < hits[j].UserID.String()
	})

	if len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}

	return models.SearchResponse{
		Hits:        hits,
		Total:       len(hits),
		NextCursor:  nil,
		QueryTimeMS: time.Since(started).Milliseconds(),
	}, nil
}

// retrieve runs the retrieval strategies for the requested search type.
// Mixed runs name and artist search independently and merges in first-seen
// order; single-mode searches overfetch 2x to leave room for post-filtering.
func (s *Service) retrieve(ctx context.Context, req Request) ([]models.ProfileRow, error) {
	switch req.Type {
	case TypeName:
		return s.repo.SearchByName(ctx, req.Query, req.RequesterID, req.Limit*2, req.Offset)
	case TypeArtist:
		return s.repo.SearchByArtist(ctx, req.Query, req.RequesterID, req.Limit*2, req.Offset)
	case TypeGenre:
		return s.repo.SearchByGenre(ctx, req.Query, req.RequesterID, req.Limit*2, req.Offset)
	case TypeMixed:
		byName, err := s.repo.SearchByName(ctx, req.Query, req.RequesterID, req.Limit, 0)
		if err != nil {
			return nil, fmt.Errorf("name retrieval: %w", err)
		}
		byArtist, err := s.repo.SearchByArtist(ctx, req.Query, req.RequesterID, req.Limit, 0)
		if err != nil {
			return nil, fmt.Errorf("artist retrieval: %w", err)
		}

		seen := make(map[uuid.UUID]struct{}, len(byName)+len(byArtist))
		merged := make([]models.ProfileRow, 0, len(byName)+len(byArtist))
		for _, row := range append(byName, byArtist...) {
			if _, ok := seen[row.UserID]; ok {
				continue
			}
			seen[row.UserID] = struct{}{}
			merged = append(merged, row)
		}
		return merged, nil
	default:
		return nil, fmt.Errorf("unknown search type %q", req.Type)
	}
}

// enrich computes the ranking signals for one candidate. Missing or failing
// data degrades to neutral scores; a single candidate can never fail the
// query. The second return is false when the candidate is filtered out.
func (s *Service) enrich(ctx context.Context, req Request, row models.ProfileRow) (models.ProfileHit, bool) {
	targetID := row.UserID

	overlap, err := s.repo.TasteOverlap(ctx, req.RequesterID, targetID)
	if err != nil {
		s.log.Debug().Err(err).Str("target", targetID.String()).Msg("taste overlap unavailable")
		overlap = models.TasteOverlap{}
	}

	// The filter compares against the full overlap count, not the capped
	// display list.
	if req.MinSharedArtists > 0 && overlap.SharedArtists < req.MinSharedArtists {
		return models.ProfileHit{}, false
	}

	sharedArtists, err := s.repo.SharedArtists(ctx, req.RequesterID, targetID, sharedArtistsLimit)
	if err != nil {
		s.log.Debug().Err(err).Str("target", targetID.String()).Msg("shared artists unavailable")
		sharedArtists = nil
	}

	sharedGenres, err := s.repo.SharedGenres(ctx, req.RequesterID, targetID, sharedGenresLimit)
	if err != nil {
		sharedGenres = nil
	}

	since := s.now().AddDate(0, 0, -activityWindowDays)
	playCount, err := s.repo.RecentPlayCount(ctx, targetID, since)
	if err != nil {
		playCount = 0
	}

	compatibility := match.Compatibility(match.Overlap{
		SharedArtists: overlap.SharedArtists,
		TotalA:        overlap.TotalA,
		TotalB:        overlap.TotalB,
		SharedGenres:  overlap.SharedGenres,
	})

	// City-to-city distance is not resolvable without a geocoder, so the
	// proximity term stays at its neutral value.
	var distanceKM *float64

	quality := match.ProfileQuality(match.ProfileSignals{
		HasImage:           row.ProfileImageURL != "",
		HasLocation:        row.City != "",
		HasConnectedSource: len(row.SourceAccounts) > 0,
	})

	score := match.SearchScore(
		compatibility,
		match.ActivityScore(playCount),
		match.ProximityScore(distanceKM),
		quality,
	)

	if sharedArtists == nil {
		sharedArtists = []models.SharedArtist{}
	}
	if sharedGenres == nil {
		sharedGenres = []string{}
	}

	return models.ProfileHit{
		UserID:             targetID,
		Handle:             row.Handle,
		CityBucket:         FormatCity(row.City, row.Country, row.CityVisible),
		ProfileImageURL:    row.ProfileImageURL,
		TopSharedArtists:   sharedArtists,
		SharedGenres:       sharedGenres,
		CompatibilityScore: compatibility,
		SearchScore:        score,
		DistanceKM:         distanceKM,
		LastActive:         FormatLastActive(row.LastActiveAt, s.now()),
	}, true
}

package scrobble

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/music-match-system/pkg/models"
)

const (
	// Source label stamped on every play created by this pipeline.
	playSource = "spotify"

	backfillPageSize = 50
)

// Store is the slice of the event store the ingestion pipeline needs.
// Each call is a single atomic operation; the pipeline makes no cross-call
// transaction assumptions.
type Store interface {
	UpsertArtist(ctx context.Context, artist models.Artist) error
	UpsertAlbum(ctx context.Context, album models.Album) error
	UpsertTrack(ctx context.Context, track models.Track) error

	// CreatePlay creates the play unless one with the same dedup key already
	// exists. Returns false when the key was already present.
	CreatePlay(ctx context.Context, userID uuid.UUID, trackSpotifyID string, play models.Play) (bool, error)

	// RecordListen bumps the LISTENS_TO play_count towards each artist.
	RecordListen(ctx context.Context, userID uuid.UUID, artistSpotifyIDs []string) error

	// LastPlayTimestamp returns the played_at of the user's most recent play,
	// or nil when the user has none.
	LastPlayTimestamp(ctx context.Context, userID uuid.UUID) (*time.Time, error)
}

// Feed is the upstream recently-played source consumed by Backfill.
type Feed interface {
	GetRecentlyPlayed(ctx context.Context, accessToken string, limit int, after *time.Time) ([]models.RawPlayEvent, error)
}

// Service ingests raw play events: normalizes metadata, deduplicates, and
// applies the scrobble rule.
type Service struct {
	store Store
	feed  Feed
	log   zerolog.Logger
}

func NewService(store Store, feed Feed, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		feed:  feed,
		log:   log.With().Str("component", "scrobble").Logger(),
	}
}

// DedupKey derives the idempotence key of a play: the same user, track and
// played-at second always map to the same key, so overlapping backfill windows
// cannot create duplicate plays.
func DedupKey(userID uuid.UUID, trackSpotifyID string, playedAt time.Time) string {
	raw := fmt.Sprintf("%s:%s:%d", userID, trackSpotifyID, playedAt.Unix())
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ProcessBatch runs every event through the pipeline independently. A
// malformed event or a store error affects only that event's counter; the
// batch always runs to completion. Events are processed in input order, but
// dedup makes the stored result order-independent.
func (s *Service) ProcessBatch(ctx context.Context, userID uuid.UUID, events []models.RawPlayEvent) models.IngestStats {
	var stats models.IngestStats

	for _, ev := range events {
		stats.Processed++

		outcome, err := s.processEvent(ctx, userID, ev)
		if err != nil {
			stats.Errors++
			s.log.Warn().Err(err).
				Str("user_id", userID.String()).
				Str("track", ev.Track.SpotifyID).
				Msg("event failed, continuing batch")
			continue
		}

		switch outcome {
		case outcomeScrobbled:
			stats.Scrobbled++
		case outcomeSkipped:
			stats.Skipped++
		}
	}

	return stats
}

type eventOutcome int

const (
	outcomeScrobbled eventOutcome = iota
	outcomeSkipped
)

func (s *Service) processEvent(ctx context.Context, userID uuid.UUID, ev models.RawPlayEvent) (eventOutcome, error) {
	if ev.Track.SpotifyID == "" {
		return 0, fmt.Errorf("event has no track id")
	}
	if ev.PlayedAt.IsZero() {
		return 0, fmt.Errorf("event has no played_at timestamp")
	}

	// The play node references the track, so metadata upserts are a hard
	// precondition, not best-effort.
	for _, artist := range ev.Artists {
		if err := s.store.UpsertArtist(ctx, artist); err != nil {
			return 0, fmt.Errorf("upsert artist %s: %w", artist.SpotifyID, err)
		}
	}
	if ev.Album.SpotifyID != "" {
		if err := s.store.UpsertAlbum(ctx, ev.Album); err != nil {
			return 0, fmt.Errorf("upsert album %s: %w", ev.Album.SpotifyID, err)
		}
	}
	if err := s.store.UpsertTrack(ctx, ev.Track); err != nil {
		return 0, fmt.Errorf("upsert track %s: %w", ev.Track.SpotifyID, err)
	}

	counted, confidence := Evaluate(ev.DurationPlayedMS, ev.Track.DurationMS)
	if !counted {
		return outcomeSkipped, nil
	}

	play := models.Play{
		ID:               uuid.New(),
		DedupKey:         DedupKey(userID, ev.Track.SpotifyID, ev.PlayedAt),
		PlayedAt:         ev.PlayedAt,
		DurationPlayedMS: ev.DurationPlayedMS,
		Source:           playSource,
		Confidence:       confidence,
		ContextType:      ev.ContextType,
		ContextURI:       ev.ContextURI,
	}

	created, err := s.store.CreatePlay(ctx, userID, ev.Track.SpotifyID, play)
	if err != nil {
		return 0, fmt.Errorf("create play: %w", err)
	}
	if !created {
		// Duplicate dedup key: not an error, just already counted.
		return outcomeSkipped, nil
	}

	artistIDs := make([]string, 0, len(ev.Artists))
	for _, a := range ev.Artists {
		artistIDs = append(artistIDs, a.SpotifyID)
	}
	if err := s.store.RecordListen(ctx, userID, artistIDs); err != nil {
		// The counter is a denormalized accelerator; the plays themselves are
		// the source of truth, so a failed bump does not fail the event.
		s.log.Warn().Err(err).
			Str("user_id", userID.String()).
			Msg("failed to bump listen counters")
	}

	return outcomeScrobbled, nil
}

// Backfill pulls the user's recently-played feed since their newest stored
// play and ingests it. The lower bound only keeps batches small; dedup still
// protects against overlap.
func (s *Service) Backfill(ctx context.Context, userID uuid.UUID, accessToken string) (models.IngestStats, error) {
	after, err := s.store.LastPlayTimestamp(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).
			Str("user_id", userID.String()).
			Msg("could not read last play timestamp, backfilling without lower bound")
		after = nil
	}

	events, err := s.feed.GetRecentlyPlayed(ctx, accessToken, backfillPageSize, after)
	if err != nil {
		return models.IngestStats{}, fmt.Errorf("fetch recently played: %w", err)
	}

	stats := s.ProcessBatch(ctx, userID, events)

	s.log.Info().
		Str("user_id", userID.String()).
		Int("processed", stats.Processed).
		Int("scrobbled", stats.Scrobbled).
		Int("skipped", stats.Skipped).
		Int("errors", stats.Errors).
		Msg("backfill finished")

	return stats, nil
}

// Package poller keeps connected streaming accounts in sync: a scheduler
// polls every account on an interval, and a worker runs on-demand syncs
// requested over the event bus. Both share the same per-account sync step.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/music-match-system/internal/spotify"
	"github.com/music-match-system/pkg/models"
	storeredis "github.com/music-match-system/pkg/redis"
)

// Credentials is the slice of the token store the syncer needs.
type Credentials interface {
	GetTokens(ctx context.Context, userID string) (*storeredis.TokenInfo, error)
	RefreshToken(ctx context.Context, userID string, newAccessToken string, newExpiresAt time.Time) error
}

// Refresher exchanges a refresh token for a fresh access token.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*spotify.TokenResponse, error)
}

// Ingestor runs the backfill for one user.
type Ingestor interface {
	Backfill(ctx context.Context, userID uuid.UUID, accessToken string) (models.IngestStats, error)
}

// Syncer performs one account's sync: load the credential, refresh it if
// expired, then backfill. It holds no per-account state, so concurrent syncs
// of different accounts are safe.
type Syncer struct {
	creds     Credentials
	refresher Refresher
	ingest    Ingestor
	log       zerolog.Logger
	now       func() time.Time
}

func NewSyncer(creds Credentials, refresher Refresher, ingest Ingestor, log zerolog.Logger) *Syncer {
	return &Syncer{
		creds:     creds,
		refresher: refresher,
		ingest:    ingest,
		log:       log.With().Str("component", "syncer").Logger(),
		now:       time.Now,
	}
}

// Sync backfills one account. The credential is read fresh on every call so
// a token rotated elsewhere is picked up, and a refreshed token is persisted
// before it is used: if the sync dies mid-flight, the store never holds a
// token that was already invalidated upstream.
func (s *Syncer) Sync(ctx context.Context, userID uuid.UUID) (models.IngestStats, error) {
	token, err := s.creds.GetTokens(ctx, userID.String())
	if err != nil {
		return models.IngestStats{}, fmt.Errorf("load credential: %w", err)
	}

	if token.Expired(s.now()) {
		s.log.Debug().Str("user_id", userID.String()).Msg("access token expired, refreshing")

		refreshed, err := s.refresher.RefreshToken(ctx, token.RefreshToken)
		if err != nil {
			return models.IngestStats{}, fmt.Errorf("refresh token: %w", err)
		}

		expiresAt := s.now().Add(time.Duration(refreshed.ExpiresIn) * time.Second)
		if err := s.creds.RefreshToken(ctx, userID.String(), refreshed.AccessToken, expiresAt); err != nil {
			return models.IngestStats{}, fmt.Errorf("persist refreshed token: %w", err)
		}
		token.AccessToken = refreshed.AccessToken
	}

	stats, err := s.ingest.Backfill(ctx, userID, token.AccessToken)
	if err != nil {
		return models.IngestStats{}, fmt.Errorf("backfill: %w", err)
	}
	return stats, nil
}

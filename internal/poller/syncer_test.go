package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-match-system/internal/spotify"
	"github.com/music-match-system/pkg/models"
	storeredis "github.com/music-match-system/pkg/redis"
)

type fakeCredentials struct {
	token *storeredis.TokenInfo

	getErr     error
	persistErr error

	// ops records the order of credential operations so tests can assert
	// that a refreshed token is persisted before it is used.
	ops []string
}

func (f *fakeCredentials) GetTokens(_ context.Context, _ string) (*storeredis.TokenInfo, error) {
	f.ops = append(f.ops, "get")
	if f.getErr != nil {
		return nil, f.getErr
	}
	tok := *f.token
	return &tok, nil
}

func (f *fakeCredentials) RefreshToken(_ context.Context, _ string, newAccessToken string, newExpiresAt time.Time) error {
	f.ops = append(f.ops, "persist")
	if f.persistErr != nil {
		return f.persistErr
	}
	f.token.AccessToken = newAccessToken
	f.token.ExpiresAt = newExpiresAt
	return nil
}

type fakeRefresher struct {
	response *spotify.TokenResponse
	err      error
	calls    int
}

func (f *fakeRefresher) RefreshToken(_ context.Context, _ string) (*spotify.TokenResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type fakeIngestor struct {
	stats models.IngestStats
	err   error

	tokensUsed []string
	usersSeen  []uuid.UUID
	onBackfill func()
}

func (f *fakeIngestor) Backfill(_ context.Context, userID uuid.UUID, accessToken string) (models.IngestStats, error) {
	if f.onBackfill != nil {
		f.onBackfill()
	}
	f.tokensUsed = append(f.tokensUsed, accessToken)
	f.usersSeen = append(f.usersSeen, userID)
	if f.err != nil {
		return models.IngestStats{}, f.err
	}
	return f.stats, nil
}

func newTestSyncer(creds *fakeCredentials, refresher *fakeRefresher, ingest *fakeIngestor) *Syncer {
	s := NewSyncer(creds, refresher, ingest, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestSyncUsesStoredTokenWhenValid(t *testing.T) {
	creds := &fakeCredentials{token: &storeredis.TokenInfo{
		AccessToken: "valid-token",
		ExpiresAt:   time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
	}}
	refresher := &fakeRefresher{}
	ingest := &fakeIngestor{stats: models.IngestStats{Processed: 2, Scrobbled: 2}}

	stats, err := newTestSyncer(creds, refresher, ingest).Sync(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Scrobbled)
	assert.Equal(t, 0, refresher.calls)
	assert.Equal(t, []string{"valid-token"}, ingest.tokensUsed)
}

func TestSyncRefreshesAndPersistsBeforeUse(t *testing.T) {
	creds := &fakeCredentials{token: &storeredis.TokenInfo{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}}
	refresher := &fakeRefresher{response: &spotify.TokenResponse{
		AccessToken: "fresh-token",
		ExpiresIn:   3600,
	}}
	ingest := &fakeIngestor{}
	ingest.onBackfill = func() {
		// The new token must already be in the store when the sync runs.
		creds.ops = append(creds.ops, "backfill")
	}

	_, err := newTestSyncer(creds, refresher, ingest).Sync(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, []string{"fresh-token"}, ingest.tokensUsed)
	assert.Equal(t, []string{"get", "persist", "backfill"}, creds.ops)
	assert.Equal(t, "fresh-token", creds.token.AccessToken)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), creds.token.ExpiresAt)
}

func TestSyncFailsWithoutCredential(t *testing.T) {
	creds := &fakeCredentials{getErr: storeredis.ErrTokenNotFound}
	ingest := &fakeIngestor{}

	_, err := newTestSyncer(creds, &fakeRefresher{}, ingest).Sync(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, storeredis.ErrTokenNotFound)
	assert.Empty(t, ingest.tokensUsed)
}

func TestSyncAbortsWhenPersistFails(t *testing.T) {
	creds := &fakeCredentials{
		token: &storeredis.TokenInfo{
			AccessToken: "stale-token",
			ExpiresAt:   time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
		},
		persistErr: errors.New("redis down"),
	}
	refresher := &fakeRefresher{response: &spotify.TokenResponse{AccessToken: "fresh-token", ExpiresIn: 3600}}
	ingest := &fakeIngestor{}

	_, err := newTestSyncer(creds, refresher, ingest).Sync(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Empty(t, ingest.tokensUsed, "a token that was not persisted must not be used")
}

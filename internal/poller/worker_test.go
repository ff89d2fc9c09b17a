package poller

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-match-system/pkg/events"
	"github.com/music-match-system/pkg/models"
	storeredis "github.com/music-match-system/pkg/redis"
)

type fakePublisher struct {
	completed []uuid.UUID
	failed    []uuid.UUID
	reasons   []string
}

func (f *fakePublisher) PublishSyncCompleted(_ context.Context, userID uuid.UUID, _ models.IngestStats) error {
	f.completed = append(f.completed, userID)
	return nil
}

func (f *fakePublisher) PublishSyncFailed(_ context.Context, userID uuid.UUID, reason string) error {
	f.failed = append(f.failed, userID)
	f.reasons = append(f.reasons, reason)
	return nil
}

func newTestWorker(syncer *Syncer, publisher *fakePublisher) *Worker {
	return NewWorker(nil, publisher, syncer, zerolog.Nop())
}

func syncRequested(userID string) events.Event {
	return events.Event{
		Type:      events.EventTypeSyncRequested,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
}

func TestWorkerPublishesCompletionWithStats(t *testing.T) {
	userID := uuid.New()
	ingest := &fakeIngestor{stats: models.IngestStats{Processed: 5, Scrobbled: 4, Skipped: 1}}
	creds := &fakeCredentials{token: &storeredis.TokenInfo{
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	publisher := &fakePublisher{}

	w := newTestWorker(newTestSyncer(creds, &fakeRefresher{}, ingest), publisher)

	require.NoError(t, w.handle(syncRequested(userID.String())))

	assert.Equal(t, []uuid.UUID{userID}, publisher.completed)
	assert.Empty(t, publisher.failed)
	assert.Equal(t, []uuid.UUID{userID}, ingest.usersSeen)
}

func TestWorkerPublishesFailureInsteadOfStoppingConsumer(t *testing.T) {
	userID := uuid.New()
	creds := &fakeCredentials{getErr: storeredis.ErrTokenNotFound}
	publisher := &fakePublisher{}

	w := newTestWorker(newTestSyncer(creds, &fakeRefresher{}, &fakeIngestor{}), publisher)

	// The handler swallows sync errors; an error return would kill the loop.
	require.NoError(t, w.handle(syncRequested(userID.String())))

	assert.Equal(t, []uuid.UUID{userID}, publisher.failed)
	require.Len(t, publisher.reasons, 1)
	assert.Contains(t, publisher.reasons[0], "load credential")
	assert.Empty(t, publisher.completed)
}

func TestWorkerIgnoresOtherEventTypes(t *testing.T) {
	publisher := &fakePublisher{}
	ingest := &fakeIngestor{}
	creds := &fakeCredentials{token: &storeredis.TokenInfo{ExpiresAt: time.Now().Add(time.Hour)}}

	w := newTestWorker(newTestSyncer(creds, &fakeRefresher{}, ingest), publisher)

	require.NoError(t, w.handle(events.Event{Type: events.EventTypeSyncCompleted, UserID: uuid.NewString()}))
	require.NoError(t, w.handle(events.Event{Type: events.EventTypePlaysScrobbled, UserID: uuid.NewString()}))

	assert.Empty(t, ingest.usersSeen)
	assert.Empty(t, publisher.completed)
	assert.Empty(t, publisher.failed)
}

func TestWorkerDropsMalformedUserID(t *testing.T) {
	publisher := &fakePublisher{}
	ingest := &fakeIngestor{}
	creds := &fakeCredentials{token: &storeredis.TokenInfo{ExpiresAt: time.Now().Add(time.Hour)}}

	w := newTestWorker(newTestSyncer(creds, &fakeRefresher{}, ingest), publisher)

	require.NoError(t, w.handle(syncRequested("not-a-uuid")))

	assert.Empty(t, ingest.usersSeen)
	assert.Empty(t, publisher.failed)
}

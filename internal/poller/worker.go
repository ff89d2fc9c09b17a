package poller

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/music-match-system/pkg/events"
	"github.com/music-match-system/pkg/models"
)

// Consumer is the event-bus subscription the worker reads from.
type Consumer interface {
	ConsumeEvents(ctx context.Context, handler func(events.Event) error) error
}

// Publisher reports sync outcomes back onto the bus.
type Publisher interface {
	PublishSyncCompleted(ctx context.Context, userID uuid.UUID, stats models.IngestStats) error
	PublishSyncFailed(ctx context.Context, userID uuid.UUID, reason string) error
}

// Worker consumes sync_requested events and runs the backfill for each,
// publishing sync_completed or sync_failed with the outcome. On-demand syncs
// (connect flow, manual trigger) go through here instead of waiting for the
// next scheduler tick.
type Worker struct {
	consumer  Consumer
	publisher Publisher
	syncer    *Syncer
	log       zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(consumer Consumer, publisher Publisher, syncer *Syncer, log zerolog.Logger) *Worker {
	return &Worker{
		consumer:  consumer,
		publisher: publisher,
		syncer:    syncer,
		log:       log.With().Str("component", "sync_worker").Logger(),
	}
}

func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		w.log.Info().Msg("sync worker started")
		if err := w.consumer.ConsumeEvents(ctx, w.handle); err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("sync worker consumer stopped")
		}
	}()
}

func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// handle processes one event. Sync failures are reported on the bus, not
// returned: returning an error would stop the consumer loop.
func (w *Worker) handle(ev events.Event) error {
	if ev.Type != events.EventTypeSyncRequested {
		return nil
	}

	userID, err := uuid.Parse(ev.UserID)
	if err != nil {
		w.log.Warn().Str("user_id", ev.UserID).Msg("dropping sync request with malformed user id")
		return nil
	}

	ctx := context.Background()

	stats, err := w.syncer.Sync(ctx, userID)
	if err != nil {
		w.log.Warn().Err(err).Str("user_id", ev.UserID).Msg("requested sync failed")
		if pubErr := w.publisher.PublishSyncFailed(ctx, userID, err.Error()); pubErr != nil {
			w.log.Warn().Err(pubErr).Msg("failed to publish sync_failed")
		}
		return nil
	}

	w.log.Info().
		Str("user_id", ev.UserID).
		Int("scrobbled", stats.Scrobbled).
		Int("skipped", stats.Skipped).
		Msg("requested sync finished")

	if err := w.publisher.PublishSyncCompleted(ctx, userID, stats); err != nil {
		w.log.Warn().Err(err).Msg("failed to publish sync_completed")
	}
	return nil
}

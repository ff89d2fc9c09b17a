package poller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/music-match-system/pkg/models"
)

const (
	// DefaultInterval is how often connected accounts are polled.
	DefaultInterval = 300 * time.Second

	pollSource = "spotify"
)

// Accounts enumerates the users whose streaming source is connected.
type Accounts interface {
	ListConnectedAccounts(ctx context.Context, source string) ([]models.ConnectedAccount, error)
}

// Notifier announces new scrobbles on the event bus. Nil disables it.
type Notifier interface {
	PublishPlaysScrobbled(ctx context.Context, userID uuid.UUID, scrobbled int) error
}

// Scheduler polls every connected account on a fixed interval. Accounts are
// synced independently: one account's failure is logged and the tick moves
// on, and failed accounts are simply retried next tick.
type Scheduler struct {
	accounts Accounts
	syncer   *Syncer
	notifier Notifier
	interval time.Duration
	log      zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(accounts Accounts, syncer *Syncer, notifier Notifier, interval time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		accounts: accounts,
		syncer:   syncer,
		notifier: notifier,
		interval: interval,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Start launches the polling loop. The first tick runs immediately.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.log.Info().Dur("interval", s.interval).Msg("polling scheduler started")
		s.tick(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.log.Info().Msg("polling scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the wait promptly and blocks until the in-flight tick has
// finished its current account.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	accounts, err := s.accounts.ListConnectedAccounts(ctx, pollSource)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list connected accounts")
		return
	}
	if len(accounts) == 0 {
		return
	}

	s.log.Debug().Int("accounts", len(accounts)).Msg("tick")

	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}

		stats, err := s.syncer.Sync(ctx, account.UserID)
		if err != nil {
			s.log.Warn().Err(err).
				Str("user_id", account.UserID.String()).
				Str("handle", account.Handle).
				Msg("account sync failed, will retry next tick")
			continue
		}

		if stats.Scrobbled > 0 {
			s.log.Info().
				Str("user_id", account.UserID.String()).
				Int("scrobbled", stats.Scrobbled).
				Msg("account synced")

			if s.notifier != nil {
				if err := s.notifier.PublishPlaysScrobbled(ctx, account.UserID, stats.Scrobbled); err != nil {
					s.log.Warn().Err(err).
						Str("user_id", account.UserID.String()).
						Msg("failed to publish scrobble notification")
				}
			}
		}
	}
}

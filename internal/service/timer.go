package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisrepo "github.com/freeeve/world-conflict/internal/repository/redis"
)

// defaultPollInterval is how often the fallback poller looks for overdue turns.
const defaultPollInterval = 10 * time.Second

// TimerListener listens for Redis keyspace notifications on expired timer keys
// and ends the stalled turn when a game's timer expires. Also runs a polling
// fallback to catch expirations if keyspace notifications are unavailable,
// which is the only mechanism when rdb is nil.
type TimerListener struct {
	rdb          *redis.Client
	cmdSvc       *CommandService
	pollInterval time.Duration
}

// NewTimerListener creates a TimerListener. rdb may be nil.
func NewTimerListener(rdb *redis.Client, cmdSvc *CommandService) *TimerListener {
	return &TimerListener{rdb: rdb, cmdSvc: cmdSvc, pollInterval: defaultPollInterval}
}

// SetPollInterval changes the fallback poll period. Non-positive values are
// ignored.
func (t *TimerListener) SetPollInterval(d time.Duration) {
	if d > 0 {
		t.pollInterval = d
	}
}

// expiredChannel is the keyevent channel of the database rdb talks to.
func expiredChannel(db int) string {
	return fmt.Sprintf("__keyevent@%d__:expired", db)
}

// Start begins listening for expired key events and runs a polling fallback.
// It blocks until ctx is done.
func (t *TimerListener) Start(ctx context.Context) {
	if t.rdb != nil {
		go t.listenKeyspace(ctx)
	}
	t.pollExpiredTurns(ctx)
}

// listenKeyspace subscribes to Redis keyspace notifications for expired keys.
func (t *TimerListener) listenKeyspace(ctx context.Context) {
	channel := expiredChannel(t.rdb.Options().DB)
	pubsub := t.rdb.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Info().Str("channel", channel).Msg("Timer listener started, listening for expired keys")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			t.handleExpiry(ctx, msg.Payload)
		}
	}
}

// pollExpiredTurns periodically checks for turns past their deadline and ends them.
func (t *TimerListener) pollExpiredTurns(ctx context.Context) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", t.pollInterval).Msg("Turn deadline poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Turn deadline poller stopped")
			return
		case <-ticker.C:
			t.checkExpiredTurns(ctx)
		}
	}
}

// checkExpiredTurns ends every overdue turn among active games.
func (t *TimerListener) checkExpiredTurns(ctx context.Context) {
	n, err := t.cmdSvc.EndExpiredTurns(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list active games")
		return
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("Poller ended expired turns")
	}
}

// handleExpiry processes an expired key. Only acts on game timer keys.
func (t *TimerListener) handleExpiry(ctx context.Context, key string) {
	gameID, ok := redisrepo.GameIDFromTimerKey(key)
	if !ok {
		return
	}

	log.Info().Str("gameId", gameID).Msg("Timer expired, ending turn")
	if _, err := t.cmdSvc.ForceEndTurn(ctx, gameID); err != nil {
		log.Error().Err(err).Str("gameId", gameID).Msg("Forced end turn failed after timer expiry")
	}
}

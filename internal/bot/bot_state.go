package bot

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/raine/vehicle-listing-bot/internal/pipeline"
)

type BotState struct {
	bot      *Bot
	mu       sync.Mutex
	sessions map[int64]*UserSession
	closed   bool
}

func (bs *BotState) newUserSession(userId int64) *UserSession {
	ctx, cancel := context.WithCancel(context.Background())
	session := &UserSession{
		userId: userId,
		sender: bs.bot.tg,
		inbox:  make(chan SessionMessage, 32), // Buffered to avoid blocking
		ctx:    ctx,
		cancel: cancel,
	}

	location := bs.bot.cfg.DefaultLocation
	if bs.bot.settings != nil {
		stored, err := bs.bot.settings.GetLocation(userId)
		if err != nil {
			log.Warn().Err(err).Int64("userId", userId).Msg("failed to get stored location")
		} else if stored != "" {
			location = stored
		}
	}

	session.pipeline = pipeline.New(bs.bot.cfg.Deps, pipeline.Options{
		UserID:           userId,
		Location:         location,
		Limits:           bs.bot.cfg.Limits,
		AnalysisTimeout:  bs.bot.cfg.AnalysisTimeout,
		DictationTimeout: bs.bot.cfg.DictationTimeout,
	}, session.dispatch)

	log.Info().Int64("userId", userId).Str("location", location).Msg("new user session created")
	return session
}

func (bs *BotState) getUserSession(userId int64) (*UserSession, bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.closed {
		return nil, false
	}
	session, ok := bs.sessions[userId]
	if !ok {
		session = bs.newUserSession(userId)
		// Set the bot as the message handler and start the worker
		session.SetHandler(bs.bot)
		session.StartWorker()
		bs.sessions[userId] = session
	}
	return session, true
}

func (b *Bot) NewBotState() BotState {
	return BotState{
		bot:      b,
		sessions: make(map[int64]*UserSession),
	}
}

// Shutdown closes every session: the listing is torn down on its worker,
// background tasks are awaited, then the worker stops.
func (bs *BotState) Shutdown() {
	bs.mu.Lock()
	bs.closed = true
	sessions := make([]*UserSession, 0, len(bs.sessions))
	for _, session := range bs.sessions {
		sessions = append(sessions, session)
	}
	bs.mu.Unlock()

	// Close outside the lock to avoid blocking new updates on the mutex
	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session.Close()
		}()
	}
	wg.Wait()
	log.Info().Int("count", len(sessions)).Msg("stopped all session workers")
}

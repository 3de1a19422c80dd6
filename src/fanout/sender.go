package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// telegramSender delivers messages through the Bot API, one bot instance per
// token, with a global pace limit so a burst of groups does not trip
// Telegram's throttling.
type telegramSender struct {
	mu      sync.Mutex
	bots    map[string]*tgbotapi.BotAPI
	limiter *rate.Limiter
}

func newTelegramSender(minGap time.Duration) *telegramSender {
	if minGap <= 0 {
		minGap = 500 * time.Millisecond
	}
	return &telegramSender{
		bots:    make(map[string]*tgbotapi.BotAPI),
		limiter: rate.NewLimiter(rate.Every(minGap), 1),
	}
}

func (s *telegramSender) bot(token string) (*tgbotapi.BotAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bot, ok := s.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	s.bots[token] = bot
	return bot, nil
}

func (s *telegramSender) Send(ctx context.Context, token string, chatID int64, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	bot, err := s.bot(token)
	if err != nil {
		return err
	}
	_, err = bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

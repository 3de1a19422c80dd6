package fanout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	logger "github.com/sirupsen/logrus"

	"utrader/src/assets"
	"utrader/src/repository"
)

// StartListeners launches one update poller per asset bot and handles the
// subscribe flow: /start <token> consumes a deep-link token issued by the
// dashboard, /stop unsubscribes the chat. Assets without a configured token
// are skipped. onChange, if set, is called with the asset tag after every
// subscription change so the delivery cache can refresh early.
func StartListeners(ctx context.Context, telegrams Subscribers, onChange func(cryptoTag string)) {
	for _, info := range assets.All() {
		token := info.BotToken()
		if token == "" {
			continue
		}

		bot, err := tgbotapi.NewBotAPI(token)
		if err != nil {
			logger.WithError(err).WithField("asset", info.Tag).Error("[fanout] bot init failed, listener disabled")
			continue
		}

		go listen(ctx, bot, info, telegrams, onChange)
	}
}

func listen(ctx context.Context, bot *tgbotapi.BotAPI, info assets.Info, telegrams Subscribers, onChange func(string)) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	logger.WithField("asset", info.Tag).Info("[fanout] bot listener started")
	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			handleCommand(ctx, bot, info, telegrams, onChange, update.Message)
		}
	}
}

func handleCommand(ctx context.Context, bot *tgbotapi.BotAPI, info assets.Info, telegrams Subscribers, onChange func(string), msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	log := logger.WithFields(map[string]interface{}{
		"asset":  info.Tag,
		"chatID": chatID,
	})

	switch msg.Command() {
	case "start":
		token := strings.TrimSpace(msg.CommandArguments())
		if token == "" {
			reply(bot, chatID, fmt.Sprintf("Hi! Use the subscribe link from your dashboard to receive %s alerts.", info.PrettyName))
			return
		}
		conn, err := telegrams.ConsumeToken(ctx, token, chatID)
		if errors.Is(err, repository.ErrTokenInvalid) {
			reply(bot, chatID, "That link has expired. Generate a new one from your dashboard.")
			return
		}
		if err != nil {
			log.WithError(err).Error("[fanout] token consumption failed")
			reply(bot, chatID, "Something went wrong, please try again.")
			return
		}
		reply(bot, chatID, fmt.Sprintf("Subscribed! You will now receive %s alerts here.", info.PrettyName))
		if onChange != nil {
			onChange(conn.CryptoTag)
		}

	case "stop":
		if err := telegrams.Unsubscribe(ctx, chatID, string(info.Tag)); err != nil {
			log.WithError(err).Error("[fanout] unsubscribe failed")
			reply(bot, chatID, "Something went wrong, please try again.")
			return
		}
		reply(bot, chatID, fmt.Sprintf("Unsubscribed from %s alerts. Use a dashboard link to resubscribe.", info.PrettyName))
		if onChange != nil {
			onChange(string(info.Tag))
		}
	}
}

func reply(bot *tgbotapi.BotAPI, chatID int64, text string) {
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		logger.WithError(err).WithField("chatID", chatID).Warn("[fanout] reply failed")
	}
}

package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramGateway serves the chat commands over a Telegram bot. Each chat is
// one session.
type TelegramGateway struct {
	Bot      *tgbotapi.BotAPI
	Commands *Commands
	log      *zap.Logger
	stop     sync.Once
}

var _ Messenger = (*TelegramGateway)(nil)

func NewTelegramGateway(token string, commands *Commands, log *zap.Logger) (*TelegramGateway, error) {
	if log == nil {
		log = zap.NewNop()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	log.Info("telegram authorized", zap.String("account", bot.Self.UserName))

	return &TelegramGateway{
		Bot:      bot,
		Commands: commands,
		log:      log,
	}, nil
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			_ = tg.Stop()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			tg.handle(ctx, update.Message)
		}
	}
}

func (tg *TelegramGateway) handle(ctx context.Context, m *tgbotapi.Message) {
	sessionID := strconv.FormatInt(m.Chat.ID, 10)
	userID := ""
	if m.From != nil {
		userID = strconv.FormatInt(m.From.ID, 10)
	}
	tg.log.Debug("message received", zap.String("session", sessionID), zap.String("user", userID))

	reply := tg.Commands.Handle(ctx, sessionID, userID, m.Text)
	if _, err := tg.Bot.Send(tgbotapi.NewMessage(m.Chat.ID, reply)); err != nil {
		tg.log.Warn("failed to send reply", zap.String("session", sessionID), zap.Error(err))
	}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	_, err = tg.Bot.Send(tgbotapi.NewMessage(id, text))
	return err
}

// Stop ends the update loop. It is safe to call more than once.
func (tg *TelegramGateway) Stop() error {
	tg.stop.Do(tg.Bot.StopReceivingUpdates)
	return nil
}

package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

const (
	// Telegram allows about 30 messages per second per bot.
	sendRatePerSecond = 25
	sendBurst         = 5
	sendMaxWait       = 10 * time.Second
)

// BotWrapper adapts *tgbotapi.BotAPI to domain.TelegramSender. Outbound calls
// are paced so replies, operator documents and queued notifications share the
// bot's send budget.
type BotWrapper struct {
	*tgbotapi.BotAPI
	limiter *rate.Limiter
	maxWait time.Duration
}

func NewBotWrapper(bot *tgbotapi.BotAPI) *BotWrapper {
	return newBotWrapper(bot, rate.NewLimiter(sendRatePerSecond, sendBurst), sendMaxWait)
}

func newBotWrapper(bot *tgbotapi.BotAPI, limiter *rate.Limiter, maxWait time.Duration) *BotWrapper {
	return &BotWrapper{BotAPI: bot, limiter: limiter, maxWait: maxWait}
}

func (w *BotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := w.wait(); err != nil {
		return tgbotapi.Message{}, err
	}
	return w.BotAPI.Send(c)
}

func (w *BotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := w.wait(); err != nil {
		return nil, err
	}
	return w.BotAPI.Request(c)
}

func (w *BotWrapper) GetSelf() tgbotapi.User {
	return w.Self
}

func (w *BotWrapper) StopReceivingUpdates() {
	w.BotAPI.StopReceivingUpdates()
}

func (w *BotWrapper) wait() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.maxWait)
	defer cancel()
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram send throttled: %w", err)
	}
	return nil
}

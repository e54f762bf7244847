package bot

import (
	"context"
	"strconv"
	"strings"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/logging"
	"prenotazioni/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const updateTimeout = 30 * time.Second

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error)
}

type Config struct {
	RateLimitMessages int
	RateLimitWindow   time.Duration
	OperatorIDs       []int64
	UpcomingDays      int
	Location          *time.Location
}

type Bot struct {
	tg        domain.TelegramSender
	router    domain.MessageRouter
	limiter   RateLimiter
	operators Operators
	config    Config
	metrics   *Metrics
	logger    *zerolog.Logger
}

func NewBot(
	tg domain.TelegramSender,
	router domain.MessageRouter,
	limiter RateLimiter,
	operators Operators,
	config Config,
	metrics *Metrics,
	logger *zerolog.Logger,
) *Bot {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	if config.UpcomingDays <= 0 {
		config.UpcomingDays = 7
	}

	return &Bot{
		tg:        tg,
		router:    router,
		limiter:   limiter,
		operators: operators,
		config:    config,
		metrics:   metrics,
		logger:    logger,
	}
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tg.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tg.GetSelf().UserName).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

// Stop stops receiving Telegram updates (best-effort).
func (b *Bot) Stop() {
	if b == nil || b.tg == nil {
		return
	}
	b.tg.StopReceivingUpdates()
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	defer func() {
		if b.metrics != nil {
			b.metrics.UpdateProcessingTime.Observe(time.Since(start).Seconds())
		}
	}()

	updateCtx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	updateCtx, _, _ = logging.WithRequestID(updateCtx, b.logger, "")

	b.withRecovery(updateCtx, update, func() {
		msg := update.Message
		if msg == nil || msg.From == nil || strings.TrimSpace(msg.Text) == "" {
			return
		}
		userID := msg.From.ID

		if b.isOperator(userID) {
			if b.handleOperatorCommand(updateCtx, msg) {
				return
			}
		} else if !b.allow(updateCtx, userID, msg.Chat.ID) {
			return
		}

		b.handleMessage(updateCtx, msg)
	})
}

func (b *Bot) allow(ctx context.Context, userID, chatID int64) bool {
	if b.limiter == nil || b.config.RateLimitMessages <= 0 {
		return true
	}
	allowed, err := b.limiter.CheckRateLimit(ctx, strconv.FormatInt(userID, 10),
		b.config.RateLimitMessages, b.config.RateLimitWindow)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("user_id", userID).Msg("Rate limit check failed")
		return true
	}
	if !allowed {
		zerolog.Ctx(ctx).Warn().Int64("user_id", userID).Msg("Rate limit exceeded")
		b.sendMessage(ctx, chatID, "⚠️ Stai inviando messaggi troppo velocemente. Attendi qualche istante.")
		return false
	}
	return true
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	l := zerolog.Ctx(ctx)
	l.Debug().
		Int64("user_id", msg.From.ID).
		Str("username", msg.From.UserName).
		Str("text", msg.Text).
		Msg("Handling message")

	if b.metrics != nil {
		b.metrics.MessagesProcessed.Inc()
	}

	reply, err := b.router.Route(ctx, models.InboundMessage{
		UserID:      strconv.FormatInt(msg.From.ID, 10),
		DisplayName: displayName(msg.From),
		Channel:     "telegram",
		Text:        msg.Text,
	})
	if err != nil {
		if b.metrics != nil {
			b.metrics.ErrorsTotal.Inc()
		}
		l.Error().Err(err).Int64("user_id", msg.From.ID).Msg("Failed to route message")
		b.sendMessage(ctx, msg.Chat.ID, b.getErrorMessage(err))
		return
	}
	if b.metrics != nil {
		b.metrics.RoutesTotal.WithLabelValues(string(reply.Route)).Inc()
	}

	b.sendMessage(ctx, msg.Chat.ID, reply.Text)
}

func (b *Bot) isOperator(userID int64) bool {
	for _, id := range b.config.OperatorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string) {
	if text == "" {
		return
	}
	if _, err := b.tg.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		name = u.UserName
	}
	return name
}

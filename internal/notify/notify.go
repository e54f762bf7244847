package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

var ErrUnsupportedKind = errors.New("unsupported notification kind")

// TelegramNotifier sends messages to chat ids through the bot.
type TelegramNotifier struct {
	bot domain.TelegramSender
}

func NewTelegramNotifier(bot domain.TelegramSender) *TelegramNotifier {
	return &TelegramNotifier{bot: bot}
}

func (n *TelegramNotifier) Dispatch(ctx context.Context, msg models.Notification) (models.DeliveryOutcome, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.Recipient), 10, 64)
	if err != nil {
		return models.DeliveryFailed, domain.NewValidationError("recipient", "not a telegram chat id")
	}
	if err := ctx.Err(); err != nil {
		return models.DeliveryFailed, err
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, msg.Message)); err != nil {
		return models.DeliveryFailed, fmt.Errorf("failed to send telegram message: %w", err)
	}
	return models.DeliverySent, nil
}

// SimulatedNotifier logs the message instead of delivering it. It stands in
// for SMS and email gateways.
type SimulatedNotifier struct {
	logger *zerolog.Logger
}

func NewSimulatedNotifier(logger *zerolog.Logger) *SimulatedNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SimulatedNotifier{logger: logger}
}

func (n *SimulatedNotifier) Dispatch(ctx context.Context, msg models.Notification) (models.DeliveryOutcome, error) {
	if strings.TrimSpace(msg.Recipient) == "" {
		return models.DeliveryFailed, domain.NewValidationError("recipient", "must not be empty")
	}
	n.logger.Info().
		Str("kind", string(msg.Kind)).
		Str("recipient", msg.Recipient).
		Str("message", msg.Message).
		Msg("Simulated notification")
	return models.DeliverySimulated, nil
}

// Dispatcher picks the channel by notification kind.
type Dispatcher struct {
	channels map[models.NotificationKind]domain.Notifier
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{channels: make(map[models.NotificationKind]domain.Notifier)}
}

// Handle registers n for kind, replacing any previous channel.
func (d *Dispatcher) Handle(kind models.NotificationKind, n domain.Notifier) *Dispatcher {
	d.channels[kind] = n
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg models.Notification) (models.DeliveryOutcome, error) {
	n, ok := d.channels[msg.Kind]
	if !ok {
		return models.DeliveryFailed, fmt.Errorf("%w: %s", ErrUnsupportedKind, msg.Kind)
	}
	return n.Dispatch(ctx, msg)
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/models"
	"prenotazioni/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type BookingOperations interface {
	Checkout(ctx context.Context, bookingID string, at time.Time) (*service.CheckoutResult, error)
	Cancel(ctx context.Context, bookingID string) (*models.Booking, error)
	MarkPaid(ctx context.Context, bookingID string) (*models.Booking, error)
}

type InvoiceOperations interface {
	CreateInvoiceForBooking(ctx context.Context, bookingID string) (*models.Invoice, error)
	RenderInvoice(ctx context.Context, invoiceID string) (*service.Document, error)
}

type CleaningOperations interface {
	UpcomingCleaningTasks(ctx context.Context, withinDays int) ([]*models.CleaningTask, error)
}

type PropertyLookup interface {
	GetProperty(ctx context.Context, id string) (*models.Property, error)
}

// Operators groups the back-office services reachable from operator chats.
// A nil member disables its commands.
type Operators struct {
	Bookings   BookingOperations
	Invoices   InvoiceOperations
	Cleaning   CleaningOperations
	Properties PropertyLookup
}

const operatorHelp = `🛠 Comandi operatore:
/checkout <id> - registra il check-out e programma la pulizia
/cancella <id> - annulla una prenotazione
/pagato <id> - segna la prenotazione come pagata
/fattura <id> - emette e invia la fattura
/pulizie - pulizie dei prossimi giorni`

const displayDateTime = "02/01/2006 15:04"

// handleOperatorCommand reports whether msg was an operator command.
func (b *Bot) handleOperatorCommand(ctx context.Context, msg *tgbotapi.Message) bool {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return false
	}
	command := strings.ToLower(fields[0])
	if i := strings.Index(command, "@"); i > 0 {
		command = command[:i]
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	var reply string
	var err error
	switch command {
	case "/operatore":
		reply = operatorHelp
	case "/checkout":
		reply, err = b.operatorCheckout(ctx, arg)
	case "/cancella":
		reply, err = b.operatorCancel(ctx, arg)
	case "/pagato":
		reply, err = b.operatorMarkPaid(ctx, arg)
	case "/fattura":
		reply, err = b.operatorInvoice(ctx, msg.Chat.ID, arg)
	case "/pulizie":
		reply, err = b.operatorCleaning(ctx)
	default:
		return false
	}

	if b.metrics != nil {
		b.metrics.OperatorCommands.WithLabelValues(strings.TrimPrefix(command, "/")).Inc()
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("command", command).Msg("Operator command failed")
		reply = b.getErrorMessage(err)
	}
	b.sendMessage(ctx, msg.Chat.ID, reply)
	return true
}

var errOperationDisabled = errors.New("operation not configured")

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.NewValidationError("id", "indica l'identificativo della prenotazione")
	}
	return nil
}

func (b *Bot) operatorCheckout(ctx context.Context, id string) (string, error) {
	if b.operators.Bookings == nil {
		return "", errOperationDisabled
	}
	if err := requireID(id); err != nil {
		return "", err
	}

	result, err := b.operators.Bookings.Checkout(ctx, id, time.Time{})
	if errors.Is(err, domain.ErrNoServiceAvailable) && result != nil {
		return fmt.Sprintf("✅ Check-out registrato per %s.\n⚠️ Nessuna impresa di pulizie disponibile.",
			result.Booking.ShortID()), nil
	}
	if err != nil {
		return "", err
	}

	text := fmt.Sprintf("✅ Check-out registrato per %s.", result.Booking.ShortID())
	if result.Task != nil {
		text += fmt.Sprintf("\n🧹 Pulizia programmata: %s", b.localTime(result.Task.ScheduledAt))
	}
	return text, nil
}

func (b *Bot) operatorCancel(ctx context.Context, id string) (string, error) {
	if b.operators.Bookings == nil {
		return "", errOperationDisabled
	}
	if err := requireID(id); err != nil {
		return "", err
	}
	booking, err := b.operators.Bookings.Cancel(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Prenotazione %s annullata.", booking.ShortID()), nil
}

func (b *Bot) operatorMarkPaid(ctx context.Context, id string) (string, error) {
	if b.operators.Bookings == nil {
		return "", errOperationDisabled
	}
	if err := requireID(id); err != nil {
		return "", err
	}
	booking, err := b.operators.Bookings.MarkPaid(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Prenotazione %s segnata come pagata.", booking.ShortID()), nil
}

func (b *Bot) operatorInvoice(ctx context.Context, chatID int64, id string) (string, error) {
	if b.operators.Invoices == nil {
		return "", errOperationDisabled
	}
	if err := requireID(id); err != nil {
		return "", err
	}
	inv, err := b.operators.Invoices.CreateInvoiceForBooking(ctx, id)
	if err != nil {
		return "", err
	}

	doc, err := b.operators.Invoices.RenderInvoice(ctx, inv.ID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("invoice_id", inv.ID).Msg("Failed to render invoice")
		return fmt.Sprintf("📝 Fattura %s emessa, ma il documento non è disponibile.", inv.Number), nil
	}

	upload := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: doc.Filename, Bytes: doc.Data})
	upload.Caption = fmt.Sprintf("📝 Fattura %s - €%.2f", inv.Number, inv.GrossAmount)
	if _, err := b.tg.Send(upload); err != nil {
		return "", fmt.Errorf("failed to send invoice document: %w", err)
	}
	return "", nil
}

func (b *Bot) operatorCleaning(ctx context.Context) (string, error) {
	if b.operators.Cleaning == nil {
		return "", errOperationDisabled
	}
	tasks, err := b.operators.Cleaning.UpcomingCleaningTasks(ctx, b.config.UpcomingDays)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return fmt.Sprintf("🧹 Nessuna pulizia nei prossimi %d giorni.", b.config.UpcomingDays), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🧹 Pulizie nei prossimi %d giorni:\n", b.config.UpcomingDays)
	for _, t := range tasks {
		fmt.Fprintf(&sb, "• %s - %s", b.localTime(t.ScheduledAt), b.propertyName(ctx, t.PropertyID))
		if t.BookingID != nil {
			fmt.Fprintf(&sb, " (prenotazione %s)", models.ShortID(*t.BookingID))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (b *Bot) localTime(t time.Time) string {
	if b.config.Location != nil {
		t = t.In(b.config.Location)
	}
	return t.Format(displayDateTime)
}

func (b *Bot) propertyName(ctx context.Context, id string) string {
	if b.operators.Properties == nil {
		return id
	}
	p, err := b.operators.Properties.GetProperty(ctx, id)
	if err != nil {
		return id
	}
	return p.Name
}

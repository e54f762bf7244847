package domain

import (
	"context"
	"time"

	"prenotazioni/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type PropertyRepository interface {
	GetProperty(ctx context.Context, id string) (*models.Property, error)
	GetPropertyByName(ctx context.Context, name string) (*models.Property, error)
	ListProperties(ctx context.Context) ([]*models.Property, error)
	ListActiveProperties(ctx context.Context) ([]*models.Property, error)
	UpsertProperty(ctx context.Context, p *models.Property) error
}

type BookingRepository interface {
	CreateBooking(ctx context.Context, draft models.BookingDraft) (*models.Booking, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookingsByProperty(ctx context.Context, propertyID string) ([]*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id string, next models.BookingStatus) (*models.Booking, error)
	MarkBookingCheckedOut(ctx context.Context, id string, at time.Time) (*models.Booking, error)
	UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) (*models.Booking, error)
}

type InvoiceRepository interface {
	// InsertInvoiceOnce stores inv with the next number of its scope unless the
	// booking already has an invoice, in which case that one is returned.
	InsertInvoiceOnce(ctx context.Context, inv *models.Invoice) (*models.Invoice, bool, error)
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	GetInvoiceByBooking(ctx context.Context, bookingID string) (*models.Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id string, status models.InvoiceStatus, paidAt *time.Time) (*models.Invoice, error)
}

type CleaningRepository interface {
	GetCleaningService(ctx context.Context, id string) (*models.CleaningService, error)
	GetDefaultCleaningService(ctx context.Context) (*models.CleaningService, error)
	ListCleaningServices(ctx context.Context) ([]*models.CleaningService, error)
	UpsertCleaningService(ctx context.Context, s *models.CleaningService) error
	SetDefaultCleaningService(ctx context.Context, id string) error
	DeleteCleaningService(ctx context.Context, id string) error

	CreateCleaningTask(ctx context.Context, task *models.CleaningTask) error
	GetCleaningTask(ctx context.Context, id string) (*models.CleaningTask, error)
	ListScheduledCleaningTasks(ctx context.Context, from, to time.Time) ([]*models.CleaningTask, error)
	UpdateCleaningTaskStatus(ctx context.Context, id string, status models.CleaningTaskStatus) (*models.CleaningTask, error)
	CancelCleaningTasksForBooking(ctx context.Context, bookingID string) (int, error)
}

// Store is the full entity store.
type Store interface {
	PropertyRepository
	BookingRepository
	InvoiceRepository
	CleaningRepository
}

type NotificationQueueRepository interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]*models.NotificationTask, error)
	MarkNotificationProcessing(ctx context.Context, id int64) error
	MarkNotificationCompleted(ctx context.Context, id int64, outcome models.DeliveryOutcome) error
	MarkNotificationFailed(ctx context.Context, id int64, errMsg string, nextRetryAt *time.Time) error
	RequeueProcessingNotifications(ctx context.Context) (int, error)
}

type SessionRepository interface {
	GetSession(ctx context.Context, userID string) (*models.Session, error)
	SaveSession(ctx context.Context, session *models.Session) error
	ClearSession(ctx context.Context, userID string) error
	CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notifier delivers a rendered message over one channel.
type Notifier interface {
	Dispatch(ctx context.Context, n models.Notification) (models.DeliveryOutcome, error)
}

// NotificationQueue accepts notifications for asynchronous delivery.
type NotificationQueue interface {
	Enqueue(ctx context.Context, n models.Notification) error
}

type DocumentRenderer interface {
	RenderInvoice(ctx context.Context, inv *models.Invoice, booking *models.Booking, property *models.Property) ([]byte, error)
	ContentType() string
	Extension() string
}

// Assistant answers free text that is neither a command nor a dialogue step.
type Assistant interface {
	Answer(ctx context.Context, userID, text string) (string, error)
}

type BookingCommitter interface {
	ConfirmBooking(ctx context.Context, draft models.BookingDraft) (*models.Booking, error)
}

type ConversationEngine interface {
	Catalog(ctx context.Context) (models.Reply, error)
	Start(ctx context.Context, userID, displayName, propertyName string) (models.Reply, error)
	Advance(ctx context.Context, userID, text string) (models.Reply, error)
	Reset(ctx context.Context, userID string) (models.Reply, error)
	Active(ctx context.Context, userID string) (bool, error)
}

type MessageRouter interface {
	Route(ctx context.Context, msg models.InboundMessage) (models.Reply, error)
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}

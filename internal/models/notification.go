package models

import "time"

type NotificationKind string

const (
	NotificationTelegram NotificationKind = "telegram"
	NotificationSMS      NotificationKind = "sms"
	NotificationEmail    NotificationKind = "email"
)

type DeliveryOutcome string

const (
	DeliverySent      DeliveryOutcome = "sent"
	DeliverySimulated DeliveryOutcome = "simulated"
	DeliveryFailed    DeliveryOutcome = "failed"
)

type Notification struct {
	Recipient string           `json:"recipient"`
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"kind"`
}

// NotificationTask is a queued delivery persisted for retries.
type NotificationTask struct {
	ID          int64            `json:"id"`
	Kind        NotificationKind `json:"kind"`
	Recipient   string           `json:"recipient"`
	Message     string           `json:"message"`
	Status      string           `json:"status"`
	Outcome     DeliveryOutcome  `json:"outcome,omitempty"`
	RetryCount  int              `json:"retry_count"`
	LastError   *string          `json:"last_error"`
	CreatedAt   time.Time        `json:"created_at"`
	ProcessedAt *time.Time       `json:"processed_at"`
	NextRetryAt *time.Time       `json:"next_retry_at"`
}

func (t *NotificationTask) Notification() Notification {
	return Notification{Recipient: t.Recipient, Message: t.Message, Kind: t.Kind}
}

const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

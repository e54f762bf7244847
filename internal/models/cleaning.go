package models

import "time"

type CleaningService struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Email      string    `json:"email"`
	SMSEnabled bool      `json:"smsEnabled"`
	IsDefault  bool      `json:"isDefault"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Contact picks the channel a service is reached on: SMS when enabled, email otherwise.
func (s *CleaningService) Contact() (string, NotificationKind, bool) {
	if s.SMSEnabled && s.Phone != "" {
		return s.Phone, NotificationSMS, true
	}
	if s.Email != "" {
		return s.Email, NotificationEmail, true
	}
	if s.Phone != "" {
		return s.Phone, NotificationSMS, true
	}
	return "", "", false
}

type CleaningTaskStatus string

const (
	CleaningScheduled CleaningTaskStatus = "scheduled"
	CleaningCompleted CleaningTaskStatus = "completed"
	CleaningCancelled CleaningTaskStatus = "cancelled"
)

func (s CleaningTaskStatus) Valid() bool {
	switch s {
	case CleaningScheduled, CleaningCompleted, CleaningCancelled:
		return true
	}
	return false
}

type CleaningTask struct {
	ID          string             `json:"id"`
	PropertyID  string             `json:"propertyId"`
	ServiceID   *string            `json:"serviceId,omitempty"`
	ScheduledAt time.Time          `json:"scheduledAt"`
	Status      CleaningTaskStatus `json:"status"`
	BookingID   *string            `json:"bookingId,omitempty"`
	Notes       string             `json:"notes"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

package models

import (
	"strings"
	"time"
)

type BookingStatus string

const (
	BookingPendingConfirmation BookingStatus = "pending_confirmation"
	BookingConfirmed           BookingStatus = "confirmed"
	BookingCancelled           BookingStatus = "cancelled"
	BookingCompleted           BookingStatus = "completed"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPendingConfirmation: {BookingConfirmed, BookingCancelled},
	BookingConfirmed:           {BookingCancelled, BookingCompleted},
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPendingConfirmation, BookingConfirmed, BookingCancelled, BookingCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

func (s PaymentStatus) Valid() bool {
	return s == PaymentUnpaid || s == PaymentPaid
}

type Booking struct {
	ID              string        `json:"id"`
	PropertyID      string        `json:"propertyId"`
	PropertyName    string        `json:"propertyName"`
	GuestName       string        `json:"guestName"`
	UserID          string        `json:"userId"`
	CheckInDate     time.Time     `json:"checkInDate"`
	CheckOutDate    time.Time     `json:"checkOutDate"`
	Guests          int           `json:"guests"`
	CheckInTime     string        `json:"checkInTime"`
	SpecialRequests string        `json:"specialRequests"`
	Status          BookingStatus `json:"status"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
	TotalPrice      float64       `json:"totalPrice"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	CheckedOutAt    *time.Time    `json:"checkedOutAt,omitempty"`
}

func (b *Booking) Nights() int {
	return NightsBetween(b.CheckInDate, b.CheckOutDate)
}

// ShortID is the truncated identifier shown to guests.
func (b *Booking) ShortID() string {
	return ShortID(b.ID)
}

func ShortID(id string) string {
	if len(id) > ShortIDLength {
		id = id[:ShortIDLength]
	}
	return strings.ToUpper(id)
}

// CalendarDate drops the clock and zone of t, keeping its civil date at UTC midnight.
func CalendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func NightsBetween(checkIn, checkOut time.Time) int {
	return int(CalendarDate(checkOut).Sub(CalendarDate(checkIn)).Hours() / 24)
}

// BookingDraft holds the slots collected by a dialogue; nil means not yet provided.
type BookingDraft struct {
	PropertyID      string     `json:"propertyId"`
	PropertyName    string     `json:"propertyName"`
	GuestName       string     `json:"guestName,omitempty"`
	UserID          string     `json:"userId"`
	CheckInDate     *time.Time `json:"checkInDate,omitempty"`
	CheckOutDate    *time.Time `json:"checkOutDate,omitempty"`
	Guests          *int       `json:"guests,omitempty"`
	CheckInTime     *string    `json:"checkInTime,omitempty"`
	SpecialRequests *string    `json:"specialRequests,omitempty"`
}

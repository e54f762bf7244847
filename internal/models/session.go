package models

import "time"

// Step is the position of a booking dialogue.
type Step string

const (
	StepIdle                Step = "idle"
	StepAwaitingCheckIn     Step = "awaiting_checkin"
	StepAwaitingCheckOut    Step = "awaiting_checkout"
	StepAwaitingGuests      Step = "awaiting_guests"
	StepAwaitingArrivalTime Step = "awaiting_arrival_time"
	StepAwaitingRequests    Step = "awaiting_requests"
	StepAwaitingConfirm     Step = "awaiting_confirmation"
)

// Session is the per-user dialogue state. Each user owns exactly one.
type Session struct {
	UserID     string       `json:"user_id"`
	Active     bool         `json:"active"`
	Step       Step         `json:"step"`
	PropertyID string       `json:"property_id"`
	MaxGuests  int          `json:"max_guests"`
	Draft      BookingDraft `json:"draft"`
	StartedAt  time.Time    `json:"started_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		Step:      StepIdle,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// InboundMessage is a single message from any channel.
type InboundMessage struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Channel     string `json:"channel"`
	Text        string `json:"text"`
}

// Route names the branch the router took for a message.
type Route string

const (
	RouteReset     Route = "reset"
	RouteHelp      Route = "help"
	RouteCommand   Route = "command"
	RouteSession   Route = "session"
	RouteIntent    Route = "intent"
	RouteAssistant Route = "assistant"
)

// Reply is what goes back to the sender.
type Reply struct {
	Text      string `json:"text"`
	Route     Route  `json:"route"`
	Step      Step   `json:"step"`
	BookingID string `json:"bookingId,omitempty"`
}

package conversation

import (
	"errors"
	"fmt"
	"strings"

	"prenotazioni/internal/models"
)

type action int

const (
	actionSave action = iota
	actionCommit
	actionDiscard
)

type outcome struct {
	action action
	text   string
}

// advanceStep applies one input to an active session. It only touches the
// in-memory draft; committing is left to the caller.
func advanceStep(s *models.Session, text string, cfg Config) outcome {
	input := strings.TrimSpace(text)

	switch s.Step {
	case models.StepAwaitingCheckIn:
		date, err := ParseDate(input, cfg.DateLayout, cfg.Location)
		if err != nil {
			return outcome{text: msgBadDate}
		}
		s.Draft.CheckInDate = &date
		s.Step = models.StepAwaitingCheckOut
		return outcome{text: msgAskCheckOut}

	case models.StepAwaitingCheckOut:
		date, err := ParseDate(input, cfg.DateLayout, cfg.Location)
		if err != nil {
			return outcome{text: msgBadDate}
		}
		if s.Draft.CheckInDate == nil {
			s.Step = models.StepAwaitingCheckIn
			return outcome{text: msgAskCheckIn}
		}
		if !date.After(*s.Draft.CheckInDate) {
			return outcome{text: fmt.Sprintf(msgCheckOutOrder, s.Draft.CheckInDate.Format(displayDateLayout))}
		}
		s.Draft.CheckOutDate = &date
		s.Step = models.StepAwaitingGuests
		return outcome{text: msgAskGuests}

	case models.StepAwaitingGuests:
		guests, err := ParseGuests(input, s.MaxGuests)
		if errors.Is(err, errOverCapacity) {
			return outcome{text: fmt.Sprintf(msgOverCapacity, s.Draft.PropertyName, s.MaxGuests)}
		}
		if err != nil {
			return outcome{text: msgBadGuests}
		}
		s.Draft.Guests = &guests
		s.Step = models.StepAwaitingArrivalTime
		return outcome{text: msgAskArrival}

	case models.StepAwaitingArrivalTime:
		s.Draft.CheckInTime = &input
		s.Step = models.StepAwaitingRequests
		return outcome{text: msgAskRequests}

	case models.StepAwaitingRequests:
		requests := normalizeRequests(input)
		s.Draft.SpecialRequests = &requests
		s.Step = models.StepAwaitingConfirm
		return outcome{text: summary(s)}

	case models.StepAwaitingConfirm:
		switch parseAnswer(input) {
		case answerYes:
			return outcome{action: actionCommit}
		case answerNo:
			return outcome{action: actionDiscard, text: msgCancelled}
		}
		return outcome{text: msgAskYesNo}
	}

	// unknown step: drop the session
	return outcome{action: actionDiscard, text: msgNoSession}
}

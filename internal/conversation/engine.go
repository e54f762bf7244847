package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/models"

	"github.com/rs/zerolog"
)

// PropertyFinder is the read side of the entity store the dialogue needs.
type PropertyFinder interface {
	GetPropertyByName(ctx context.Context, name string) (*models.Property, error)
	ListActiveProperties(ctx context.Context) ([]*models.Property, error)
}

type Config struct {
	DateLayout string
	Location   *time.Location
}

// Engine drives the booking dialogue of every user. Calls for the same user
// are serialized; different users never wait for each other.
type Engine struct {
	sessions   domain.SessionRepository
	properties PropertyFinder
	committer  domain.BookingCommitter
	cfg        Config
	locks      *keyedMutex
	now        func() time.Time
	logger     *zerolog.Logger
}

func NewEngine(
	sessions domain.SessionRepository,
	properties PropertyFinder,
	committer domain.BookingCommitter,
	cfg Config,
	logger *zerolog.Logger,
) *Engine {
	if cfg.DateLayout == "" {
		cfg.DateLayout = models.DefaultDateLayout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Engine{
		sessions:   sessions,
		properties: properties,
		committer:  committer,
		cfg:        cfg,
		locks:      newKeyedMutex(),
		now:        time.Now,
		logger:     logger,
	}
}

func (e *Engine) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return e.logger
}

// Catalog lists the bookable properties with a usage hint.
func (e *Engine) Catalog(ctx context.Context) (models.Reply, error) {
	properties, err := e.properties.ListActiveProperties(ctx)
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to list properties: %w", err)
	}
	return models.Reply{Text: propertyList(properties), Step: models.StepIdle}, nil
}

// Start opens a dialogue for propertyName, replacing any dialogue in progress.
// An unknown or inactive property leaves the current session untouched.
func (e *Engine) Start(ctx context.Context, userID, displayName, propertyName string) (models.Reply, error) {
	propertyName = strings.TrimSpace(propertyName)
	if propertyName == "" {
		return e.Catalog(ctx)
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	current, err := e.sessions.GetSession(ctx, userID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to load session: %w", err)
	}
	currentStep := models.StepIdle
	if current != nil && current.Active {
		currentStep = current.Step
	}

	property, err := e.properties.GetPropertyByName(ctx, propertyName)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return models.Reply{}, fmt.Errorf("failed to find property: %w", err)
	}
	if err != nil || !property.Bookable() {
		text := fmt.Sprintf(msgNotFound, propertyName)
		if catalog, err := e.Catalog(ctx); err == nil {
			text += "\n\n" + catalog.Text
		}
		return models.Reply{Text: text, Step: currentStep}, nil
	}

	now := e.now()
	session := models.NewSession(userID, now)
	session.Active = true
	session.Step = models.StepAwaitingCheckIn
	session.PropertyID = property.ID
	session.MaxGuests = property.MaxGuests
	session.Draft = models.BookingDraft{
		PropertyID:   property.ID,
		PropertyName: property.Name,
		GuestName:    displayName,
		UserID:       userID,
	}
	if err := e.sessions.SaveSession(ctx, session); err != nil {
		return models.Reply{}, fmt.Errorf("failed to save session: %w", err)
	}

	var b strings.Builder
	if currentStep != models.StepIdle {
		b.WriteString(msgDiscarded + "\n")
	}
	fmt.Fprintf(&b, msgBookingFor+"\n", property.Name)
	b.WriteString(msgAskCheckIn)

	e.log(ctx).Info().
		Str("user_id", userID).
		Str("property_id", property.ID).
		Bool("restarted", currentStep != models.StepIdle).
		Msg("Booking dialogue started")

	return models.Reply{Text: b.String(), Step: session.Step}, nil
}

// Advance feeds one message to the user's active dialogue.
func (e *Engine) Advance(ctx context.Context, userID, text string) (models.Reply, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	session, err := e.sessions.GetSession(ctx, userID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil || !session.Active {
		return models.Reply{Text: msgNoSession, Step: models.StepIdle}, nil
	}

	result := advanceStep(session, text, e.cfg)
	switch result.action {
	case actionDiscard:
		if err := e.sessions.ClearSession(ctx, userID); err != nil {
			return models.Reply{}, fmt.Errorf("failed to clear session: %w", err)
		}
		return models.Reply{Text: result.text, Step: models.StepIdle}, nil
	case actionCommit:
		return e.commit(ctx, session)
	}

	session.UpdatedAt = e.now()
	if err := e.sessions.SaveSession(ctx, session); err != nil {
		return models.Reply{}, fmt.Errorf("failed to save session: %w", err)
	}
	return models.Reply{Text: result.text, Step: session.Step}, nil
}

func (e *Engine) commit(ctx context.Context, session *models.Session) (models.Reply, error) {
	logger := e.log(ctx)

	booking, err := e.committer.ConfirmBooking(ctx, session.Draft)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) {
			logger.Warn().Err(err).Str("user_id", session.UserID).Msg("Booking rejected")
			if clearErr := e.sessions.ClearSession(ctx, session.UserID); clearErr != nil {
				return models.Reply{}, fmt.Errorf("failed to clear session: %w", clearErr)
			}
			return models.Reply{Text: fmt.Sprintf(msgCommitRejected, rejectionReason(err)), Step: models.StepIdle}, nil
		}

		// la sessione resta in attesa di conferma, l'utente può riprovare
		logger.Error().Err(err).Str("user_id", session.UserID).Msg("Failed to confirm booking")
		return models.Reply{Text: msgCommitRetry, Step: session.Step}, nil
	}

	if err := e.sessions.ClearSession(ctx, session.UserID); err != nil {
		logger.Error().Err(err).Str("booking_id", booking.ID).Msg("Failed to clear session after booking")
	}

	logger.Info().
		Str("user_id", session.UserID).
		Str("booking_id", booking.ID).
		Msg("Booking confirmed")

	return models.Reply{Text: confirmation(booking), Step: models.StepIdle, BookingID: booking.ID}, nil
}

func rejectionReason(err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		switch verr.Field {
		case "property":
			return "la struttura non è più disponibile"
		case "guests":
			return "numero di ospiti oltre la capienza"
		case "check_out_date", "check_in_date":
			return "date non valide"
		}
		return "dati non validi"
	}
	return "struttura non trovata"
}

// Reset discards the user's dialogue, if any.
func (e *Engine) Reset(ctx context.Context, userID string) (models.Reply, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	session, err := e.sessions.GetSession(ctx, userID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to load session: %w", err)
	}
	if err := e.sessions.ClearSession(ctx, userID); err != nil {
		return models.Reply{}, fmt.Errorf("failed to clear session: %w", err)
	}
	if session == nil || !session.Active {
		return models.Reply{Text: msgNoSession, Step: models.StepIdle}, nil
	}
	return models.Reply{Text: msgCancelled, Step: models.StepIdle}, nil
}

func (e *Engine) Active(ctx context.Context, userID string) (bool, error) {
	session, err := e.sessions.GetSession(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load session: %w", err)
	}
	return session != nil && session.Active, nil
}

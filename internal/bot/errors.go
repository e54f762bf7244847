package bot

import (
	"errors"

	"prenotazioni/internal/domain"
)

var errPanic = errors.New("update handler panicked")

func (b *Bot) getErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return "⚠️ Dati non validi: " + verr.Reason
	}

	if errors.Is(err, domain.ErrNotFound) {
		return "❌ Non ho trovato quanto richiesto. Controlla il codice e riprova."
	}

	if errors.Is(err, domain.ErrInvalidTransition) {
		return "⚠️ Operazione non consentita nello stato attuale della prenotazione."
	}

	if errors.Is(err, domain.ErrNoServiceAvailable) {
		return "⚠️ Nessuna impresa di pulizie disponibile: la pulizia non è stata programmata."
	}

	if errors.Is(err, domain.ErrReferentialConflict) {
		return "⚠️ L'elemento è ancora in uso e non può essere eliminato."
	}

	return "❌ Si è verificato un errore. Riprova più tardi o contatta l'host."
}

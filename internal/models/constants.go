package models

import "time"

const (
	// DefaultDateLayout formato delle date accettato nel dialogo (giorno/mese/anno)
	DefaultDateLayout = "2/1/2006"

	// StorageDateLayout formato delle date di soggiorno nel database
	StorageDateLayout = "2006-01-02"

	// DefaultSessionTTLMinutes scadenza di una sessione di prenotazione inattiva
	DefaultSessionTTLMinutes = 30

	// DefaultAssistantTimeoutSeconds tempo massimo di risposta dell'assistente
	DefaultAssistantTimeoutSeconds = 10

	// DefaultTaxRatePercent aliquota IVA applicata alle fatture
	DefaultTaxRatePercent = 22.0

	// DefaultRenderTimeoutMS tempo massimo per generare un documento fattura
	DefaultRenderTimeoutMS = 5000

	// DefaultCleaningDelayHours ore tra il checkout e la pulizia
	DefaultCleaningDelayHours = 2
	MinCleaningDelayHours     = 1
	MaxCleaningDelayHours     = 24

	// DefaultUpcomingCleaningDays finestra delle pulizie in programma
	DefaultUpcomingCleaningDays = 7

	// ShortIDLength caratteri dell'id mostrati nella conferma
	ShortIDLength = 8

	// WorkerQueueSize dimensione della coda del worker
	WorkerQueueSize = 1000

	// RateLimitMessages numero di messaggi nella finestra
	RateLimitMessages = 20

	// RateLimitWindow finestra del limite in secondi
	RateLimitWindow = 60

	// InvoiceGlobalScope contatore fatture non legato all'anno
	InvoiceGlobalScope = "global"
)

// DefaultRateLimitWindow is RateLimitWindow as a duration.
const DefaultRateLimitWindow = RateLimitWindow * time.Second

// DefaultIntentPhrases are the substrings that reveal a wish to book without a command.
func DefaultIntentPhrases() []string {
	return []string{
		"prenota",
		"prenotare",
		"prenotazione",
		"disponibilità",
		"disponibile",
		"vorrei soggiornare",
		"book",
		"reservation",
	}
}

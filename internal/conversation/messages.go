package conversation

import (
	"fmt"
	"strings"

	"prenotazioni/internal/models"
)

const displayDateLayout = "02/01/2006"

const (
	msgAskCheckIn     = "📅 Inserisci la data di check-in (GG/MM/AAAA):"
	msgAskCheckOut    = "📅 Inserisci la data di check-out (GG/MM/AAAA):"
	msgAskGuests      = "👥 Quanti ospiti?"
	msgAskArrival     = "🕒 A che ora pensi di arrivare? (es. 15:00)"
	msgAskRequests    = "📝 Hai richieste particolari? Scrivi \"nessuna\" se non ne hai."
	msgBadDate        = "❌ Data non valida. Usa il formato GG/MM/AAAA, per esempio 10/07/2025."
	msgCheckOutOrder  = "❌ La data di check-out deve essere successiva al check-in (%s). Riprova:"
	msgBadGuests      = "❌ Inserisci un numero intero di ospiti maggiore di zero."
	msgOverCapacity   = "❌ %s può ospitare al massimo %d persone. Inserisci un numero valido:"
	msgAskYesNo       = "Rispondi \"si\" per confermare o \"no\" per annullare."
	msgDiscarded      = "↩️ La prenotazione precedente è stata annullata."
	msgCancelled      = "❌ Prenotazione annullata."
	msgNoSession      = "Non hai nessuna prenotazione in corso. Usa /prenota <nome struttura> per iniziare."
	msgNotFound       = "❌ Struttura \"%s\" non trovata."
	msgNoProperties   = "Al momento non ci sono strutture disponibili."
	msgCommitRetry    = "⚠️ Non è stato possibile salvare la prenotazione. Rispondi \"si\" per riprovare o \"no\" per annullare."
	msgCommitRejected = "❌ Impossibile completare la prenotazione: %s. Usa /prenota per ricominciare."
	msgUsage          = "Per prenotare scrivi /prenota seguito dal nome della struttura, per esempio:\n/prenota %s"
	msgBookingFor     = "🏠 Prenotazione per %s."
)

const msgBookingConfirmed = "✅ Prenotazione confermata!\nCodice: %s\n%s, dal %s al %s, %d ospiti."

func propertyList(properties []*models.Property) string {
	if len(properties) == 0 {
		return msgNoProperties
	}
	var b strings.Builder
	b.WriteString("🏠 Strutture disponibili:\n")
	for _, p := range properties {
		fmt.Fprintf(&b, "• %s", p.Name)
		if p.City != "" {
			fmt.Fprintf(&b, " (%s)", p.City)
		}
		fmt.Fprintf(&b, " - fino a %d ospiti, €%.2f/notte\n", p.MaxGuests, p.BasePrice)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, msgUsage, properties[0].Name)
	return b.String()
}

func summary(s *models.Session) string {
	d := s.Draft
	requests := "nessuna"
	if d.SpecialRequests != nil && *d.SpecialRequests != "" {
		requests = *d.SpecialRequests
	}
	arrival := ""
	if d.CheckInTime != nil {
		arrival = *d.CheckInTime
	}

	var b strings.Builder
	b.WriteString("📋 Riepilogo prenotazione\n")
	fmt.Fprintf(&b, "Struttura: %s\n", d.PropertyName)
	fmt.Fprintf(&b, "Check-in: %s\n", d.CheckInDate.Format(displayDateLayout))
	fmt.Fprintf(&b, "Check-out: %s (%d notti)\n", d.CheckOutDate.Format(displayDateLayout),
		models.NightsBetween(*d.CheckInDate, *d.CheckOutDate))
	fmt.Fprintf(&b, "Ospiti: %d\n", *d.Guests)
	fmt.Fprintf(&b, "Orario di arrivo: %s\n", arrival)
	fmt.Fprintf(&b, "Richieste: %s\n\n", requests)
	b.WriteString("Confermi? (si/no)")
	return b.String()
}

func confirmation(b *models.Booking) string {
	return fmt.Sprintf(msgBookingConfirmed, b.ShortID(), b.PropertyName,
		b.CheckInDate.Format(displayDateLayout), b.CheckOutDate.Format(displayDateLayout), b.Guests)
}

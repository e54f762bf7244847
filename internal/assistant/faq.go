// Package assistant answers free text with keyword rules over the property catalog.
package assistant

import (
	"context"
	"fmt"
	"strings"

	"prenotazioni/internal/models"
)

type PropertyLister interface {
	ListActiveProperties(ctx context.Context) ([]*models.Property, error)
}

type rule struct {
	keywords []string
	answer   func(ctx context.Context, props []*models.Property) string
}

// FAQ matches the first rule whose keyword appears in the text.
// An empty answer means nothing matched.
type FAQ struct {
	properties PropertyLister
	rules      []rule
}

func NewFAQ(properties PropertyLister) *FAQ {
	f := &FAQ{properties: properties}
	f.rules = []rule{
		{keywords: []string{"prezz", "costa", "costo", "tariff"}, answer: prices},
		{keywords: []string{"wifi", "wi-fi", "servizi", "dotazion", "parcheggio", "piscina"}, answer: amenities},
		{keywords: []string{"dove", "indirizzo", "citt", "zona"}, answer: locations},
		{keywords: []string{"check-in", "check in", "orario", "arrivo"}, answer: constant(
			"🕒 Il check-in è dalle 15:00, il check-out entro le 10:00. " +
				"Durante la prenotazione puoi indicarci l'orario di arrivo.")},
		{keywords: []string{"cancell", "disdett", "rimbors"}, answer: constant(
			"📝 Per annullare una prenotazione confermata contatta l'host indicando il codice prenotazione.")},
		{keywords: []string{"ciao", "buongiorno", "buonasera", "salve"}, answer: constant(
			"👋 Ciao! Scrivi /prenota per vedere le strutture disponibili.")},
	}
	return f
}

func (f *FAQ) Answer(ctx context.Context, _ string, text string) (string, error) {
	lower := strings.ToLower(text)
	for _, r := range f.rules {
		if !containsAny(lower, r.keywords) {
			continue
		}
		var props []*models.Property
		if f.properties != nil {
			list, err := f.properties.ListActiveProperties(ctx)
			if err != nil {
				return "", fmt.Errorf("failed to list properties: %w", err)
			}
			props = list
		}
		return r.answer(ctx, props), nil
	}
	return "", nil
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func constant(text string) func(context.Context, []*models.Property) string {
	return func(context.Context, []*models.Property) string { return text }
}

func prices(_ context.Context, props []*models.Property) string {
	if len(props) == 0 {
		return "Al momento non ci sono strutture disponibili."
	}
	var b strings.Builder
	b.WriteString("💶 Tariffe per notte:\n")
	for _, p := range props {
		fmt.Fprintf(&b, "• %s: €%.2f + €%.2f pulizia finale\n", p.Name, p.BasePrice, p.CleaningFee)
	}
	return strings.TrimRight(b.String(), "\n")
}

func amenities(_ context.Context, props []*models.Property) string {
	if len(props) == 0 {
		return "Al momento non ci sono strutture disponibili."
	}
	var b strings.Builder
	b.WriteString("🏠 Servizi disponibili:\n")
	for _, p := range props {
		list := "non indicati"
		if len(p.Amenities) > 0 {
			list = strings.Join(p.Amenities, ", ")
		}
		fmt.Fprintf(&b, "• %s: %s\n", p.Name, list)
	}
	return strings.TrimRight(b.String(), "\n")
}

func locations(_ context.Context, props []*models.Property) string {
	if len(props) == 0 {
		return "Al momento non ci sono strutture disponibili."
	}
	var b strings.Builder
	b.WriteString("📍 Le nostre strutture:\n")
	for _, p := range props {
		where := p.City
		if p.Address != "" {
			where = p.Address + ", " + p.City
		}
		fmt.Fprintf(&b, "• %s: %s\n", p.Name, where)
	}
	return strings.TrimRight(b.String(), "\n")
}

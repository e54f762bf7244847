package models

import "time"

type PropertyStatus string

const (
	PropertyActive   PropertyStatus = "active"
	PropertyInactive PropertyStatus = "inactive"
)

func (s PropertyStatus) Valid() bool {
	return s == PropertyActive || s == PropertyInactive
}

type Property struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Type              string         `json:"type"`
	Address           string         `json:"address"`
	City              string         `json:"city"`
	Bedrooms          int            `json:"bedrooms"`
	Bathrooms         int            `json:"bathrooms"`
	MaxGuests         int            `json:"maxGuests"`
	BasePrice         float64        `json:"basePrice"`
	CleaningFee       float64        `json:"cleaningFee"`
	Amenities         []string       `json:"amenities"`
	CleaningServiceID *string        `json:"cleaningServiceId,omitempty"`
	Status            PropertyStatus `json:"status"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Bookable reports whether the property accepts new bookings.
func (p *Property) Bookable() bool {
	return p != nil && p.Status == PropertyActive
}

// PriceFor returns nights × base price + cleaning fee.
func (p *Property) PriceFor(nights int) float64 {
	return float64(nights)*p.BasePrice + p.CleaningFee
}

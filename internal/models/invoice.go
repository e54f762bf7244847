package models

import (
	"math"
	"time"
)

type InvoiceStatus string

const (
	InvoiceIssued InvoiceStatus = "issued"
	InvoicePaid   InvoiceStatus = "paid"
	InvoiceVoid   InvoiceStatus = "void"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceIssued, InvoicePaid, InvoiceVoid:
		return true
	}
	return false
}

type Invoice struct {
	ID          string        `json:"id"`
	BookingID   string        `json:"bookingId"`
	Number      string        `json:"number"`
	Sequence    int64         `json:"sequence"`
	Scope       string        `json:"scope"`
	IssueDate   time.Time     `json:"issueDate"`
	GrossAmount float64       `json:"grossAmount"`
	NetAmount   float64       `json:"netAmount"`
	TaxAmount   float64       `json:"taxAmount"`
	TaxRate     float64       `json:"taxRate"`
	Status      InvoiceStatus `json:"status"`
	PaidAt      *time.Time    `json:"paidAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// SplitGross decomposes a tax-inclusive amount at ratePercent.
// Both parts are rounded to cents; tax absorbs the remainder of net.
func SplitGross(gross, ratePercent float64) (net, tax float64) {
	net = Round2(gross / (1 + ratePercent/100))
	tax = Round2(gross - net)
	return net, tax
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

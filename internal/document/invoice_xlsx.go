package document

import (
	"context"
	"fmt"

	"prenotazioni/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	sheetName       = "Fattura"
	dateLayout      = "02/01/2006"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Issuer is printed in the invoice header.
type Issuer struct {
	Name    string
	Address string
	VATID   string
}

// XLSXRenderer renders invoices as single-sheet workbooks.
type XLSXRenderer struct {
	issuer Issuer
}

func NewXLSXRenderer(issuer Issuer) *XLSXRenderer {
	return &XLSXRenderer{issuer: issuer}
}

func (r *XLSXRenderer) ContentType() string { return xlsxContentType }

func (r *XLSXRenderer) Extension() string { return ".xlsx" }

func (r *XLSXRenderer) RenderInvoice(
	ctx context.Context,
	inv *models.Invoice,
	booking *models.Booking,
	property *models.Property,
) ([]byte, error) {
	if inv == nil || booking == nil || property == nil {
		return nil, fmt.Errorf("invoice, booking and property are required")
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	if err := r.writeHeader(f, inv); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.writeLines(f, inv, booking, property); err != nil {
		return nil, err
	}

	_ = f.SetColWidth(sheetName, "A", "A", 28)
	_ = f.SetColWidth(sheetName, "B", "D", 18)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("error writing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *XLSXRenderer) writeHeader(f *excelize.File, inv *models.Invoice) error {
	title := fmt.Sprintf("Fattura n. %s", inv.Number)
	if inv.Status == models.InvoiceVoid {
		title += " (ANNULLATA)"
	}
	cells := []struct {
		cell  string
		value interface{}
	}{
		{"A1", title},
		{"A2", r.issuer.Name},
		{"A3", r.issuer.Address},
		{"A4", vatLine(r.issuer.VATID)},
		{"C2", "Data emissione"},
		{"D2", inv.IssueDate.Format(dateLayout)},
		{"C3", "Stato"},
		{"D3", statusLabel(inv)},
	}
	for _, c := range cells {
		if err := f.SetCellValue(sheetName, c.cell, c.value); err != nil {
			return fmt.Errorf("error writing %s: %w", c.cell, err)
		}
	}

	_ = f.MergeCell(sheetName, "A1", "D1")
	style, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", style)
	return nil
}

func (r *XLSXRenderer) writeLines(
	f *excelize.File,
	inv *models.Invoice,
	booking *models.Booking,
	property *models.Property,
) error {
	nights := booking.Nights()
	stay := models.Round2(float64(nights) * property.BasePrice)

	rows := [][]interface{}{
		{"Ospite", booking.GuestName},
		{"Struttura", property.Name},
		{"Prenotazione", booking.ShortID()},
		{"Soggiorno", fmt.Sprintf("%s - %s", booking.CheckInDate.Format(dateLayout), booking.CheckOutDate.Format(dateLayout))},
		{"Ospiti", booking.Guests},
		{},
		{"Descrizione", "Quantità", "Prezzo", "Importo"},
		{"Pernottamento", nights, property.BasePrice, stay},
		{"Pulizia finale", 1, property.CleaningFee, property.CleaningFee},
		{},
		{"Imponibile", "", "", inv.NetAmount},
		{fmt.Sprintf("IVA %.0f%%", inv.TaxRate), "", "", inv.TaxAmount},
		{"Totale", "", "", inv.GrossAmount},
	}

	const firstRow = 6
	for i, values := range rows {
		if len(values) == 0 {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(1, firstRow+i)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", firstRow+i, err)
		}
	}

	bold, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	headerRow := firstRow + 6
	totalRow := firstRow + len(rows) - 1
	_ = f.SetCellStyle(sheetName, fmt.Sprintf("A%d", headerRow), fmt.Sprintf("D%d", headerRow), bold)
	_ = f.SetCellStyle(sheetName, fmt.Sprintf("A%d", totalRow), fmt.Sprintf("D%d", totalRow), bold)

	money, _ := f.NewStyle(&excelize.Style{NumFmt: 4})
	_ = f.SetCellStyle(sheetName, fmt.Sprintf("C%d", headerRow+1), fmt.Sprintf("D%d", totalRow-1), money)
	return nil
}

func vatLine(id string) string {
	if id == "" {
		return ""
	}
	return "P. IVA " + id
}

func statusLabel(inv *models.Invoice) string {
	switch inv.Status {
	case models.InvoicePaid:
		if inv.PaidAt != nil {
			return "Pagata il " + inv.PaidAt.Format(dateLayout)
		}
		return "Pagata"
	case models.InvoiceVoid:
		return "Annullata"
	default:
		return "Da pagare"
	}
}

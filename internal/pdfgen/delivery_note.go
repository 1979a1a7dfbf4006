// Package pdfgen renders printable warehouse documents.
package pdfgen

import (
	"bytes"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/payment"

	"github.com/phpdave11/gofpdf"
)

// Renderer produces delivery note PDFs.
type Renderer struct {
	shopName string
}

// NewRenderer creates a renderer. shopName appears in the document header.
func NewRenderer(shopName string) *Renderer {
	if shopName == "" {
		shopName = "Storefront"
	}
	return &Renderer{shopName: shopName}
}

// RenderDeliveryNote renders the numbered shipping document for an order.
func (r *Renderer) RenderDeliveryNote(note *models.DeliveryNote, order *models.Order, items []models.OrderItem) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 10, r.shopName, "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "B", 13)
	pdf.CellFormat(0, 8, fmt.Sprintf("Documento di trasporto %s", note.NoteNumber), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Ordine %s del %s", order.OrderCode, order.CreatedAt.Format("02/01/2006")), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 6, "Destinatario", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.MultiCell(0, 5, fmt.Sprintf("%s\n%s\n%s %s (%s)\n%s",
		order.FullName,
		order.ShippingAddress,
		order.ShippingPostalCode, order.ShippingCity, order.ShippingState,
		order.ShippingCountry,
	), "", "L", false)
	pdf.Ln(4)

	// line table
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(235, 235, 235)
	pdf.CellFormat(80, 7, "Articolo", "1", 0, "L", true, 0, "")
	pdf.CellFormat(40, 7, "SKU", "1", 0, "L", true, 0, "")
	pdf.CellFormat(20, 7, "Qta", "1", 0, "R", true, 0, "")
	pdf.CellFormat(30, 7, "Prezzo", "1", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	for _, item := range items {
		pdf.CellFormat(80, 7, item.ProductTitle, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 7, item.ProductSKU, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 7, fmt.Sprintf("%d", item.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 7, "EUR "+payment.FormatAmount(item.UnitPrice), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Colli: %d", note.PackagesCount), "", 1, "L", false, 0, "")
	if note.Carrier != "" {
		pdf.CellFormat(0, 6, fmt.Sprintf("Corriere: %s", note.Carrier), "", 1, "L", false, 0, "")
	}
	if note.TrackingNumber != "" {
		pdf.CellFormat(0, 6, fmt.Sprintf("Tracking: %s", note.TrackingNumber), "", 1, "L", false, 0, "")
	}
	if note.Notes != "" {
		pdf.MultiCell(0, 5, "Note: "+note.Notes, "", "L", false)
	}

	pdf.SetY(-30)
	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 10, fmt.Sprintf("Emesso il %s", note.CreatedAt.Format("02/01/2006")), "T", 0, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf output: %w", err)
	}
	return buf.Bytes(), nil
}

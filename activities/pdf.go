package activities

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/learn-automated-testing/invoiceflow/invoice"
)

// renderPDF produces the invoice document. Rendering is pure: the same
// record always yields the same layout.
func renderPDF(record invoice.Record) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 12, fmt.Sprintf("Invoice %s", record.InvoiceID))
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("Vendor: %s", record.VendorName))
	pdf.Ln(7)
	if record.InvoiceDate != "" {
		pdf.Cell(0, 7, fmt.Sprintf("Invoice date: %s", record.InvoiceDate))
		pdf.Ln(7)
	}
	if record.DueDate != "" {
		pdf.Cell(0, 7, fmt.Sprintf("Due date: %s", record.DueDate))
		pdf.Ln(7)
	}
	pdf.Ln(5)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(90, 8, "Description", "1", 0, "L", false, 0, "")
	pdf.CellFormat(25, 8, "Qty", "1", 0, "R", false, 0, "")
	pdf.CellFormat(35, 8, "Unit price", "1", 0, "R", false, 0, "")
	pdf.CellFormat(35, 8, "Total", "1", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	for _, item := range record.LineItems {
		pdf.CellFormat(90, 8, item.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 8, fmt.Sprintf("%d", item.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 8, fmt.Sprintf("%.2f", item.UnitPrice), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 8, fmt.Sprintf("%.2f", item.Total), "1", 1, "R", false, 0, "")
	}

	pdf.Ln(5)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Total: %.2f %s", record.TotalAmount, record.Currency))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering invoice PDF: %w", err)
	}

	return buf.Bytes(), nil
}

package invoice

import (
	"bytes"

	"github.com/go-pdf/fpdf"

	"nhathuocpos/backend/internal/domain"
)

// RenderPDF produces the PDF invoice document.
func RenderPDF(shop domain.ShopProfile, order domain.Order) ([]byte, error) {
	l := buildLayout(shop, order)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(order.Code, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 9, l.shopName, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, detail := range l.shopDetails {
		pdf.CellFormat(0, 5, detail, "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, "SALES INVOICE", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 10)
	for _, meta := range l.orderMeta {
		pdf.CellFormat(0, 5, meta, "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)

	const (
		nameW  = 90.0
		qtyW   = 20.0
		priceW = 40.0
		rowH   = 7.0
	)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(nameW, rowH, "Product", "1", 0, "L", false, 0, "")
	pdf.CellFormat(qtyW, rowH, "Qty", "1", 0, "R", false, 0, "")
	pdf.CellFormat(priceW, rowH, "Unit Price", "1", 0, "R", false, 0, "")
	pdf.CellFormat(priceW, rowH, "Amount", "1", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	for _, line := range l.lines {
		pdf.CellFormat(nameW, rowH, line.name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(qtyW, rowH, line.qty, "1", 0, "R", false, 0, "")
		pdf.CellFormat(priceW, rowH, line.unitPrice, "1", 0, "R", false, 0, "")
		pdf.CellFormat(priceW, rowH, line.lineTotal, "1", 1, "R", false, 0, "")
	}

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(nameW+qtyW+priceW, rowH, "TOTAL", "1", 0, "R", false, 0, "")
	pdf.CellFormat(priceW, rowH, l.grandTotal, "1", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

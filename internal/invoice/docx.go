package invoice

import (
	"bytes"
	"fmt"
	"strings"

	docx "github.com/fumiama/go-docx"

	"nhathuocpos/backend/internal/domain"
)

// RenderDOCX produces the Word invoice document. Line items render as
// fixed-width text rows; word processors keep them aligned well enough for
// a till receipt and the format stays trivially diffable.
func RenderDOCX(shop domain.ShopProfile, order domain.Order) ([]byte, error) {
	l := buildLayout(shop, order)

	w := docx.New().WithDefaultTheme()

	w.AddParagraph().AddText(l.shopName).Size("32").Bold()
	for _, detail := range l.shopDetails {
		w.AddParagraph().AddText(detail).Size("20")
	}
	w.AddParagraph()
	w.AddParagraph().AddText("SALES INVOICE").Size("26").Bold()
	for _, meta := range l.orderMeta {
		w.AddParagraph().AddText(meta).Size("22")
	}
	w.AddParagraph()

	w.AddParagraph().AddText(formatRow("Product", "Qty", "Unit Price", "Amount")).Size("20").Bold()
	for _, line := range l.lines {
		w.AddParagraph().AddText(formatRow(line.name, line.qty, line.unitPrice, line.lineTotal)).Size("20")
	}
	w.AddParagraph()
	w.AddParagraph().AddText("TOTAL: " + l.grandTotal).Size("24").Bold()

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatRow(name, qty, unitPrice, lineTotal string) string {
	// Truncate and pad by runes, not bytes. Product names are routinely
	// Vietnamese and a byte slice could cut a rune in half.
	runes := []rune(name)
	if len(runes) > 36 {
		runes = append(runes[:33], []rune("...")...)
	}
	pad := strings.Repeat(" ", 36-len(runes))
	return fmt.Sprintf("%s%s %6s %14s %14s", string(runes), pad, qty, unitPrice, lineTotal)
}

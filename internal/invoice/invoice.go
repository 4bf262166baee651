// Package invoice renders a committed order into printable documents.
// Renderers are pure: (shop profile, order with items) in, bytes out. The
// grand total printed is always the order's stored total and is never
// recomputed from the line items.
package invoice

import (
	"fmt"
	"strings"

	"nhathuocpos/backend/internal/domain"
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// FormatMoney renders cents as a thousands-separated decimal amount.
// Whole amounts drop the fraction: 3500000 -> "35,000", 150 -> "1.50".
func FormatMoney(cents int64) string {
	negative := cents < 0
	if negative {
		cents = -cents
	}
	whole := cents / 100
	frac := cents % 100

	digits := fmt.Sprintf("%d", whole)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	out := b.String()
	if frac != 0 {
		out = fmt.Sprintf("%s.%02d", out, frac)
	}
	if negative {
		out = "-" + out
	}
	return out
}

type lineRow struct {
	name      string
	qty       string
	unitPrice string
	lineTotal string
}

// layout flattens the order into render-ready strings shared by both
// output formats, so the stored-total rule holds everywhere.
type layout struct {
	shopName    string
	shopDetails []string
	orderMeta   []string
	lines       []lineRow
	grandTotal  string
}

func buildLayout(shop domain.ShopProfile, order domain.Order) layout {
	l := layout{
		shopName:   shop.Name,
		grandTotal: FormatMoney(order.TotalCents),
	}
	if shop.Address != "" {
		l.shopDetails = append(l.shopDetails, shop.Address)
	}
	if shop.Phone != "" {
		l.shopDetails = append(l.shopDetails, "Tel: "+shop.Phone)
	}

	l.orderMeta = append(l.orderMeta,
		"Invoice: "+order.Code,
		"Customer: "+order.PartyName,
		"Date: "+order.Date,
	)
	if order.Note != "" {
		l.orderMeta = append(l.orderMeta, "Note: "+order.Note)
	}

	for _, item := range order.Items {
		l.lines = append(l.lines, lineRow{
			name:      item.ProductName,
			qty:       fmt.Sprintf("%d", item.Qty),
			unitPrice: FormatMoney(item.UnitPriceCents),
			lineTotal: FormatMoney(int64(item.Qty) * item.UnitPriceCents),
		})
	}
	return l
}

// FileName returns the download name for an order in the given extension.
func FileName(order domain.Order, ext string) string {
	return order.Code + "." + ext
}

package importer

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"nhathuocpos/backend/internal/domain"
)

// Table is a parsed tabular input: a header row and data rows. Rows may be
// ragged; missing trailing cells read as blank.
type Table struct {
	Headers []string
	Rows    [][]string
}

// ReadWorkbook parses the first sheet of an .xlsx workbook. The first row
// is the header row.
func ReadWorkbook(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheets[0])
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}
	return &Table{Headers: headers, Rows: rows[1:]}, nil
}

// ProductMapping maps operator-chosen header labels to the semantic
// product fields. Code, Name, Unit and Price are required; Stock is
// optional and defaults to 0 when unmapped.
type ProductMapping struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Unit  string `json:"unit"`
	Price string `json:"price"`
	Stock string `json:"stock,omitempty"`
}

// PartyMapping maps header labels to customer fields. Only Name is
// required.
type PartyMapping struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

// MapProducts resolves the mapping against the table and returns validated
// upsert rows plus the count of skipped rows. Mapping completeness is
// checked before any row is processed; a missing required column aborts
// the whole import. Rows with a blank code or name are skipped, not
// errors. Price and stock coerce to numbers with blank/non-numeric as 0.
func MapProducts(t *Table, m ProductMapping) ([]domain.Product, int, error) {
	required := map[string]string{
		"code":  m.Code,
		"name":  m.Name,
		"unit":  m.Unit,
		"price": m.Price,
	}
	columns := make(map[string]int, 5)
	missing := make([]string, 0, 4)
	for field, header := range required {
		idx, ok := columnIndex(t.Headers, header)
		if !ok {
			missing = append(missing, field)
			continue
		}
		columns[field] = idx
	}
	if len(missing) > 0 {
		return nil, 0, fmt.Errorf("unmapped required fields: %s", strings.Join(sorted(missing), ", "))
	}
	stockIdx, hasStock := columnIndex(t.Headers, m.Stock)

	products := make([]domain.Product, 0, len(t.Rows))
	skipped := 0
	for _, row := range t.Rows {
		code := strings.ToUpper(cell(row, columns["code"]))
		name := cell(row, columns["name"])
		if code == "" || name == "" {
			skipped++
			continue
		}
		stock := 0
		if hasStock {
			stock = parseQty(cell(row, stockIdx))
		}
		products = append(products, domain.Product{
			Code:       code,
			Name:       name,
			Unit:       cell(row, columns["unit"]),
			PriceCents: parsePriceCents(cell(row, columns["price"])),
			Stock:      stock,
		})
	}
	return products, skipped, nil
}

// MapParties mirrors MapProducts for customer imports: name required,
// everything else optional, blank-name rows skipped.
func MapParties(t *Table, m PartyMapping) ([]domain.Party, int, error) {
	nameIdx, ok := columnIndex(t.Headers, m.Name)
	if !ok {
		return nil, 0, fmt.Errorf("unmapped required fields: name")
	}
	phoneIdx, hasPhone := columnIndex(t.Headers, m.Phone)
	emailIdx, hasEmail := columnIndex(t.Headers, m.Email)
	addressIdx, hasAddress := columnIndex(t.Headers, m.Address)

	parties := make([]domain.Party, 0, len(t.Rows))
	skipped := 0
	for _, row := range t.Rows {
		name := cell(row, nameIdx)
		if name == "" {
			skipped++
			continue
		}
		party := domain.Party{Name: name}
		if hasPhone {
			party.Phone = cell(row, phoneIdx)
		}
		if hasEmail {
			party.Email = cell(row, emailIdx)
		}
		if hasAddress {
			party.Address = cell(row, addressIdx)
		}
		parties = append(parties, party)
	}
	return parties, skipped, nil
}

func columnIndex(headers []string, header string) (int, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	for i, h := range headers {
		if strings.EqualFold(h, header) {
			return i, true
		}
	}
	return 0, false
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// parsePriceCents reads a decimal currency amount and converts to cents.
// Blank and non-numeric values coerce to 0.
func parsePriceCents(value string) int64 {
	value = strings.ReplaceAll(value, ",", "")
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 {
		return 0
	}
	return int64(math.Round(f * 100))
}

func parseQty(value string) int {
	value = strings.ReplaceAll(value, ",", "")
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 {
		return 0
	}
	return int(f)
}

func sorted(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}

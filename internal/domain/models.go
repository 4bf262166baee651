package domain

import "time"

// Product is a catalog row keyed by its business code (not a surrogate id).
type Product struct {
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Unit       string    `json:"unit"`
	PriceCents int64     `json:"price_cents"`
	Stock      int       `json:"stock"`
	CreatedAt  time.Time `json:"created_at"`
}

// Party is a customer record. The reserved walk-in party (WalkInPartyName)
// is lazily created once and reused for sales without a named customer.
type Party struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const WalkInPartyName = "walk-in"

// CartLine is one product+quantity entry of an in-progress cart. The unit
// price is frozen when the operator adds the line, so a catalog price edit
// mid-session does not retroactively change the cart.
type CartLine struct {
	ProductCode    string `json:"product_code"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type CheckoutRequest struct {
	PartyID string     `json:"party_id,omitempty"`
	Date    string     `json:"date,omitempty"`
	Note    string     `json:"note,omitempty"`
	Lines   []CartLine `json:"lines"`
}

type CheckoutResponse struct {
	OrderCode  string `json:"order_code"`
	TotalCents int64  `json:"total_cents"`
	ItemCount  int    `json:"item_count"`
	CreatedAt  string `json:"created_at"`
}

// OrderItem is immutable once written. Product name and unit price are
// denormalized so historical invoices survive later catalog edits.
type OrderItem struct {
	ProductCode    string `json:"product_code"`
	ProductName    string `json:"product_name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// Order is an append-only ledger header. TotalCents is computed once at
// commit time (sum of qty * unit price at sale) and never re-derived.
type Order struct {
	Code       string      `json:"code"`
	PartyID    string      `json:"party_id"`
	PartyName  string      `json:"party_name"`
	Date       string      `json:"date"`
	Note       string      `json:"note,omitempty"`
	TotalCents int64       `json:"total_cents"`
	CreatedAt  time.Time   `json:"created_at"`
	Items      []OrderItem `json:"items,omitempty"`
}

type PartyCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

// ShopProfile is a singleton document persisted outside the relational
// store and injected into invoice rendering.
type ShopProfile struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type RevenueRow struct {
	Date       string `json:"date"`
	Orders     int64  `json:"orders"`
	TotalCents int64  `json:"total_cents"`
}

type TopProduct struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	QtySold      int64  `json:"qty_sold"`
	RevenueCents int64  `json:"revenue_cents"`
}

type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"nhathuocpos/backend/internal/domain"
	"nhathuocpos/backend/internal/store"
	"nhathuocpos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	partiesByID     map[string]domain.Party
	ordersByCode    map[string]domain.Order
	orderCodes      []string
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		partiesByID:     make(map[string]domain.Party),
		ordersByCode:    make(map[string]domain.Order),
		orderCodes:      make([]string, 0, 64),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store preloaded with a small pharmacy catalog and
// dev user accounts, for demo mode and tests.
func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{Code: "MED-PARA-500", Name: "Paracetamol 500mg", Unit: "tablet", PriceCents: 150, Stock: 100},
		{Code: "MED-IBU-400", Name: "Ibuprofen 400mg", Unit: "tablet", PriceCents: 220, Stock: 100},
		{Code: "MED-AMOX-500", Name: "Amoxicillin 500mg", Unit: "capsule", PriceCents: 380, Stock: 100},
		{Code: "SUP-VITC-1000", Name: "Vitamin C 1000mg", Unit: "tube", PriceCents: 4500, Stock: 100},
		{Code: "SUP-ORS-SAC", Name: "Oral Rehydration Salts", Unit: "sachet", PriceCents: 90, Stock: 100},
		{Code: "CARE-MASK-50", Name: "Face Mask Box of 50", Unit: "box", PriceCents: 5200, Stock: 100},
		{Code: "CARE-BAND-20", Name: "Adhesive Bandages 20pcs", Unit: "box", PriceCents: 1800, Stock: 100},
		{Code: "CARE-ANTI-100", Name: "Antiseptic Solution 100ml", Unit: "bottle", PriceCents: 2400, Stock: 100},
		{Code: "DEV-THERM-01", Name: "Digital Thermometer", Unit: "piece", PriceCents: 8900, Stock: 100},
		{Code: "MED-COUGH-90", Name: "Cough Syrup 90ml", Unit: "bottle", PriceCents: 3600, Stock: 100},
	}

	s := New()
	for _, p := range products {
		p.CreatedAt = now
		s.products[p.Code] = p
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Code, b.Code)
	})
	return products, nil
}

func (s *Store) GetProductByCode(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[code]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpsertProducts(_ context.Context, products []domain.Product) (int, error) {
	// Reject the whole batch up front so a bad row never leaves earlier
	// rows written, matching the transactional postgres behavior.
	for _, p := range products {
		if p.Code == "" || p.Name == "" || p.PriceCents < 0 || p.Stock < 0 {
			return 0, store.ErrValidation
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	written := 0
	for _, p := range products {
		existing, exists := s.products[p.Code]
		if exists {
			p.CreatedAt = existing.CreatedAt
		} else {
			p.CreatedAt = now
		}
		s.products[p.Code] = p
		written++
	}
	return written, nil
}

func (s *Store) SetStock(_ context.Context, code string, qty int) error {
	if qty < 0 {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[code]
	if !exists {
		return store.ErrNotFound
	}
	product.Stock = qty
	s.products[code] = product
	return nil
}

func (s *Store) AdjustStock(_ context.Context, code string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[code]
	if !exists {
		return nil, store.ErrNotFound
	}
	next := product.Stock + delta
	if next < 0 {
		return nil, &store.InsufficientStockError{Code: code, Requested: -delta, Available: product.Stock}
	}
	product.Stock = next
	s.products[code] = product
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) DeleteProduct(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[code]; !exists {
		return store.ErrNotFound
	}
	for _, orderCode := range s.orderCodes {
		for _, item := range s.ordersByCode[orderCode].Items {
			if item.ProductCode == code {
				return store.ErrReferenced
			}
		}
	}
	delete(s.products, code)
	return nil
}

func (s *Store) ListLowStock(_ context.Context, threshold int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	low := make([]domain.Product, 0, 16)
	for _, p := range s.products {
		if p.Stock <= threshold {
			low = append(low, p)
		}
	}
	slices.SortFunc(low, func(a, b domain.Product) int {
		if a.Stock != b.Stock {
			return a.Stock - b.Stock
		}
		return strings.Compare(a.Code, b.Code)
	})
	return low, nil
}

func (s *Store) CreateParty(_ context.Context, party domain.Party) (*domain.Party, error) {
	if party.Name == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if party.ID == "" {
		party.ID = xid.New("party")
	}
	if party.CreatedAt.IsZero() {
		party.CreatedAt = time.Now().UTC()
	}
	s.partiesByID[party.ID] = party
	created := party
	return &created, nil
}

func (s *Store) ListParties(_ context.Context) ([]domain.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parties := make([]domain.Party, 0, len(s.partiesByID))
	for _, p := range s.partiesByID {
		if p.Name == domain.WalkInPartyName {
			continue
		}
		parties = append(parties, p)
	}
	slices.SortFunc(parties, func(a, b domain.Party) int {
		return strings.Compare(a.Name, b.Name)
	})
	return parties, nil
}

func (s *Store) GetPartyByID(_ context.Context, id string) (*domain.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	party, exists := s.partiesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyParty := party
	return &copyParty, nil
}

func (s *Store) DeleteParty(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.partiesByID[id]; !exists {
		return store.ErrNotFound
	}
	for _, code := range s.orderCodes {
		if s.ordersByCode[code].PartyID == id {
			return store.ErrReferenced
		}
	}
	delete(s.partiesByID, id)
	return nil
}

func (s *Store) EnsureWalkInParty(_ context.Context) (*domain.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.partiesByID {
		if p.Name == domain.WalkInPartyName {
			copyParty := p
			return &copyParty, nil
		}
	}
	party := domain.Party{
		ID:        xid.New("party"),
		Name:      domain.WalkInPartyName,
		CreatedAt: time.Now().UTC(),
	}
	s.partiesByID[party.ID] = party
	created := party
	return &created, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if order.Code == "" || order.Date == "" || len(order.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ordersByCode[order.Code]; exists {
		return nil, store.ErrValidation
	}

	// Check every line against current stock before touching anything, so
	// a failed line leaves no partial decrement. Quantities for repeated
	// codes accumulate against the same availability.
	needed := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		if item.ProductCode == "" || item.Qty < 1 || item.UnitPriceCents < 0 {
			return nil, store.ErrValidation
		}
		product, exists := s.products[item.ProductCode]
		if !exists {
			return nil, fmt.Errorf("product %s: %w", item.ProductCode, store.ErrNotFound)
		}
		needed[item.ProductCode] += item.Qty
		if needed[item.ProductCode] > product.Stock {
			return nil, &store.InsufficientStockError{
				Code:      item.ProductCode,
				Requested: needed[item.ProductCode],
				Available: product.Stock,
			}
		}
	}

	for code, qty := range needed {
		product := s.products[code]
		product.Stock -= qty
		s.products[code] = product
	}

	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	s.ordersByCode[order.Code] = order
	s.orderCodes = append(s.orderCodes, order.Code)

	created := order
	return &created, nil
}

func (s *Store) GetOrderByCode(_ context.Context, code string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByCode[code]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyOrder := order
	copyOrder.Items = slices.Clone(order.Items)
	return &copyOrder, nil
}

func (s *Store) ListOrders(_ context.Context, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, limit)
	for i := len(s.orderCodes) - 1; i >= 0 && len(orders) < limit; i-- {
		order := s.ordersByCode[s.orderCodes[i]]
		order.Items = nil
		orders = append(orders, order)
	}
	return orders, nil
}

func (s *Store) RevenueByDay(_ context.Context, from string, to string) ([]domain.RevenueRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDate := make(map[string]*domain.RevenueRow)
	for _, code := range s.orderCodes {
		order := s.ordersByCode[code]
		if order.Date < from || order.Date > to {
			continue
		}
		row, exists := byDate[order.Date]
		if !exists {
			row = &domain.RevenueRow{Date: order.Date}
			byDate[order.Date] = row
		}
		row.Orders++
		row.TotalCents += order.TotalCents
	}

	rows := make([]domain.RevenueRow, 0, len(byDate))
	for _, row := range byDate {
		rows = append(rows, *row)
	}
	slices.SortFunc(rows, func(a, b domain.RevenueRow) int {
		return strings.Compare(a.Date, b.Date)
	})
	return rows, nil
}

func (s *Store) TopProducts(_ context.Context, limit int) ([]domain.TopProduct, error) {
	if limit < 1 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	byCode := make(map[string]*domain.TopProduct)
	for _, code := range s.orderCodes {
		for _, item := range s.ordersByCode[code].Items {
			entry, exists := byCode[item.ProductCode]
			if !exists {
				entry = &domain.TopProduct{Code: item.ProductCode, Name: item.ProductName}
				byCode[item.ProductCode] = entry
			}
			entry.QtySold += int64(item.Qty)
			entry.RevenueCents += int64(item.Qty) * item.UnitPriceCents
		}
	}

	top := make([]domain.TopProduct, 0, len(byCode))
	for _, entry := range byCode {
		top = append(top, *entry)
	}
	slices.SortFunc(top, func(a, b domain.TopProduct) int {
		if a.QtySold != b.QtySold {
			if a.QtySold > b.QtySold {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Code, b.Code)
	})
	if len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

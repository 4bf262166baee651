package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"nhathuocpos/backend/internal/cache"
	"nhathuocpos/backend/internal/domain"
	"nhathuocpos/backend/internal/importer"
	"nhathuocpos/backend/internal/invoice"
	"nhathuocpos/backend/internal/profile"
	"nhathuocpos/backend/internal/store"
	"nhathuocpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const dateLayout = "2006-01-02"

type Service struct {
	repo     store.Repository
	products cache.ProductCache
	profiles *profile.Store
	cacheTTL time.Duration
}

func New(repo store.Repository, products cache.ProductCache, profiles *profile.Store, cacheTTL time.Duration) *Service {
	if products == nil {
		products = cache.NoopProductCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Service{
		repo:     repo,
		products: products,
		profiles: profiles,
		cacheTTL: cacheTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if cached, hit, err := s.products.Get(ctx); err == nil && hit {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: product cache read failed: %v", err)
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.products.Set(ctx, products, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: product cache write failed: %v", err)
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, code string) (domain.Product, error) {
	code = normalizeCode(code)
	if code == "" {
		return domain.Product{}, store.ErrValidation
	}
	product, err := s.repo.GetProductByCode(ctx, code)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// UpsertProducts inserts-or-overwrites catalog rows by code. An update is
// a full-row overwrite, so repeating the same batch is idempotent.
func (s *Service) UpsertProducts(ctx context.Context, products []domain.Product) (int, error) {
	if len(products) == 0 {
		return 0, fmt.Errorf("%w: no products given", store.ErrValidation)
	}

	rows := make([]domain.Product, 0, len(products))
	for _, p := range products {
		p.Code = normalizeCode(p.Code)
		p.Name = strings.TrimSpace(p.Name)
		p.Unit = strings.TrimSpace(p.Unit)
		if p.Code == "" || p.Name == "" {
			return 0, fmt.Errorf("%w: product code and name are required", store.ErrValidation)
		}
		if p.PriceCents < 0 || p.Stock < 0 {
			return 0, fmt.Errorf("%w: price and stock must not be negative", store.ErrValidation)
		}
		rows = append(rows, p)
	}

	written, err := s.repo.UpsertProducts(ctx, rows)
	if err != nil {
		return 0, err
	}

	s.invalidateProducts(ctx)
	s.logAudit(ctx, "catalog_upsert", "product", fmt.Sprintf("rows=%d", written))
	return written, nil
}

// SetStock is an absolute inventory correction.
func (s *Service) SetStock(ctx context.Context, code string, qty int) (domain.Product, error) {
	code = normalizeCode(code)
	if code == "" {
		return domain.Product{}, store.ErrValidation
	}
	if qty < 0 {
		return domain.Product{}, fmt.Errorf("%w: stock must not be negative", store.ErrValidation)
	}

	if err := s.repo.SetStock(ctx, code, qty); err != nil {
		return domain.Product{}, err
	}

	s.invalidateProducts(ctx)
	s.logAudit(ctx, "stock_set", code, fmt.Sprintf("qty=%d", qty))
	return s.GetProduct(ctx, code)
}

// AdjustStock applies a bounds-checked signed delta (restock or manual
// correction). A delta that would drive stock negative fails with
// InsufficientStock and commits nothing.
func (s *Service) AdjustStock(ctx context.Context, code string, delta int) (domain.Product, error) {
	code = normalizeCode(code)
	if code == "" {
		return domain.Product{}, store.ErrValidation
	}
	if delta == 0 {
		return domain.Product{}, fmt.Errorf("%w: delta must not be zero", store.ErrValidation)
	}

	product, err := s.repo.AdjustStock(ctx, code, delta)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateProducts(ctx)
	s.logAudit(ctx, "stock_adjust", code, fmt.Sprintf("delta=%d,stock=%d", delta, product.Stock))
	return *product, nil
}

// DeleteProduct is an independent destructive admin action. Deletion is
// refused while any historical order item references the code.
func (s *Service) DeleteProduct(ctx context.Context, code string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	code = normalizeCode(code)
	if code == "" {
		return store.ErrValidation
	}

	if err := s.repo.DeleteProduct(ctx, code); err != nil {
		return err
	}

	s.invalidateProducts(ctx)
	s.logAudit(ctx, "product_delete", code, "")
	return nil
}

func (s *Service) ListLowStock(ctx context.Context, threshold int) ([]domain.Product, error) {
	if threshold < 1 {
		threshold = 10
	}
	return s.repo.ListLowStock(ctx, threshold)
}

// ImportProducts runs the Excel bulk import: parse, validate the column
// mapping before touching any row, map rows, then upsert what survived.
func (s *Service) ImportProducts(ctx context.Context, r io.Reader, mapping importer.ProductMapping) (domain.ImportResult, error) {
	table, err := importer.ReadWorkbook(r)
	if err != nil {
		return domain.ImportResult{}, err
	}
	rows, skipped, err := importer.MapProducts(table, mapping)
	if err != nil {
		return domain.ImportResult{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if len(rows) == 0 {
		return domain.ImportResult{Skipped: skipped}, nil
	}

	imported, err := s.UpsertProducts(ctx, rows)
	if err != nil {
		return domain.ImportResult{}, err
	}
	s.logAudit(ctx, "catalog_import", "product", fmt.Sprintf("imported=%d,skipped=%d", imported, skipped))
	return domain.ImportResult{Imported: imported, Skipped: skipped}, nil
}

func (s *Service) ImportParties(ctx context.Context, r io.Reader, mapping importer.PartyMapping) (domain.ImportResult, error) {
	table, err := importer.ReadWorkbook(r)
	if err != nil {
		return domain.ImportResult{}, err
	}
	rows, skipped, err := importer.MapParties(table, mapping)
	if err != nil {
		return domain.ImportResult{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	imported := 0
	for _, party := range rows {
		if _, err := s.repo.CreateParty(ctx, party); err != nil {
			return domain.ImportResult{}, err
		}
		imported++
	}
	s.logAudit(ctx, "party_import", "party", fmt.Sprintf("imported=%d,skipped=%d", imported, skipped))
	return domain.ImportResult{Imported: imported, Skipped: skipped}, nil
}

func (s *Service) CreateParty(ctx context.Context, req domain.PartyCreateRequest) (domain.Party, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Party{}, fmt.Errorf("%w: party name is required", store.ErrValidation)
	}
	if name == domain.WalkInPartyName {
		return domain.Party{}, fmt.Errorf("%w: %q is a reserved name", store.ErrValidation, domain.WalkInPartyName)
	}

	party, err := s.repo.CreateParty(ctx, domain.Party{
		Name:    name,
		Phone:   strings.TrimSpace(req.Phone),
		Email:   strings.TrimSpace(req.Email),
		Address: strings.TrimSpace(req.Address),
	})
	if err != nil {
		return domain.Party{}, err
	}

	s.logAudit(ctx, "party_create", party.ID, name)
	return *party, nil
}

func (s *Service) ListParties(ctx context.Context) ([]domain.Party, error) {
	return s.repo.ListParties(ctx)
}

// DeleteParty refuses to remove a customer who appears on historical
// orders; the ledger must keep a resolvable party reference.
func (s *Service) DeleteParty(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	if strings.TrimSpace(id) == "" {
		return store.ErrValidation
	}

	if err := s.repo.DeleteParty(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "party_delete", id, "")
	return nil
}

// Checkout converts a cart into a committed order plus stock decrements.
// Unit prices come frozen from the cart (captured when the operator added
// each line), not re-read from the catalog here. The store commits all
// writes in one transaction; any failing line aborts the whole checkout
// with no partial mutation.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	if len(req.Lines) == 0 {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: empty cart", store.ErrValidation)
	}

	lines := make([]domain.CartLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		line.ProductCode = normalizeCode(line.ProductCode)
		if line.ProductCode == "" {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: cart line without product code", store.ErrValidation)
		}
		if line.Qty < 1 {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: quantity must be at least 1 for %s", store.ErrValidation, line.ProductCode)
		}
		if line.UnitPriceCents < 0 {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: negative unit price for %s", store.ErrValidation, line.ProductCode)
		}
		lines = append(lines, line)
	}

	orderDate, err := normalizeDate(req.Date)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	var party *domain.Party
	if strings.TrimSpace(req.PartyID) == "" {
		party, err = s.repo.EnsureWalkInParty(ctx)
	} else {
		party, err = s.repo.GetPartyByID(ctx, strings.TrimSpace(req.PartyID))
	}
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	now := time.Now().UTC()
	total := int64(0)
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		product, err := s.repo.GetProductByCode(ctx, line.ProductCode)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.CheckoutResponse{}, fmt.Errorf("product %s: %w", line.ProductCode, store.ErrNotFound)
			}
			return domain.CheckoutResponse{}, err
		}
		items = append(items, domain.OrderItem{
			ProductCode:    product.Code,
			ProductName:    product.Name,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
		})
		total += int64(line.Qty) * line.UnitPriceCents
	}

	order := domain.Order{
		Code:       xid.OrderCode(now),
		PartyID:    party.ID,
		PartyName:  party.Name,
		Date:       orderDate,
		Note:       strings.TrimSpace(req.Note),
		TotalCents: total,
		CreatedAt:  now,
		Items:      items,
	}

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	s.invalidateProducts(ctx)
	s.logAudit(ctx, "checkout", created.Code, fmt.Sprintf("party=%s,total=%d,lines=%d", party.Name, created.TotalCents, len(items)))

	return domain.CheckoutResponse{
		OrderCode:  created.Code,
		TotalCents: created.TotalCents,
		ItemCount:  len(items),
		CreatedAt:  created.CreatedAt.Format(time.RFC3339),
	}, nil
}

func (s *Service) GetOrder(ctx context.Context, code string) (domain.Order, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Order{}, store.ErrValidation
	}
	order, err := s.repo.GetOrderByCode(ctx, code)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	return s.repo.ListOrders(ctx, limit)
}

func (s *Service) RevenueByDay(ctx context.Context, from string, to string) ([]domain.RevenueRow, error) {
	today := time.Now().UTC().Format(dateLayout)
	if strings.TrimSpace(from) == "" {
		from = today
	}
	if strings.TrimSpace(to) == "" {
		to = today
	}
	from, err := normalizeDate(from)
	if err != nil {
		return nil, err
	}
	to, err = normalizeDate(to)
	if err != nil {
		return nil, err
	}
	if from > to {
		return nil, fmt.Errorf("%w: range start after end", store.ErrValidation)
	}
	return s.repo.RevenueByDay(ctx, from, to)
}

func (s *Service) TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error) {
	if limit < 1 {
		limit = 10
	}
	return s.repo.TopProducts(ctx, limit)
}

func (s *Service) GetProfile(_ context.Context) (domain.ShopProfile, error) {
	return s.profiles.Load()
}

func (s *Service) SaveProfile(ctx context.Context, p domain.ShopProfile) error {
	if err := s.profiles.Save(p); err != nil {
		return err
	}
	s.logAudit(ctx, "profile_save", p.Name, "")
	return nil
}

// InvoicePDF renders a committed order as a PDF, named after the order
// code.
func (s *Service) InvoicePDF(ctx context.Context, code string) ([]byte, string, error) {
	order, shop, err := s.invoiceInputs(ctx, code)
	if err != nil {
		return nil, "", err
	}
	data, err := invoice.RenderPDF(shop, order)
	if err != nil {
		return nil, "", err
	}
	return data, invoice.FileName(order, "pdf"), nil
}

func (s *Service) InvoiceDOCX(ctx context.Context, code string) ([]byte, string, error) {
	order, shop, err := s.invoiceInputs(ctx, code)
	if err != nil {
		return nil, "", err
	}
	data, err := invoice.RenderDOCX(shop, order)
	if err != nil {
		return nil, "", err
	}
	return data, invoice.FileName(order, "docx"), nil
}

func (s *Service) invoiceInputs(ctx context.Context, code string) (domain.Order, domain.ShopProfile, error) {
	order, err := s.GetOrder(ctx, code)
	if err != nil {
		return domain.Order{}, domain.ShopProfile{}, err
	}
	shop, err := s.profiles.Load()
	if err != nil {
		return domain.Order{}, domain.ShopProfile{}, err
	}
	return order, shop, nil
}

func (s *Service) invalidateProducts(ctx context.Context) {
	if err := s.products.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: product cache invalidation failed: %v", err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entity string, detail string) {
	username := "system"
	if actor, ok := ActorFromContext(ctx); ok {
		username = actor.Username
	}
	log.Printf("[service] audit actor=%s action=%s entity=%s %s", username, action, entity, detail)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func normalizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now().UTC().Format(dateLayout), nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return "", fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
	}
	return parsed.Format(dateLayout), nil
}

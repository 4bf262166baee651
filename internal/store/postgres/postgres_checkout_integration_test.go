package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"nhathuocpos/backend/internal/domain"
	"nhathuocpos/backend/internal/store"
)

func TestCreateOrderCommitsAtomically(t *testing.T) {
	databaseURL := os.Getenv("NHATHUOCPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set NHATHUOCPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	codeA := fmt.Sprintf("MED-IT-A-%d", stamp)
	codeB := fmt.Sprintf("MED-IT-B-%d", stamp)
	orderCode := fmt.Sprintf("HD-IT-%d", stamp)
	partyID := fmt.Sprintf("party-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_items WHERE order_code = $1`, orderCode)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE code = $1`, orderCode)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE code IN ($1, $2)`, codeA, codeB)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM parties WHERE id = $1`, partyID)
	})

	if _, err := s.UpsertProducts(ctx, []domain.Product{
		{Code: codeA, Name: "Integration A", Unit: "box", PriceCents: 1000, Stock: 10},
		{Code: codeB, Name: "Integration B", Unit: "box", PriceCents: 2000, Stock: 3},
	}); err != nil {
		t.Fatalf("seed products: %v", err)
	}
	if _, err := s.CreateParty(ctx, domain.Party{ID: partyID, Name: "Integration Party " + orderCode}); err != nil {
		t.Fatalf("seed party: %v", err)
	}

	// A failing line must leave every stock level untouched.
	_, err = s.CreateOrder(ctx, domain.Order{
		Code:      orderCode,
		PartyID:   partyID,
		PartyName: "Integration Party",
		Date:      "2026-08-30",
		Items: []domain.OrderItem{
			{ProductCode: codeA, ProductName: "Integration A", Qty: 5, UnitPriceCents: 1000},
			{ProductCode: codeB, ProductName: "Integration B", Qty: 4, UnitPriceCents: 2000},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	var stockA int
	if err := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE code = $1`, codeA).Scan(&stockA); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if stockA != 10 {
		t.Fatalf("expected stock 10 after aborted checkout, got %d", stockA)
	}

	created, err := s.CreateOrder(ctx, domain.Order{
		Code:       orderCode,
		PartyID:    partyID,
		PartyName:  "Integration Party",
		Date:       "2026-08-30",
		TotalCents: 5*1000 + 3*2000,
		Items: []domain.OrderItem{
			{ProductCode: codeA, ProductName: "Integration A", Qty: 5, UnitPriceCents: 1000},
			{ProductCode: codeB, ProductName: "Integration B", Qty: 3, UnitPriceCents: 2000},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE code = $1`, codeA).Scan(&stockA); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if stockA != 5 {
		t.Fatalf("expected stock 5 after checkout, got %d", stockA)
	}

	fetched, err := s.GetOrderByCode(ctx, created.Code)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if fetched.TotalCents != 11000 || len(fetched.Items) != 2 {
		t.Fatalf("unexpected order %+v", fetched)
	}

	// The committed order blocks both product and party deletion.
	if err := s.DeleteProduct(ctx, codeA); !errors.Is(err, store.ErrReferenced) {
		t.Fatalf("expected ErrReferenced deleting product, got %v", err)
	}
	if err := s.DeleteParty(ctx, partyID); !errors.Is(err, store.ErrReferenced) {
		t.Fatalf("expected ErrReferenced deleting party, got %v", err)
	}
}

package store

import (
	"context"
	"errors"
	"fmt"

	"nhathuocpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("invalid input")
	ErrReferenced        = errors.New("referenced by existing orders")
)

// InsufficientStockError reports which product failed the availability
// check and the shortfall. It unwraps to ErrInsufficientStock.
type InsufficientStockError struct {
	Code      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Code, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByCode(ctx context.Context, code string) (*domain.Product, error)
	// UpsertProducts inserts-or-overwrites by code (full-row overwrite, no
	// partial merge) and returns the number of rows written.
	UpsertProducts(ctx context.Context, products []domain.Product) (int, error)
	SetStock(ctx context.Context, code string, qty int) error
	AdjustStock(ctx context.Context, code string, delta int) (*domain.Product, error)
	DeleteProduct(ctx context.Context, code string) error
	ListLowStock(ctx context.Context, threshold int) ([]domain.Product, error)

	CreateParty(ctx context.Context, party domain.Party) (*domain.Party, error)
	ListParties(ctx context.Context) ([]domain.Party, error)
	GetPartyByID(ctx context.Context, id string) (*domain.Party, error)
	DeleteParty(ctx context.Context, id string) error
	EnsureWalkInParty(ctx context.Context) (*domain.Party, error)

	// CreateOrder commits the checkout: stock sufficiency re-checked under
	// the transaction boundary, per-line decrements, header and item
	// inserts, all-or-nothing.
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByCode(ctx context.Context, code string) (*domain.Order, error)
	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)

	RevenueByDay(ctx context.Context, from string, to string) ([]domain.RevenueRow, error)
	TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

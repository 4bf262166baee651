package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"nhathuocpos/backend/internal/domain"
	"nhathuocpos/backend/internal/store"
	"nhathuocpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			code        TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			unit        TEXT NOT NULL DEFAULT '',
			price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
			stock       INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS parties (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			phone      TEXT,
			email      TEXT,
			address    TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_parties_walkin
			ON parties (name) WHERE name = '` + domain.WalkInPartyName + `'`,
		`CREATE TABLE IF NOT EXISTS orders (
			code        TEXT PRIMARY KEY,
			party_id    TEXT NOT NULL REFERENCES parties(id),
			party_name  TEXT NOT NULL,
			order_date  DATE NOT NULL,
			note        TEXT NOT NULL DEFAULT '',
			total_cents BIGINT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id               BIGSERIAL PRIMARY KEY,
			order_code       TEXT NOT NULL REFERENCES orders(code),
			product_code     TEXT NOT NULL REFERENCES products(code),
			product_name     TEXT NOT NULL,
			qty              INTEGER NOT NULL CHECK (qty >= 1),
			unit_price_cents BIGINT NOT NULL CHECK (unit_price_cents >= 0)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_code)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_date ON orders (order_date)`,
		`CREATE TABLE IF NOT EXISTS users (
			username   TEXT PRIMARY KEY,
			password   TEXT NOT NULL,
			role       TEXT NOT NULL,
			active     BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, unit, price_cents, stock, created_at
		FROM products
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.Code, &p.Name, &p.Unit, &p.PriceCents, &p.Stock, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT code, name, unit, price_cents, stock, created_at
		FROM products
		WHERE code = $1
	`, code).Scan(&p.Code, &p.Name, &p.Unit, &p.PriceCents, &p.Stock, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) UpsertProducts(ctx context.Context, products []domain.Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	written := 0
	for _, p := range products {
		if p.Code == "" || p.Name == "" || p.PriceCents < 0 || p.Stock < 0 {
			return 0, store.ErrValidation
		}
		// Full-row overwrite; re-running the same batch twice leaves
		// price and stock unchanged.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (code, name, unit, price_cents, stock, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,now(),now())
			ON CONFLICT (code)
			DO UPDATE SET name = EXCLUDED.name, unit = EXCLUDED.unit,
				price_cents = EXCLUDED.price_cents, stock = EXCLUDED.stock,
				updated_at = now()
		`, p.Code, p.Name, p.Unit, p.PriceCents, p.Stock)
		if err != nil {
			return 0, err
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

func (s *Store) SetStock(ctx context.Context, code string, qty int) error {
	if code == "" || qty < 0 {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET stock = $2, updated_at = now() WHERE code = $1
	`, code, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, code string, delta int) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx, `
		SELECT stock FROM products WHERE code = $1 FOR UPDATE
	`, code).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if current+delta < 0 {
		return nil, &store.InsufficientStockError{Code: code, Requested: -delta, Available: current}
	}

	var p domain.Product
	err = tx.QueryRowContext(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE code = $1
		RETURNING code, name, unit, price_cents, stock, created_at
	`, code, delta).Scan(&p.Code, &p.Name, &p.Unit, &p.PriceCents, &p.Stock, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, code string) error {
	var referenced bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM order_items WHERE product_code = $1)
	`, code).Scan(&referenced)
	if err != nil {
		return err
	}
	if referenced {
		return store.ErrReferenced
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE code = $1`, code)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrReferenced
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListLowStock(ctx context.Context, threshold int) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, unit, price_cents, stock, created_at
		FROM products
		WHERE stock <= $1
		ORDER BY stock, code
	`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	low := make([]domain.Product, 0, 16)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.Code, &p.Name, &p.Unit, &p.PriceCents, &p.Stock, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		low = append(low, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return low, nil
}

func (s *Store) CreateParty(ctx context.Context, party domain.Party) (*domain.Party, error) {
	if party.Name == "" {
		return nil, store.ErrValidation
	}
	if party.ID == "" {
		party.ID = xid.New("party")
	}
	if party.CreatedAt.IsZero() {
		party.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parties (id, name, phone, email, address, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, party.ID, party.Name, nullIfEmpty(party.Phone), nullIfEmpty(party.Email), nullIfEmpty(party.Address), party.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}
	created := party
	return &created, nil
}

func (s *Store) ListParties(ctx context.Context) ([]domain.Party, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone,''), COALESCE(email,''), COALESCE(address,''), created_at
		FROM parties
		WHERE name <> $1
		ORDER BY name
	`, domain.WalkInPartyName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parties := make([]domain.Party, 0, 64)
	for rows.Next() {
		var p domain.Party
		if err := rows.Scan(&p.ID, &p.Name, &p.Phone, &p.Email, &p.Address, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		parties = append(parties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return parties, nil
}

func (s *Store) GetPartyByID(ctx context.Context, id string) (*domain.Party, error) {
	var p domain.Party
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(phone,''), COALESCE(email,''), COALESCE(address,''), created_at
		FROM parties
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Phone, &p.Email, &p.Address, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) DeleteParty(ctx context.Context, id string) error {
	var referenced bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE party_id = $1)
	`, id).Scan(&referenced)
	if err != nil {
		return err
	}
	if referenced {
		return store.ErrReferenced
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM parties WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrReferenced
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) EnsureWalkInParty(ctx context.Context) (*domain.Party, error) {
	var p domain.Party
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM parties WHERE name = $1 LIMIT 1
	`, domain.WalkInPartyName).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == nil {
		p.CreatedAt = p.CreatedAt.UTC()
		return &p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	party := domain.Party{
		ID:        xid.New("party"),
		Name:      domain.WalkInPartyName,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO parties (id, name, created_at)
		VALUES ($1,$2,$3)
		ON CONFLICT DO NOTHING
	`, party.ID, party.Name, party.CreatedAt)
	if err != nil {
		return nil, err
	}

	// Re-read in case a concurrent insert won the conflict.
	err = s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM parties WHERE name = $1 LIMIT 1
	`, domain.WalkInPartyName).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

// CreateOrder commits a checkout as one serializable transaction: the
// stock sufficiency check is re-run under FOR UPDATE row locks, then every
// decrement plus the header and item inserts either all commit or all roll
// back. Two simultaneous carts cannot oversubscribe the same stock.
func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.Code == "" || order.PartyID == "" || order.Date == "" || len(order.Items) == 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	needed := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		if item.ProductCode == "" || item.Qty < 1 || item.UnitPriceCents < 0 {
			return nil, store.ErrValidation
		}

		var stock int
		err := tx.QueryRowContext(ctx, `
			SELECT stock FROM products WHERE code = $1 FOR UPDATE
		`, item.ProductCode).Scan(&stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("product %s: %w", item.ProductCode, store.ErrNotFound)
			}
			return nil, err
		}

		needed[item.ProductCode] += item.Qty
		if needed[item.ProductCode] > stock {
			return nil, &store.InsufficientStockError{
				Code:      item.ProductCode,
				Requested: needed[item.ProductCode],
				Available: stock,
			}
		}
	}

	for code, qty := range needed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock - $2, updated_at = now() WHERE code = $1
		`, code, qty); err != nil {
			return nil, err
		}
	}

	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (code, party_id, party_name, order_date, note, total_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, order.Code, order.PartyID, order.PartyName, order.Date, order.Note, order.TotalCents, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_code, product_code, product_name, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, order.Code, item.ProductCode, item.ProductName, item.Qty, item.UnitPriceCents); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := order
	return &created, nil
}

func (s *Store) GetOrderByCode(ctx context.Context, code string) (*domain.Order, error) {
	var o domain.Order
	err := s.db.QueryRowContext(ctx, `
		SELECT code, party_id, party_name, order_date::text, note, total_cents, created_at
		FROM orders
		WHERE code = $1
	`, code).Scan(&o.Code, &o.PartyID, &o.PartyName, &o.Date, &o.Note, &o.TotalCents, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	o.CreatedAt = o.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_code, product_name, qty, unit_price_cents
		FROM order_items
		WHERE order_code = $1
		ORDER BY id
	`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductCode, &item.ProductName, &item.Qty, &item.UnitPriceCents); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT code, party_id, party_name, order_date::text, note, total_cents, created_at
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.Code, &o.PartyID, &o.PartyName, &o.Date, &o.Note, &o.TotalCents, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.CreatedAt = o.CreatedAt.UTC()
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) RevenueByDay(ctx context.Context, from string, to string) ([]domain.RevenueRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_date::text, COUNT(*), COALESCE(SUM(total_cents), 0)
		FROM orders
		WHERE order_date BETWEEN $1 AND $2
		GROUP BY order_date
		ORDER BY order_date
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.RevenueRow, 0, 32)
	for rows.Next() {
		var row domain.RevenueRow
		if err := rows.Scan(&row.Date, &row.Orders, &row.TotalCents); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error) {
	if limit < 1 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_code, product_name, SUM(qty), SUM(qty::bigint * unit_price_cents)
		FROM order_items
		GROUP BY product_code, product_name
		ORDER BY SUM(qty) DESC, product_code
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	top := make([]domain.TopProduct, 0, limit)
	for rows.Next() {
		var entry domain.TopProduct
		if err := rows.Scan(&entry.Code, &entry.Name, &entry.QtySold, &entry.RevenueCents); err != nil {
			return nil, err
		}
		top = append(top, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return top, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// Package sqlite stocke les commandes, le stock et les codes promo dans SQLite.
//
// Chaque unité de travail est une transaction BEGIN IMMEDIATE: le verrou
// d'écriture est pris dès l'ouverture, ce qui sérialise les checkouts concurrents.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"cedra_checkout/internal/models"
	"cedra_checkout/internal/storage"
	"cedra_checkout/internal/storage/sqlite/migrations"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// queryer est satisfait par *sql.DB et *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open ouvre (ou crée) la base et applique les migrations embarquées.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_txlock=immediate" +
		"&_pragma=busy_timeout(10000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithinTx ouvre une transaction immédiate et la valide seulement si fn réussit.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, &tx{q: sqlTx, now: s.now}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) FindCompletedCardOrder(ctx context.Context, shippingDetailID string, since time.Time) (*models.Order, error) {
	var orderID string
	err := s.db.QueryRowContext(ctx,
		`SELECT order_id FROM orders
		  WHERE shipping_detail_id = ?
		    AND payment_type = ?
		    AND payment_status = ?
		    AND created_at >= ?
		  ORDER BY created_at DESC
		  LIMIT 1`,
		shippingDetailID, string(models.PaymentTypeCard), string(models.PaymentStatusCompleted), toMillis(since),
	).Scan(&orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("find completed card order: %w", err)
	}
	return loadOrder(ctx, s.db, "order_id", orderID)
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return loadOrder(ctx, s.db, "order_id", orderID)
}

func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return loadOrder(ctx, s.db, "order_number", orderNumber)
}

func (s *Store) CreateShippingDetail(ctx context.Context, d *models.ShippingDetail) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shipping_details (
		   shipping_detail_id, user_id, full_name, email, phone,
		   street, city, postal_code, country, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, nullString(d.UserID), d.FullName, d.Email, d.Phone,
		d.Street, d.City, d.PostalCode, d.Country, toMillis(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create shipping detail: %w", err)
	}
	return nil
}

func (s *Store) GetShippingDetail(ctx context.Context, id string) (*models.ShippingDetail, error) {
	var (
		d         models.ShippingDetail
		userID    sql.NullString
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT shipping_detail_id, user_id, full_name, email, phone,
		        street, city, postal_code, country, created_at
		   FROM shipping_details WHERE shipping_detail_id = ?`, id,
	).Scan(&d.ID, &userID, &d.FullName, &d.Email, &d.Phone,
		&d.Street, &d.City, &d.PostalCode, &d.Country, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get shipping detail: %w", err)
	}
	d.UserID = stringPtr(userID)
	d.CreatedAt = fromMillis(createdAt)
	return &d, nil
}

func (s *Store) GetDiscountCodes(ctx context.Context, codes []string) (map[string]models.DiscountCode, error) {
	out := make(map[string]models.DiscountCode, len(codes))
	for _, raw := range codes {
		key := models.NormalizeCode(raw)
		code, err := getDiscountCode(ctx, s.db, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key] = code
	}
	return out, nil
}

func getDiscountCode(ctx context.Context, q queryer, code string) (models.DiscountCode, error) {
	var (
		d                    models.DiscountCode
		typ                  string
		remaining, expiresAt sql.NullInt64
		assigned             sql.NullString
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT code, type, value, is_active, remaining_uses, expires_at,
		        can_cumulate, assigned_user_id, created_at, updated_at
		   FROM discount_codes WHERE code = ?`, code,
	).Scan(&d.Code, &typ, &d.Value, &d.IsActive, &remaining, &expiresAt,
		&d.CanCumulate, &assigned, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DiscountCode{}, storage.ErrNotFound
		}
		return models.DiscountCode{}, fmt.Errorf("get discount code: %w", err)
	}
	d.Type = models.DiscountType(typ)
	if remaining.Valid {
		v := int(remaining.Int64)
		d.RemainingUses = &v
	}
	if expiresAt.Valid {
		t := fromMillis(expiresAt.Int64)
		d.ExpiresAt = &t
	}
	d.AssignedUserID = stringPtr(assigned)
	d.CreatedAt = fromMillis(createdAt)
	d.UpdatedAt = fromMillis(updatedAt)
	return d, nil
}

// loadOrder charge l'agrégat complet d'une commande (lignes, bundles, remises).
func loadOrder(ctx context.Context, q queryer, column, value string) (*models.Order, error) {
	var (
		o                    models.Order
		userID               sql.NullString
		paymentStatus        string
		orderStatus          string
		paymentType          string
		orderType            string
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT order_id, order_number, user_id, total, subtotal, shipping_cost,
		        payment_status, order_status, payment_type, order_type,
		        payment_reference, courier, tracking_number, shipping_detail_id,
		        created_at, updated_at
		   FROM orders WHERE `+column+` = ?`, value,
	).Scan(&o.ID, &o.OrderNumber, &userID, &o.Total, &o.Subtotal, &o.ShippingCost,
		&paymentStatus, &orderStatus, &paymentType, &orderType,
		&o.PaymentReference, &o.Courier, &o.TrackingNumber, &o.ShippingDetailID,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.UserID = stringPtr(userID)
	o.PaymentStatus = models.PaymentStatus(paymentStatus)
	o.OrderStatus = models.OrderStatus(orderStatus)
	o.PaymentType = models.PaymentType(paymentType)
	o.OrderType = models.OrderType(orderType)
	o.CreatedAt = fromMillis(createdAt)
	o.UpdatedAt = fromMillis(updatedAt)

	rows, err := q.QueryContext(ctx,
		`SELECT product_id, quantity, size, color, unit_price
		   FROM order_line_items WHERE order_id = ? ORDER BY position`, o.ID)
	if err != nil {
		return nil, fmt.Errorf("get order line items: %w", err)
	}
	for rows.Next() {
		var item models.OrderLineItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.Size, &item.Color, &item.UnitPrice); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order line item: %w", err)
		}
		o.LineItems = append(o.LineItems, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get order line items: %w", err)
	}

	rows, err = q.QueryContext(ctx,
		`SELECT bundle_id, quantity, unit_price
		   FROM order_bundle_items WHERE order_id = ? ORDER BY position`, o.ID)
	if err != nil {
		return nil, fmt.Errorf("get order bundle items: %w", err)
	}
	for rows.Next() {
		var item models.OrderBundleItem
		if err := rows.Scan(&item.BundleID, &item.Quantity, &item.UnitPrice); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order bundle item: %w", err)
		}
		o.BundleItems = append(o.BundleItems, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get order bundle items: %w", err)
	}

	rows, err = q.QueryContext(ctx,
		`SELECT code, type, value, amount
		   FROM order_discounts WHERE order_id = ? ORDER BY rowid`, o.ID)
	if err != nil {
		return nil, fmt.Errorf("get order discounts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			applied models.AppliedDiscount
			typ     string
		)
		if err := rows.Scan(&applied.Code, &typ, &applied.Value, &applied.Amount); err != nil {
			return nil, fmt.Errorf("scan order discount: %w", err)
		}
		applied.Type = models.DiscountType(typ)
		o.Discounts = append(o.Discounts, applied)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get order discounts: %w", err)
	}
	return &o, nil
}

// Catalog

// GetVariant, GetProduct et GetBundle lisent le catalogue hors transaction.
func (s *Store) GetVariant(ctx context.Context, productID, size, color string) (models.InventoryRecord, error) {
	return s.reader().GetVariant(ctx, productID, size, color)
}

func (s *Store) GetProduct(ctx context.Context, productID string) (models.InventoryRecord, error) {
	return s.reader().GetProduct(ctx, productID)
}

func (s *Store) GetBundle(ctx context.Context, bundleID string) (models.Bundle, error) {
	return s.reader().GetBundle(ctx, bundleID)
}

func (s *Store) reader() *tx { return &tx{q: s.db, now: s.now} }

func (s *Store) UpsertProduct(ctx context.Context, r models.InventoryRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (product_id, name, price, quantity, allow_backorder, low_stock_threshold)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (product_id) DO UPDATE SET
		   name = excluded.name,
		   price = excluded.price,
		   quantity = excluded.quantity,
		   allow_backorder = excluded.allow_backorder,
		   low_stock_threshold = excluded.low_stock_threshold`,
		r.Ref.ID, r.Name, r.Price.String(), r.Quantity, r.AllowBackorder, r.LowStockThreshold)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (s *Store) UpsertVariant(ctx context.Context, r models.InventoryRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO product_variants (product_id, size, color, price, quantity, allow_backorder, low_stock_threshold)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (product_id, size, color) DO UPDATE SET
		   price = excluded.price,
		   quantity = excluded.quantity,
		   allow_backorder = excluded.allow_backorder,
		   low_stock_threshold = excluded.low_stock_threshold`,
		r.Ref.ID, r.Ref.Size, r.Ref.Color, variantPrice(r.Price), r.Quantity, r.AllowBackorder, r.LowStockThreshold)
	if err != nil {
		return fmt.Errorf("upsert variant: %w", err)
	}
	return nil
}

// UpsertBundle remplace le compteur du bundle et sa composition.
func (s *Store) UpsertBundle(ctx context.Context, b models.Bundle) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	inv := b.Inventory
	if _, err := sqlTx.ExecContext(ctx,
		`INSERT INTO bundles (bundle_id, name, price, quantity, allow_backorder, low_stock_threshold)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (bundle_id) DO UPDATE SET
		   name = excluded.name,
		   price = excluded.price,
		   quantity = excluded.quantity,
		   allow_backorder = excluded.allow_backorder,
		   low_stock_threshold = excluded.low_stock_threshold`,
		b.ID, b.Name, inv.Price.String(), inv.Quantity, inv.AllowBackorder, inv.LowStockThreshold); err != nil {
		return fmt.Errorf("upsert bundle: %w", err)
	}
	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM bundle_products WHERE bundle_id = ?`, b.ID); err != nil {
		return fmt.Errorf("reset bundle products: %w", err)
	}
	for _, item := range b.Items {
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT INTO bundle_products (bundle_id, product_id, size, color, quantity)
			 VALUES (?, ?, ?, ?, ?)`,
			b.ID, item.ProductID, item.Size, item.Color, item.Quantity); err != nil {
			return fmt.Errorf("insert bundle product: %w", err)
		}
	}
	return sqlTx.Commit()
}

func (s *Store) UpsertDiscountCode(ctx context.Context, d models.DiscountCode) error {
	now := s.now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	var remaining, expiresAt sql.NullInt64
	if d.RemainingUses != nil {
		remaining = sql.NullInt64{Int64: int64(*d.RemainingUses), Valid: true}
	}
	if d.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: toMillis(*d.ExpiresAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discount_codes (
		   code, type, value, is_active, remaining_uses, expires_at,
		   can_cumulate, assigned_user_id, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (code) DO UPDATE SET
		   type = excluded.type,
		   value = excluded.value,
		   is_active = excluded.is_active,
		   remaining_uses = excluded.remaining_uses,
		   expires_at = excluded.expires_at,
		   can_cumulate = excluded.can_cumulate,
		   assigned_user_id = excluded.assigned_user_id,
		   updated_at = excluded.updated_at`,
		models.NormalizeCode(d.Code), string(d.Type), d.Value.String(), d.IsActive, remaining, expiresAt,
		d.CanCumulate, nullString(d.AssignedUserID), toMillis(d.CreatedAt), toMillis(now))
	if err != nil {
		return fmt.Errorf("upsert discount code: %w", err)
	}
	return nil
}

func (s *Store) GetInventory(ctx context.Context, ref models.InventoryRef) (models.InventoryRecord, error) {
	return getInventory(ctx, s.db, ref)
}

func (s *Store) ListStockMovements(ctx context.Context, orderID string) ([]models.StockMovement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, item_id, size, color, type, quantity, prev_stock, new_stock, order_id, created_at
		   FROM stock_movements WHERE order_id = ? ORDER BY rowid`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	var out []models.StockMovement
	for rows.Next() {
		var (
			m         models.StockMovement
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &kind, &m.Ref.ID, &m.Ref.Size, &m.Ref.Color, &m.Type,
			&m.Quantity, &m.PrevStock, &m.NewStock, &m.OrderID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		m.Ref.Kind = models.InventoryKind(kind)
		m.CreatedAt = fromMillis(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func getInventory(ctx context.Context, q queryer, ref models.InventoryRef) (models.InventoryRecord, error) {
	var (
		query string
		args  []any
	)
	switch ref.Kind {
	case models.InventoryVariant:
		query = `SELECT COALESCE(p.name, ''), COALESCE(v.price, p.price, '0'),
		                v.quantity, v.allow_backorder, v.low_stock_threshold
		           FROM product_variants v LEFT JOIN products p ON p.product_id = v.product_id
		          WHERE v.product_id = ? AND v.size = ? AND v.color = ?`
		args = []any{ref.ID, ref.Size, ref.Color}
	case models.InventoryProduct:
		query = `SELECT name, price, quantity, allow_backorder, low_stock_threshold
		           FROM products WHERE product_id = ?`
		args = []any{ref.ID}
	case models.InventoryBundle:
		query = `SELECT name, price, quantity, allow_backorder, low_stock_threshold
		           FROM bundles WHERE bundle_id = ?`
		args = []any{ref.ID}
	default:
		return models.InventoryRecord{}, fmt.Errorf("unknown inventory kind %q", ref.Kind)
	}

	rec := models.InventoryRecord{Ref: ref}
	err := q.QueryRowContext(ctx, query, args...).
		Scan(&rec.Name, &rec.Price, &rec.Quantity, &rec.AllowBackorder, &rec.LowStockThreshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.InventoryRecord{}, storage.ErrNotFound
		}
		return models.InventoryRecord{}, fmt.Errorf("get inventory %s: %w", ref, err)
	}
	return rec, nil
}

// variantPrice stocke NULL pour un variant qui reprend le prix du produit.
func variantPrice(price decimal.Decimal) sql.NullString {
	if price.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: price.String(), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// uniqueViolation retourne la colonne en conflit, ou "" si err n'est pas une violation d'unicité.
func uniqueViolation(err error) string {
	if err == nil {
		return ""
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		default:
			return ""
		}
	}
	message := strings.ToLower(err.Error())
	if !strings.Contains(message, "unique constraint failed") {
		return ""
	}
	_, column, _ := strings.Cut(message, "unique constraint failed:")
	column = strings.TrimSpace(column)
	if i := strings.IndexAny(column, " ("); i >= 0 {
		column = column[:i]
	}
	return column
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Catalog = (*Store)(nil)
)

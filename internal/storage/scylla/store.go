// Package scylla implémente le stockage du pipeline sur ScyllaDB.
//
// Les unicités (numéro de commande, fiche de livraison) et les décréments
// de stock passent par des écritures conditionnelles (LWT). L'atomicité d'une
// unité de travail repose sur un journal de compensation.
package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cedra_checkout/internal/models"
	"cedra_checkout/internal/storage"
)

// maxCASAttempts borne les relectures quand un LWT perd la course.
const maxCASAttempts = 8

type Store struct {
	products *gocql.Session
	orders   *gocql.Session
	logger   *zap.Logger
	now      func() time.Time
}

// New attend une session par keyspace (produits, commandes).
func New(products, orders *gocql.Session, logger *zap.Logger) *Store {
	return &Store{products: products, orders: orders, logger: logger, now: time.Now}
}

// Close ne ferme rien: les sessions appartiennent au ScyllaManager.
func (s *Store) Close() error { return nil }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	j := &journal{}
	err := fn(ctx, &tx{s: s, j: j})
	if err == nil {
		return nil
	}
	if j.len() == 0 {
		return err
	}
	if rbErr := j.rollback(context.WithoutCancel(ctx)); rbErr != nil {
		s.logger.Error("❌ Compensation incomplète après échec", zap.Error(err), zap.NamedError("compensation", rbErr))
		return errors.Join(err, rbErr)
	}
	s.logger.Info("↩️ Unité de travail annulée", zap.Error(err))
	return err
}

func (s *Store) FindCompletedCardOrder(ctx context.Context, shippingDetailID string, since time.Time) (*models.Order, error) {
	var (
		orderID, paymentType, paymentStatus string
		createdAt                           time.Time
	)
	err := s.orders.Query(
		`SELECT order_id, payment_type, payment_status, created_at
		   FROM orders_by_shipping_detail WHERE shipping_detail_id = ?`, shippingDetailID,
	).WithContext(ctx).Scan(&orderID, &paymentType, &paymentStatus, &createdAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("find completed card order: %w", err)
	}
	if paymentType != string(models.PaymentTypeCard) ||
		paymentStatus != string(models.PaymentStatusCompleted) ||
		createdAt.Before(since) {
		return nil, storage.ErrNotFound
	}
	return s.getOrder(ctx, orderID)
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.getOrder(ctx, orderID)
}

func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var orderID string
	err := s.orders.Query(`SELECT order_id FROM orders_by_number WHERE order_number = ?`, orderNumber).
		WithContext(ctx).Scan(&orderID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get order by number: %w", err)
	}
	return s.getOrder(ctx, orderID)
}

func (s *Store) getOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var (
		o                                 models.Order
		userID                            *string
		total, subtotal, shipping         string
		paymentStatus, orderStatus        string
		paymentType, orderType            string
		lineItems, bundleItems, discounts string
	)
	err := s.orders.Query(
		`SELECT order_id, order_number, user_id, total, subtotal, shipping_cost,
		        payment_status, order_status, payment_type, order_type,
		        payment_reference, courier, tracking_number, shipping_detail_id,
		        line_items, bundle_items, discounts, created_at, updated_at
		   FROM orders WHERE order_id = ?`, orderID,
	).WithContext(ctx).Scan(&o.ID, &o.OrderNumber, &userID, &total, &subtotal, &shipping,
		&paymentStatus, &orderStatus, &paymentType, &orderType,
		&o.PaymentReference, &o.Courier, &o.TrackingNumber, &o.ShippingDetailID,
		&lineItems, &bundleItems, &discounts, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.UserID = userID
	o.PaymentStatus = models.PaymentStatus(paymentStatus)
	o.OrderStatus = models.OrderStatus(orderStatus)
	o.PaymentType = models.PaymentType(paymentType)
	o.OrderType = models.OrderType(orderType)
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("order %s total: %w", orderID, err)
	}
	if o.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, fmt.Errorf("order %s subtotal: %w", orderID, err)
	}
	if o.ShippingCost, err = decimal.NewFromString(shipping); err != nil {
		return nil, fmt.Errorf("order %s shipping: %w", orderID, err)
	}
	if err := decodeJSON(lineItems, &o.LineItems); err != nil {
		return nil, fmt.Errorf("order %s line items: %w", orderID, err)
	}
	if err := decodeJSON(bundleItems, &o.BundleItems); err != nil {
		return nil, fmt.Errorf("order %s bundle items: %w", orderID, err)
	}
	if err := decodeJSON(discounts, &o.Discounts); err != nil {
		return nil, fmt.Errorf("order %s discounts: %w", orderID, err)
	}
	return &o, nil
}

func decodeJSON(raw string, dest any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

func (s *Store) CreateShippingDetail(ctx context.Context, d *models.ShippingDetail) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now().UTC()
	}
	err := s.orders.Query(
		`INSERT INTO shipping_details (
		   shipping_detail_id, user_id, full_name, email, phone,
		   street, city, postal_code, country, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.FullName, d.Email, d.Phone,
		d.Street, d.City, d.PostalCode, d.Country, d.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("create shipping detail: %w", err)
	}
	return nil
}

func (s *Store) GetShippingDetail(ctx context.Context, id string) (*models.ShippingDetail, error) {
	var d models.ShippingDetail
	err := s.orders.Query(
		`SELECT shipping_detail_id, user_id, full_name, email, phone,
		        street, city, postal_code, country, created_at
		   FROM shipping_details WHERE shipping_detail_id = ?`, id,
	).WithContext(ctx).Scan(&d.ID, &d.UserID, &d.FullName, &d.Email, &d.Phone,
		&d.Street, &d.City, &d.PostalCode, &d.Country, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get shipping detail: %w", err)
	}
	return &d, nil
}

func (s *Store) GetDiscountCodes(ctx context.Context, codes []string) (map[string]models.DiscountCode, error) {
	out := make(map[string]models.DiscountCode, len(codes))
	for _, raw := range codes {
		key := models.NormalizeCode(raw)
		code, err := s.getDiscountCode(ctx, key)
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

func (s *Store) getDiscountCode(ctx context.Context, code string) (models.DiscountCode, error) {
	var (
		d          models.DiscountCode
		typ, value string
	)
	err := s.orders.Query(
		`SELECT code, type, value, is_active, remaining_uses, expires_at,
		        can_cumulate, assigned_user_id, created_at, updated_at
		   FROM discount_codes WHERE code = ?`, code,
	).WithContext(ctx).Scan(&d.Code, &typ, &value, &d.IsActive, &d.RemainingUses, &d.ExpiresAt,
		&d.CanCumulate, &d.AssignedUserID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return models.DiscountCode{}, storage.ErrNotFound
		}
		return models.DiscountCode{}, fmt.Errorf("get discount code: %w", err)
	}
	d.Type = models.DiscountType(typ)
	if d.Value, err = decimal.NewFromString(value); err != nil {
		return models.DiscountCode{}, fmt.Errorf("discount %s value: %w", code, err)
	}
	return d, nil
}

// counter décrit où vit un compteur de stock.
type counter struct {
	table string
	where string
	args  []any
}

func counterFor(ref models.InventoryRef) (counter, error) {
	switch ref.Kind {
	case models.InventoryVariant:
		return counter{"product_variants", "product_id = ? AND size = ? AND color = ?", []any{ref.ID, ref.Size, ref.Color}}, nil
	case models.InventoryProduct:
		return counter{"products", "product_id = ?", []any{ref.ID}}, nil
	case models.InventoryBundle:
		return counter{"bundles", "bundle_id = ?", []any{ref.ID}}, nil
	}
	return counter{}, fmt.Errorf("unknown inventory kind %q", ref.Kind)
}

func (s *Store) GetInventory(ctx context.Context, ref models.InventoryRef) (models.InventoryRecord, error) {
	c, err := counterFor(ref)
	if err != nil {
		return models.InventoryRecord{}, err
	}
	var (
		rec   = models.InventoryRecord{Ref: ref}
		price string
	)
	if ref.Kind == models.InventoryVariant {
		err = s.products.Query(
			`SELECT price, quantity, allow_backorder, low_stock_threshold FROM `+c.table+` WHERE `+c.where, c.args...,
		).WithContext(ctx).Scan(&price, &rec.Quantity, &rec.AllowBackorder, &rec.LowStockThreshold)
	} else {
		err = s.products.Query(
			`SELECT name, price, quantity, allow_backorder, low_stock_threshold FROM `+c.table+` WHERE `+c.where, c.args...,
		).WithContext(ctx).Scan(&rec.Name, &price, &rec.Quantity, &rec.AllowBackorder, &rec.LowStockThreshold)
	}
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return models.InventoryRecord{}, storage.ErrNotFound
		}
		return models.InventoryRecord{}, fmt.Errorf("get inventory %s: %w", ref, err)
	}

	if ref.Kind == models.InventoryVariant && price == "" {
		// pas de prix propre: celui du produit
		err = s.products.Query(`SELECT name, price FROM products WHERE product_id = ?`, ref.ID).
			WithContext(ctx).Scan(&rec.Name, &price)
		if err != nil && !errors.Is(err, gocql.ErrNotFound) {
			return models.InventoryRecord{}, fmt.Errorf("get product price %s: %w", ref.ID, err)
		}
	}
	if rec.Price, err = parsePrice(price); err != nil {
		return models.InventoryRecord{}, fmt.Errorf("inventory %s price: %w", ref, err)
	}
	return rec, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// priceColumn écrit null pour un prix nul (variant qui reprend le prix du produit).
func priceColumn(price decimal.Decimal) *string {
	if price.IsZero() {
		return nil
	}
	v := price.String()
	return &v
}

func (s *Store) GetVariant(ctx context.Context, productID, size, color string) (models.InventoryRecord, error) {
	return s.GetInventory(ctx, models.InventoryRef{Kind: models.InventoryVariant, ID: productID, Size: size, Color: color})
}

func (s *Store) GetProduct(ctx context.Context, productID string) (models.InventoryRecord, error) {
	return s.GetInventory(ctx, models.InventoryRef{Kind: models.InventoryProduct, ID: productID})
}

func (s *Store) GetBundle(ctx context.Context, bundleID string) (models.Bundle, error) {
	inv, err := s.GetInventory(ctx, models.InventoryRef{Kind: models.InventoryBundle, ID: bundleID})
	if err != nil {
		return models.Bundle{}, err
	}
	bundle := models.Bundle{ID: bundleID, Name: inv.Name, Inventory: inv}

	iter := s.products.Query(
		`SELECT product_id, size, color, quantity FROM bundle_products WHERE bundle_id = ?`, bundleID,
	).WithContext(ctx).Iter()
	var item models.BundleProduct
	for iter.Scan(&item.ProductID, &item.Size, &item.Color, &item.Quantity) {
		bundle.Items = append(bundle.Items, item)
	}
	if err := iter.Close(); err != nil {
		return models.Bundle{}, fmt.Errorf("get bundle products: %w", err)
	}
	return bundle, nil
}

// adjustStock applique delta au compteur par compare-and-set.
// Avec guard, un décrément qui rendrait le stock négatif sans backorder est refusé.
func (s *Store) adjustStock(ctx context.Context, ref models.InventoryRef, delta int, guard bool) (prev int, rec models.InventoryRecord, err error) {
	c, err := counterFor(ref)
	if err != nil {
		return 0, models.InventoryRecord{}, err
	}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.GetInventory(ctx, ref)
		if err != nil {
			return 0, models.InventoryRecord{}, err
		}
		if guard && delta < 0 && !current.AllowBackorder && current.Quantity < -delta {
			return 0, models.InventoryRecord{}, &storage.StockShortage{Ref: ref, Available: current.Quantity}
		}

		next := current.Quantity + delta
		args := append([]any{next}, c.args...)
		args = append(args, current.Quantity)
		applied, err := s.products.Query(
			`UPDATE `+c.table+` SET quantity = ? WHERE `+c.where+` IF quantity = ?`, args...,
		).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return 0, models.InventoryRecord{}, fmt.Errorf("adjust %s: %w", ref, err)
		}
		if applied {
			rec = current
			rec.Quantity = next
			return current.Quantity, rec, nil
		}
	}
	return 0, models.InventoryRecord{}, fmt.Errorf("adjust %s: %w", ref, storage.ErrConcurrentUpdate)
}

func (s *Store) UpsertProduct(ctx context.Context, r models.InventoryRecord) error {
	err := s.products.Query(
		`INSERT INTO products (product_id, name, price, quantity, allow_backorder, low_stock_threshold)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.Ref.ID, r.Name, r.Price.String(), r.Quantity, r.AllowBackorder, r.LowStockThreshold,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (s *Store) UpsertVariant(ctx context.Context, r models.InventoryRecord) error {
	err := s.products.Query(
		`INSERT INTO product_variants (product_id, size, color, price, quantity, allow_backorder, low_stock_threshold)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Ref.ID, r.Ref.Size, r.Ref.Color, priceColumn(r.Price), r.Quantity, r.AllowBackorder, r.LowStockThreshold,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("upsert variant: %w", err)
	}
	return nil
}

func (s *Store) UpsertBundle(ctx context.Context, b models.Bundle) error {
	batch := s.products.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO bundles (bundle_id, name, price, quantity, allow_backorder, low_stock_threshold)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Inventory.Price.String(), b.Inventory.Quantity, b.Inventory.AllowBackorder, b.Inventory.LowStockThreshold)
	batch.Query(`DELETE FROM bundle_products WHERE bundle_id = ?`, b.ID)
	for _, item := range b.Items {
		batch.Query(`INSERT INTO bundle_products (bundle_id, product_id, size, color, quantity)
			VALUES (?, ?, ?, ?, ?)`, b.ID, item.ProductID, item.Size, item.Color, item.Quantity)
	}
	if err := s.products.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("upsert bundle: %w", err)
	}
	return nil
}

func (s *Store) UpsertDiscountCode(ctx context.Context, d models.DiscountCode) error {
	now := s.now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	err := s.orders.Query(
		`INSERT INTO discount_codes (
		   code, type, value, is_active, remaining_uses, expires_at,
		   can_cumulate, assigned_user_id, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		models.NormalizeCode(d.Code), string(d.Type), d.Value.String(), d.IsActive, d.RemainingUses, d.ExpiresAt,
		d.CanCumulate, d.AssignedUserID, d.CreatedAt, now,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("upsert discount code: %w", err)
	}
	return nil
}

func (s *Store) ListStockMovements(ctx context.Context, orderID string) ([]models.StockMovement, error) {
	iter := s.orders.Query(
		`SELECT id, kind, item_id, size, color, type, quantity, prev_stock, new_stock, created_at
		   FROM stock_movements WHERE order_id = ?`, orderID,
	).WithContext(ctx).Iter()

	var (
		out  []models.StockMovement
		m    models.StockMovement
		kind string
	)
	for iter.Scan(&m.ID, &kind, &m.Ref.ID, &m.Ref.Size, &m.Ref.Color, &m.Type,
		&m.Quantity, &m.PrevStock, &m.NewStock, &m.CreatedAt) {
		m.Ref.Kind = models.InventoryKind(kind)
		m.OrderID = orderID
		out = append(out, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	return out, nil
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Catalog = (*Store)(nil)
)

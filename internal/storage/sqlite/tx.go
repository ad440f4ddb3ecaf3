package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cedra_checkout/internal/models"
	"cedra_checkout/internal/storage"
)

type tx struct {
	q   queryer
	now func() time.Time
}

func (t *tx) GetVariant(ctx context.Context, productID, size, color string) (models.InventoryRecord, error) {
	return getInventory(ctx, t.q, models.InventoryRef{Kind: models.InventoryVariant, ID: productID, Size: size, Color: color})
}

func (t *tx) GetProduct(ctx context.Context, productID string) (models.InventoryRecord, error) {
	return getInventory(ctx, t.q, models.InventoryRef{Kind: models.InventoryProduct, ID: productID})
}

func (t *tx) GetBundle(ctx context.Context, bundleID string) (models.Bundle, error) {
	inv, err := getInventory(ctx, t.q, models.InventoryRef{Kind: models.InventoryBundle, ID: bundleID})
	if err != nil {
		return models.Bundle{}, err
	}
	bundle := models.Bundle{ID: bundleID, Name: inv.Name, Inventory: inv}

	rows, err := t.q.QueryContext(ctx,
		`SELECT product_id, size, color, quantity
		   FROM bundle_products WHERE bundle_id = ? ORDER BY product_id, size, color`, bundleID)
	if err != nil {
		return models.Bundle{}, fmt.Errorf("get bundle products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item models.BundleProduct
		if err := rows.Scan(&item.ProductID, &item.Size, &item.Color, &item.Quantity); err != nil {
			return models.Bundle{}, fmt.Errorf("scan bundle product: %w", err)
		}
		bundle.Items = append(bundle.Items, item)
	}
	return bundle, rows.Err()
}

// DecrementStock applique "décrémenter si disponible" en un seul UPDATE.
func (t *tx) DecrementStock(ctx context.Context, ref models.InventoryRef, quantity int) (models.InventoryRecord, error) {
	var (
		query string
		args  []any
	)
	switch ref.Kind {
	case models.InventoryVariant:
		query = `UPDATE product_variants SET quantity = quantity - ?
		          WHERE product_id = ? AND size = ? AND color = ?
		            AND (allow_backorder = 1 OR quantity >= ?)
		      RETURNING quantity, allow_backorder, low_stock_threshold`
		args = []any{quantity, ref.ID, ref.Size, ref.Color, quantity}
	case models.InventoryProduct:
		query = `UPDATE products SET quantity = quantity - ?
		          WHERE product_id = ?
		            AND (allow_backorder = 1 OR quantity >= ?)
		      RETURNING quantity, allow_backorder, low_stock_threshold`
		args = []any{quantity, ref.ID, quantity}
	case models.InventoryBundle:
		query = `UPDATE bundles SET quantity = quantity - ?
		          WHERE bundle_id = ?
		            AND (allow_backorder = 1 OR quantity >= ?)
		      RETURNING quantity, allow_backorder, low_stock_threshold`
		args = []any{quantity, ref.ID, quantity}
	default:
		return models.InventoryRecord{}, fmt.Errorf("unknown inventory kind %q", ref.Kind)
	}

	rec := models.InventoryRecord{Ref: ref}
	err := t.q.QueryRowContext(ctx, query, args...).Scan(&rec.Quantity, &rec.AllowBackorder, &rec.LowStockThreshold)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.InventoryRecord{}, fmt.Errorf("decrement %s: %w", ref, err)
	}

	current, err := getInventory(ctx, t.q, ref)
	if err != nil {
		return models.InventoryRecord{}, err
	}
	return models.InventoryRecord{}, &storage.StockShortage{Ref: ref, Available: current.Quantity}
}

func (t *tx) RecordStockMovement(ctx context.Context, m models.StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t.now().UTC()
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO stock_movements (
		   id, kind, item_id, size, color, type, quantity, prev_stock, new_stock, order_id, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Ref.Kind), m.Ref.ID, m.Ref.Size, m.Ref.Color, m.Type,
		m.Quantity, m.PrevStock, m.NewStock, m.OrderID, toMillis(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("record stock movement: %w", err)
	}
	return nil
}

func (t *tx) OrderForShippingDetail(ctx context.Context, shippingDetailID string) (*models.Order, error) {
	var orderID string
	err := t.q.QueryRowContext(ctx,
		`SELECT order_id FROM orders WHERE shipping_detail_id = ? ORDER BY created_at LIMIT 1`,
		shippingDetailID).Scan(&orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("order for shipping detail: %w", err)
	}
	return loadOrder(ctx, t.q, "order_id", orderID)
}

func (t *tx) InsertOrder(ctx context.Context, o *models.Order) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO orders (
		   order_id, order_number, user_id, total, subtotal, shipping_cost,
		   payment_status, order_status, payment_type, order_type,
		   payment_reference, courier, tracking_number, shipping_detail_id,
		   created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.OrderNumber, nullString(o.UserID), o.Total.String(), o.Subtotal.String(), o.ShippingCost.String(),
		string(o.PaymentStatus), string(o.OrderStatus), string(o.PaymentType), string(o.OrderType),
		o.PaymentReference, o.Courier, o.TrackingNumber, o.ShippingDetailID,
		toMillis(o.CreatedAt), toMillis(o.UpdatedAt))
	if err != nil {
		switch uniqueViolation(err) {
		case "orders.order_number":
			return storage.ErrDuplicateOrderNumber
		case "orders.shipping_detail_id":
			return storage.ErrDuplicateCompletedCheckout
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range o.LineItems {
		if _, err := t.q.ExecContext(ctx,
			`INSERT INTO order_line_items (order_id, position, product_id, quantity, size, color, unit_price)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			o.ID, i, item.ProductID, item.Quantity, item.Size, item.Color, item.UnitPrice.String()); err != nil {
			return fmt.Errorf("insert order line item: %w", err)
		}
	}
	for i, item := range o.BundleItems {
		if _, err := t.q.ExecContext(ctx,
			`INSERT INTO order_bundle_items (order_id, position, bundle_id, quantity, unit_price)
			 VALUES (?, ?, ?, ?, ?)`,
			o.ID, i, item.BundleID, item.Quantity, item.UnitPrice.String()); err != nil {
			return fmt.Errorf("insert order bundle item: %w", err)
		}
	}
	for _, d := range o.Discounts {
		if _, err := t.q.ExecContext(ctx,
			`INSERT INTO order_discounts (order_id, code, type, value, amount)
			 VALUES (?, ?, ?, ?, ?)`,
			o.ID, d.Code, string(d.Type), d.Value.String(), d.Amount.String()); err != nil {
			return fmt.Errorf("insert order discount: %w", err)
		}
	}
	return nil
}

// ConsumeDiscountUse retire une utilisation à un code limité. Sans effet sur un code illimité.
func (t *tx) ConsumeDiscountUse(ctx context.Context, code string) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE discount_codes
		    SET remaining_uses = remaining_uses - 1, updated_at = ?
		  WHERE code = ? AND remaining_uses IS NOT NULL AND remaining_uses > 0`,
		toMillis(t.now()), code)
	if err != nil {
		return fmt.Errorf("consume discount use: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("consume discount use: %w", err)
	} else if n == 1 {
		return nil
	}

	current, err := getDiscountCode(ctx, t.q, code)
	if err != nil {
		return err
	}
	if current.RemainingUses == nil {
		return nil
	}
	return storage.ErrDiscountExhausted
}

func (t *tx) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return loadOrder(ctx, t.q, "order_id", orderID)
}

func (t *tx) UpdateOrderStatus(ctx context.Context, o *models.Order, from models.OrderStatus) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE orders
		    SET order_status = ?, payment_status = ?, courier = ?, tracking_number = ?, updated_at = ?
		  WHERE order_id = ? AND order_status = ?`,
		string(o.OrderStatus), string(o.PaymentStatus), o.Courier, o.TrackingNumber, toMillis(o.UpdatedAt),
		o.ID, string(from))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n == 0 {
		if _, err := loadOrder(ctx, t.q, "order_id", o.ID); err != nil {
			return err
		}
		return storage.ErrConcurrentUpdate
	}
	return nil
}

var _ storage.Tx = (*tx)(nil)

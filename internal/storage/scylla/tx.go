package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"cedra_checkout/internal/models"
	"cedra_checkout/internal/storage"
)

// tx enregistre l'inverse de chaque écriture dans le journal.
type tx struct {
	s *Store
	j *journal
}

func (t *tx) GetVariant(ctx context.Context, productID, size, color string) (models.InventoryRecord, error) {
	return t.s.GetVariant(ctx, productID, size, color)
}

func (t *tx) GetProduct(ctx context.Context, productID string) (models.InventoryRecord, error) {
	return t.s.GetProduct(ctx, productID)
}

func (t *tx) GetBundle(ctx context.Context, bundleID string) (models.Bundle, error) {
	return t.s.GetBundle(ctx, bundleID)
}

func (t *tx) DecrementStock(ctx context.Context, ref models.InventoryRef, quantity int) (models.InventoryRecord, error) {
	_, rec, err := t.s.adjustStock(ctx, ref, -quantity, true)
	if err != nil {
		return models.InventoryRecord{}, err
	}
	t.j.push("stock "+ref.String(), func(ctx context.Context) error {
		_, _, err := t.s.adjustStock(ctx, ref, quantity, false)
		return err
	})
	return rec, nil
}

func (t *tx) RecordStockMovement(ctx context.Context, m models.StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t.s.now().UTC()
	}
	err := t.s.orders.Query(
		`INSERT INTO stock_movements (
		   order_id, id, kind, item_id, size, color, type, quantity, prev_stock, new_stock, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.OrderID, m.ID, string(m.Ref.Kind), m.Ref.ID, m.Ref.Size, m.Ref.Color, m.Type,
		m.Quantity, m.PrevStock, m.NewStock, m.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("record stock movement: %w", err)
	}
	t.j.push("movement "+m.ID, func(ctx context.Context) error {
		return t.s.orders.Query(`DELETE FROM stock_movements WHERE order_id = ? AND id = ?`, m.OrderID, m.ID).
			WithContext(ctx).Exec()
	})
	return nil
}

func (t *tx) OrderForShippingDetail(ctx context.Context, shippingDetailID string) (*models.Order, error) {
	var orderID string
	err := t.s.orders.Query(
		`SELECT order_id FROM orders_by_shipping_detail WHERE shipping_detail_id = ?`, shippingDetailID,
	).WithContext(ctx).Scan(&orderID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("order for shipping detail: %w", err)
	}
	return t.s.getOrder(ctx, orderID)
}

// InsertOrder réserve d'abord le numéro puis la fiche de livraison (LWT),
// et n'écrit la commande qu'une fois les deux réservations acquises.
func (t *tx) InsertOrder(ctx context.Context, o *models.Order) error {
	applied, err := t.s.orders.Query(
		`INSERT INTO orders_by_number (order_number, order_id) VALUES (?, ?) IF NOT EXISTS`,
		o.OrderNumber, o.ID,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("reserve order number: %w", err)
	}
	if !applied {
		return storage.ErrDuplicateOrderNumber
	}
	t.j.push("order number "+o.OrderNumber, func(ctx context.Context) error {
		return t.s.orders.Query(`DELETE FROM orders_by_number WHERE order_number = ? IF order_id = ?`, o.OrderNumber, o.ID).
			WithContext(ctx).Exec()
	})

	existing := map[string]interface{}{}
	applied, err = t.s.orders.Query(
		`INSERT INTO orders_by_shipping_detail (shipping_detail_id, order_id, payment_type, payment_status, created_at)
		 VALUES (?, ?, ?, ?, ?) IF NOT EXISTS`,
		o.ShippingDetailID, o.ID, string(o.PaymentType), string(o.PaymentStatus), o.CreatedAt,
	).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return fmt.Errorf("reserve shipping detail: %w", err)
	}
	if !applied {
		if existing["payment_type"] == string(models.PaymentTypeCard) &&
			existing["payment_status"] == string(models.PaymentStatusCompleted) {
			return storage.ErrDuplicateCompletedCheckout
		}
		return storage.ErrShippingDetailInUse
	}
	t.j.push("shipping detail "+o.ShippingDetailID, func(ctx context.Context) error {
		return t.s.orders.Query(`DELETE FROM orders_by_shipping_detail WHERE shipping_detail_id = ? IF order_id = ?`,
			o.ShippingDetailID, o.ID).WithContext(ctx).Exec()
	})

	lineItems, err := json.Marshal(o.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	bundleItems, err := json.Marshal(o.BundleItems)
	if err != nil {
		return fmt.Errorf("encode bundle items: %w", err)
	}
	discounts, err := json.Marshal(o.Discounts)
	if err != nil {
		return fmt.Errorf("encode discounts: %w", err)
	}
	err = t.s.orders.Query(
		`INSERT INTO orders (
		   order_id, order_number, user_id, total, subtotal, shipping_cost,
		   payment_status, order_status, payment_type, order_type,
		   payment_reference, courier, tracking_number, shipping_detail_id,
		   line_items, bundle_items, discounts, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.OrderNumber, o.UserID, o.Total.String(), o.Subtotal.String(), o.ShippingCost.String(),
		string(o.PaymentStatus), string(o.OrderStatus), string(o.PaymentType), string(o.OrderType),
		o.PaymentReference, o.Courier, o.TrackingNumber, o.ShippingDetailID,
		string(lineItems), string(bundleItems), string(discounts), o.CreatedAt, o.UpdatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	t.j.push("order "+o.ID, func(ctx context.Context) error {
		return t.s.orders.Query(`DELETE FROM orders WHERE order_id = ?`, o.ID).WithContext(ctx).Exec()
	})
	return nil
}

func (t *tx) ConsumeDiscountUse(ctx context.Context, code string) error {
	consumed, err := t.s.adjustRemainingUses(ctx, code, -1)
	if err != nil || !consumed {
		return err
	}
	t.j.push("discount "+code, func(ctx context.Context) error {
		_, err := t.s.adjustRemainingUses(ctx, code, 1)
		return err
	})
	return nil
}

// adjustRemainingUses retourne false pour un code illimité (rien à faire).
func (s *Store) adjustRemainingUses(ctx context.Context, code string, delta int) (bool, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.getDiscountCode(ctx, code)
		if err != nil {
			return false, err
		}
		if current.RemainingUses == nil {
			return false, nil
		}
		remaining := *current.RemainingUses
		if delta < 0 && remaining+delta < 0 {
			return false, storage.ErrDiscountExhausted
		}
		applied, err := s.orders.Query(
			`UPDATE discount_codes SET remaining_uses = ?, updated_at = ? WHERE code = ? IF remaining_uses = ?`,
			remaining+delta, s.now().UTC(), code, remaining,
		).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return false, fmt.Errorf("consume discount use: %w", err)
		}
		if applied {
			return true, nil
		}
	}
	return false, fmt.Errorf("consume discount use %s: %w", code, storage.ErrConcurrentUpdate)
}

func (t *tx) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return t.s.getOrder(ctx, orderID)
}

func (t *tx) UpdateOrderStatus(ctx context.Context, o *models.Order, from models.OrderStatus) error {
	before, err := t.s.getOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	applied, err := t.s.orders.Query(
		`UPDATE orders SET order_status = ?, payment_status = ?, courier = ?, tracking_number = ?, updated_at = ?
		  WHERE order_id = ? IF order_status = ?`,
		string(o.OrderStatus), string(o.PaymentStatus), o.Courier, o.TrackingNumber, o.UpdatedAt,
		o.ID, string(from),
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if !applied {
		return storage.ErrConcurrentUpdate
	}
	t.j.push("status "+o.ID, func(ctx context.Context) error {
		return t.s.orders.Query(
			`UPDATE orders SET order_status = ?, payment_status = ?, courier = ?, tracking_number = ?, updated_at = ?
			  WHERE order_id = ? IF order_status = ?`,
			string(before.OrderStatus), string(before.PaymentStatus), before.Courier, before.TrackingNumber, before.UpdatedAt,
			o.ID, string(o.OrderStatus),
		).WithContext(ctx).Exec()
	})
	return nil
}

var _ storage.Tx = (*tx)(nil)

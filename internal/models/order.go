package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
)

type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusFulfilled  OrderStatus = "FULFILLED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

type OrderType string

const (
	OrderTypeProduct OrderType = "product"
	OrderTypeBundle  OrderType = "bundle"
)

type Order struct {
	ID               string            `json:"id"`
	OrderNumber      string            `json:"order_number"`
	UserID           *string           `json:"user_id,omitempty"`
	Total            decimal.Decimal   `json:"total"`
	Subtotal         decimal.Decimal   `json:"subtotal"`
	ShippingCost     decimal.Decimal   `json:"shipping_cost"`
	PaymentStatus    PaymentStatus     `json:"payment_status"`
	OrderStatus      OrderStatus       `json:"order_status"`
	PaymentType      PaymentType       `json:"payment_type"`
	OrderType        OrderType         `json:"order_type"`
	PaymentReference string            `json:"payment_reference,omitempty"`
	Courier          string            `json:"courier,omitempty"`
	TrackingNumber   string            `json:"tracking_number,omitempty"`
	ShippingDetailID string            `json:"shipping_detail_id"`
	LineItems        []OrderLineItem   `json:"line_items"`
	BundleItems      []OrderBundleItem `json:"bundle_items"`
	Discounts        []AppliedDiscount `json:"discounts"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// OrderLineItem fige le prix unitaire au moment de la commande.
type OrderLineItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderBundleItem struct {
	BundleID  string          `json:"bundle_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// IsTerminal indique qu'aucune transition n'est plus permise
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFulfilled, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// MaterializationResult est ce que les points d'entrée renvoient au client.
type MaterializationResult struct {
	Order *Order `json:"order"`
	// Existing vaut true quand la commande avait déjà été créée par un autre chemin.
	Existing bool `json:"existing"`
}

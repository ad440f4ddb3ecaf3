package services

import (
	"context"

	"cedra_checkout/internal/models"
)

// OrderNotifier reçoit les créations et les changements de statut.
type OrderNotifier interface {
	OrderPlaced(ctx context.Context, order *models.Order, detail *models.ShippingDetail)
	OrderStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus)
}

// Fanout relaie chaque notification à tous ses membres, dans l'ordre.
type Fanout []OrderNotifier

func (f Fanout) OrderPlaced(ctx context.Context, order *models.Order, detail *models.ShippingDetail) {
	for _, n := range f {
		n.OrderPlaced(ctx, order, detail)
	}
}

func (f Fanout) OrderStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus) {
	for _, n := range f {
		n.OrderStatusChanged(ctx, order, from)
	}
}

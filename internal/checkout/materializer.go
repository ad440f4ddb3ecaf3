package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cedra_checkout/internal/discount"
	"cedra_checkout/internal/models"
	"cedra_checkout/internal/stock"
	"cedra_checkout/internal/storage"
)

// Placed est une commande fraîchement créée avec sa fiche de livraison.
type Placed struct {
	Order  *models.Order
	Detail *models.ShippingDetail
}

// Materializer est le seul point de création d'une commande.
type Materializer struct {
	store     storage.Store
	ledger    *stock.Ledger
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
	newNumber func(time.Time) (string, error)
}

func NewMaterializer(store storage.Store, ledger *stock.Ledger, logger *zap.Logger) *Materializer {
	return &Materializer{
		store:     store,
		ledger:    ledger,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		newNumber: NewOrderNumber,
	}
}

// Price fige les prix unitaires de intent depuis le catalogue.
func (m *Materializer) Price(ctx context.Context, intent models.CheckoutIntent) (models.CheckoutIntent, error) {
	if err := intent.Validate(); err != nil {
		return intent, invalid(err)
	}
	lines, err := m.ledger.Price(ctx, m.store, intent.Lines)
	if err != nil {
		return intent, classify(err)
	}
	intent.Lines = lines
	return intent, nil
}

// Quote valide l'intent et calcule le montant à payer, sans rien écrire.
func (m *Materializer) Quote(ctx context.Context, intent models.CheckoutIntent) (discount.Result, *models.ShippingDetail, error) {
	if err := intent.Validate(); err != nil {
		return discount.Result{}, nil, invalid(err)
	}

	detail, err := m.store.GetShippingDetail(ctx, intent.ShippingDetailID)
	if errors.Is(err, storage.ErrNotFound) {
		return discount.Result{}, nil, &Error{Kind: KindNotFound, Reason: "shipping_detail_not_found", Item: intent.ShippingDetailID, Err: ErrShippingDetailNotFound}
	}
	if err != nil {
		return discount.Result{}, nil, classify(err)
	}

	codes, err := m.store.GetDiscountCodes(ctx, intent.DiscountCodes)
	if err != nil {
		return discount.Result{}, nil, classify(err)
	}
	result, err := discount.Evaluate(discount.Input{
		Subtotal:  intent.Subtotal(),
		Shipping:  intent.ShippingCost,
		Requested: intent.DiscountCodes,
		Codes:     codes,
		UserID:    intent.UserID,
		Now:       m.now(),
	})
	if err != nil {
		return discount.Result{}, nil, classify(err)
	}
	return result, detail, nil
}

// Materialize crée la commande de intent: stock, commande et codes promo sont
// écrits dans une même unité de travail.
func (m *Materializer) Materialize(ctx context.Context, intent models.CheckoutIntent) (*Placed, error) {
	quote, detail, err := m.Quote(ctx, intent)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	order := buildOrder(intent, quote, now)
	order.ID = m.newID()

	err = m.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		existing, err := tx.OrderForShippingDetail(ctx, intent.ShippingDetailID)
		if err == nil {
			return duplicateDetail(existing)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if _, err := m.ledger.Reserve(ctx, tx, order.ID, intent.Lines); err != nil {
			return err
		}

		if err := m.insertWithFreshNumber(ctx, tx, order, now); err != nil {
			return err
		}

		for _, applied := range quote.Applied {
			if !applied.Finite {
				continue
			}
			if err := tx.ConsumeDiscountUse(ctx, applied.Code); err != nil {
				if errors.Is(err, storage.ErrDiscountExhausted) {
					return &Error{Kind: KindConflict, Reason: "code_exhausted", Item: applied.Code, Err: err}
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	m.logger.Info("✅ Commande créée",
		zap.String("order_number", order.OrderNumber),
		zap.String("payment_type", string(order.PaymentType)),
		zap.String("total", order.Total.StringFixed(2)))
	return &Placed{Order: order, Detail: detail}, nil
}

func (m *Materializer) insertWithFreshNumber(ctx context.Context, tx storage.Tx, order *models.Order, now time.Time) error {
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		number, err := m.newNumber(now)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		err = tx.InsertOrder(ctx, order)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, storage.ErrDuplicateOrderNumber):
			m.logger.Warn("🔁 Collision de numéro de commande", zap.String("order_number", number))
			continue
		case errors.Is(err, storage.ErrShippingDetailInUse):
			existing, lookupErr := tx.OrderForShippingDetail(ctx, order.ShippingDetailID)
			if lookupErr != nil {
				return err
			}
			return duplicateDetail(existing)
		default:
			return err
		}
	}
	return &Error{Kind: KindIntegrity, Reason: "order_number_collision", Err: ErrOrderNumberCollision}
}

func duplicateDetail(existing *models.Order) *Error {
	return &Error{
		Kind:   KindConflict,
		Reason: "duplicate_shipping_detail",
		Item:   existing.ShippingDetailID,
		Order:  existing,
		Err:    ErrDuplicateShippingDetail,
	}
}

// buildOrder construit l'agrégat à partir de l'intent et du calcul des remises.
func buildOrder(intent models.CheckoutIntent, quote discount.Result, now time.Time) *models.Order {
	order := &models.Order{
		UserID:           intent.UserID,
		Total:            quote.Payable,
		Subtotal:         quote.Subtotal,
		ShippingCost:     intent.ShippingCost,
		PaymentStatus:    models.PaymentStatusPending,
		OrderStatus:      models.OrderStatusProcessing,
		PaymentType:      intent.PaymentType,
		OrderType:        models.OrderTypeBundle,
		PaymentReference: intent.PaymentReference,
		ShippingDetailID: intent.ShippingDetailID,
		Discounts:        quote.Applied,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if intent.PaymentType == models.PaymentTypeCard {
		order.PaymentStatus = models.PaymentStatusCompleted
	}

	for _, line := range intent.Lines {
		switch line.Kind {
		case models.LineKindBundle:
			order.BundleItems = append(order.BundleItems, models.OrderBundleItem{
				BundleID:  line.BundleID,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
			})
		default:
			order.OrderType = models.OrderTypeProduct
			order.LineItems = append(order.LineItems, models.OrderLineItem{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Size:      line.Size,
				Color:     line.Color,
				UnitPrice: line.UnitPrice,
			})
		}
	}
	return order
}

// Package stock résout les lignes d'un panier en compteurs de stock et les
// décrémente à l'intérieur de l'unité de travail du checkout.
package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cedra_checkout/internal/models"
	"cedra_checkout/internal/storage"
)

const MovementSale = "sale"

var (
	ErrInsufficientStock = errors.New("stock insuffisant")
	ErrUnknownItem       = errors.New("article inconnu")
)

// InsufficientStock détaille le compteur qui bloque la commande.
type InsufficientStock struct {
	Ref       models.InventoryRef
	Available int
	Requested int
}

func (e *InsufficientStock) Error() string {
	return fmt.Sprintf("stock insuffisant pour %s: disponible %d, demandé %d", e.Ref, e.Available, e.Requested)
}

func (e *InsufficientStock) Unwrap() error { return ErrInsufficientStock }

// Item retourne l'identifiant catalogue exposé au client.
func (e *InsufficientStock) Item() string { return e.Ref.ID }

// Reservation est un décrément appliqué.
type Reservation struct {
	Ref       models.InventoryRef
	Quantity  int
	Previous  int
	Remaining int
}

type Ledger struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewLedger(logger *zap.Logger) *Ledger {
	return &Ledger{logger: logger, now: time.Now}
}

type demand struct {
	record    models.InventoryRecord
	requested int
}

// Reserve décrémente tous les compteurs touchés par lines, ou aucun.
// Les demandes sur un même compteur sont cumulées avant la vérification.
func (l *Ledger) Reserve(ctx context.Context, tx storage.Tx, orderID string, lines []models.CartLine) ([]Reservation, error) {
	demands, err := l.resolve(ctx, tx, lines)
	if err != nil {
		return nil, err
	}

	for _, d := range demands {
		if !d.record.AllowBackorder && d.record.Quantity < d.requested {
			return nil, &InsufficientStock{Ref: d.record.Ref, Available: d.record.Quantity, Requested: d.requested}
		}
	}

	reservations := make([]Reservation, 0, len(demands))
	for _, d := range demands {
		rec, err := tx.DecrementStock(ctx, d.record.Ref, d.requested)
		if err != nil {
			var shortage *storage.StockShortage
			if errors.As(err, &shortage) {
				// course perdue entre la vérification et le décrément
				return nil, &InsufficientStock{Ref: shortage.Ref, Available: shortage.Available, Requested: d.requested}
			}
			return nil, err
		}
		res := Reservation{
			Ref:       d.record.Ref,
			Quantity:  d.requested,
			Previous:  rec.Quantity + d.requested,
			Remaining: rec.Quantity,
		}
		if err := tx.RecordStockMovement(ctx, models.StockMovement{
			Ref:       res.Ref,
			Type:      MovementSale,
			Quantity:  res.Quantity,
			PrevStock: res.Previous,
			NewStock:  res.Remaining,
			OrderID:   orderID,
			CreatedAt: l.now().UTC(),
		}); err != nil {
			return nil, err
		}
		if rec.LowStockThreshold > 0 && rec.Quantity <= rec.LowStockThreshold {
			l.logger.Warn("⚠️ Stock faible",
				zap.String("item", res.Ref.String()),
				zap.Int("remaining", rec.Quantity),
				zap.Int("threshold", rec.LowStockThreshold))
		}
		reservations = append(reservations, res)
	}
	return reservations, nil
}

// resolve transforme les lignes en demandes par compteur, dans l'ordre de première apparition.
func (l *Ledger) resolve(ctx context.Context, tx storage.Tx, lines []models.CartLine) ([]*demand, error) {
	var ordered []*demand
	byRef := make(map[models.InventoryRef]*demand)
	add := func(rec models.InventoryRecord, qty int) {
		if d, ok := byRef[rec.Ref]; ok {
			d.requested += qty
			return
		}
		d := &demand{record: rec, requested: qty}
		byRef[rec.Ref] = d
		ordered = append(ordered, d)
	}

	for _, line := range lines {
		switch line.Kind {
		case models.LineKindRegular:
			rec, err := resolveProduct(ctx, tx, line.ProductID, line.Size, line.Color)
			if err != nil {
				return nil, err
			}
			add(rec, line.Quantity)
		case models.LineKindBundle:
			bundle, err := tx.GetBundle(ctx, line.BundleID)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: bundle %s", ErrUnknownItem, line.BundleID)
			}
			if err != nil {
				return nil, err
			}
			add(bundle.Inventory, line.Quantity)
			for _, item := range bundle.Items {
				rec, err := resolveProduct(ctx, tx, item.ProductID, item.Size, item.Color)
				if err != nil {
					return nil, err
				}
				add(rec, line.Quantity*item.Quantity)
			}
		default:
			return nil, fmt.Errorf("type de ligne inconnu: %q", line.Kind)
		}
	}
	return ordered, nil
}

// Price fixe le prix unitaire de chaque ligne depuis le catalogue. Le prix
// envoyé par le client est ignoré.
func (l *Ledger) Price(ctx context.Context, catalog storage.CatalogReader, lines []models.CartLine) ([]models.CartLine, error) {
	priced := make([]models.CartLine, len(lines))
	for i, line := range lines {
		var price decimal.Decimal
		switch line.Kind {
		case models.LineKindRegular:
			rec, err := resolveProduct(ctx, catalog, line.ProductID, line.Size, line.Color)
			if err != nil {
				return nil, err
			}
			price = rec.Price
		case models.LineKindBundle:
			bundle, err := catalog.GetBundle(ctx, line.BundleID)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: bundle %s", ErrUnknownItem, line.BundleID)
			}
			if err != nil {
				return nil, err
			}
			price = bundle.Inventory.Price
		default:
			return nil, fmt.Errorf("type de ligne inconnu: %q", line.Kind)
		}
		if !line.UnitPrice.IsZero() && !line.UnitPrice.Equal(price) {
			l.logger.Warn("⚠️ Prix client différent du catalogue",
				zap.String("item", line.ItemID()),
				zap.String("client", line.UnitPrice.String()),
				zap.String("catalog", price.String()))
		}
		line.UnitPrice = price
		priced[i] = line
	}
	return priced, nil
}

// resolveProduct choisit le compteur du variant s'il existe, sinon le compteur agrégé du produit.
func resolveProduct(ctx context.Context, tx storage.CatalogReader, productID, size, color string) (models.InventoryRecord, error) {
	rec, err := tx.GetVariant(ctx, productID, size, color)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.InventoryRecord{}, err
	}
	rec, err = tx.GetProduct(ctx, productID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.InventoryRecord{}, fmt.Errorf("%w: produit %s", ErrUnknownItem, productID)
	}
	return rec, err
}

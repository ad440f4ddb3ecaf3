// Package storage définit le contrat de persistance du pipeline de commande.
//
// Deux implémentations existent: sqlite (transactions réelles) et scylla
// (écritures conditionnelles LWT + journal de compensation). Dans les deux cas
// tout ce qui est fait via un Tx est soit entièrement appliqué, soit annulé.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cedra_checkout/internal/models"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicateOrderNumber signale une collision sur le numéro de commande.
	ErrDuplicateOrderNumber = errors.New("storage: order number already exists")
	// ErrDuplicateCompletedCheckout est la violation d'unicité
	// (shipping_detail_id, card, COMPLETED).
	ErrDuplicateCompletedCheckout = errors.New("storage: shipping detail already has a completed card order")
	// ErrShippingDetailInUse: la fiche est déjà liée à une autre commande.
	ErrShippingDetailInUse = errors.New("storage: shipping detail already linked to an order")
	ErrStockConflict       = errors.New("storage: conditional stock decrement rejected")
	ErrDiscountExhausted   = errors.New("storage: discount code has no remaining uses")
	// ErrConcurrentUpdate: le statut a changé entre la lecture et l'écriture.
	ErrConcurrentUpdate = errors.New("storage: order changed concurrently")
)

// StockShortage est renvoyé quand un décrément conditionnel est refusé.
type StockShortage struct {
	Ref       models.InventoryRef
	Available int
}

func (e *StockShortage) Error() string {
	return fmt.Sprintf("stock insuffisant pour %s (disponible: %d)", e.Ref, e.Available)
}

func (e *StockShortage) Unwrap() error { return ErrStockConflict }

// CatalogReader lit les compteurs et les prix du catalogue.
type CatalogReader interface {
	GetVariant(ctx context.Context, productID, size, color string) (models.InventoryRecord, error)
	GetProduct(ctx context.Context, productID string) (models.InventoryRecord, error)
	GetBundle(ctx context.Context, bundleID string) (models.Bundle, error)
}

// Store regroupe les lectures hors transaction et l'ouverture d'unités de travail.
type Store interface {
	CatalogReader

	// WithinTx exécute fn dans une unité de travail atomique.
	// Si fn retourne une erreur, tous ses effets sont annulés.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	FindCompletedCardOrder(ctx context.Context, shippingDetailID string, since time.Time) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)

	CreateShippingDetail(ctx context.Context, detail *models.ShippingDetail) error
	GetShippingDetail(ctx context.Context, id string) (*models.ShippingDetail, error)

	// GetDiscountCodes retourne les codes trouvés, indexés par code normalisé.
	// Les codes absents sont simplement omis.
	GetDiscountCodes(ctx context.Context, codes []string) (map[string]models.DiscountCode, error)

	Close() error
}

// Tx est une unité de travail ouverte par Store.WithinTx.
type Tx interface {
	CatalogReader

	// DecrementStock décrémente si le stock le permet (ou si le backorder est autorisé)
	// en une seule opération conditionnelle. Retourne le compteur après décrément,
	// ou *StockShortage.
	DecrementStock(ctx context.Context, ref models.InventoryRef, quantity int) (models.InventoryRecord, error)
	RecordStockMovement(ctx context.Context, movement models.StockMovement) error

	// OrderForShippingDetail retourne la commande déjà liée à la fiche, ou ErrNotFound.
	OrderForShippingDetail(ctx context.Context, shippingDetailID string) (*models.Order, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	ConsumeDiscountUse(ctx context.Context, code string) error

	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	// UpdateOrderStatus écrit le statut, le paiement et le suivi de order
	// seulement si le statut stocké vaut encore from.
	UpdateOrderStatus(ctx context.Context, order *models.Order, from models.OrderStatus) error
}

// Catalog sert à l'administration du stock et des codes promo.
type Catalog interface {
	UpsertProduct(ctx context.Context, record models.InventoryRecord) error
	UpsertVariant(ctx context.Context, record models.InventoryRecord) error
	UpsertBundle(ctx context.Context, bundle models.Bundle) error
	UpsertDiscountCode(ctx context.Context, code models.DiscountCode) error
	GetInventory(ctx context.Context, ref models.InventoryRef) (models.InventoryRecord, error)
	ListStockMovements(ctx context.Context, orderID string) ([]models.StockMovement, error)
}

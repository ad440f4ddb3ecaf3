package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type InventoryKind string

const (
	InventoryVariant InventoryKind = "variant"
	InventoryProduct InventoryKind = "product"
	InventoryBundle  InventoryKind = "bundle"
)

// InventoryRef identifie un compteur de stock unique.
// Pour un variant: ID = product_id, Size/Color renseignés.
type InventoryRef struct {
	Kind  InventoryKind `json:"kind"`
	ID    string        `json:"id"`
	Size  string        `json:"size,omitempty"`
	Color string        `json:"color,omitempty"`
}

func (r InventoryRef) String() string {
	if r.Kind == InventoryVariant {
		return fmt.Sprintf("%s:%s/%s/%s", r.Kind, r.ID, r.Size, r.Color)
	}
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

type InventoryRecord struct {
	Ref  InventoryRef `json:"ref"`
	Name string       `json:"name"`
	// Price est le prix catalogue. Un variant sans prix propre hérite de celui du produit.
	Price             decimal.Decimal `json:"price"`
	Quantity          int             `json:"quantity"`
	AllowBackorder    bool            `json:"allow_backorder"`
	LowStockThreshold int             `json:"low_stock_threshold"`
}

// Bundle regroupe son propre compteur et la liste des produits qu'il contient.
type Bundle struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Inventory InventoryRecord `json:"inventory"`
	Items     []BundleProduct `json:"items"`
}

type BundleProduct struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	Quantity  int    `json:"quantity"`
}

type StockMovement struct {
	ID        string       `json:"id"`
	Ref       InventoryRef `json:"ref"`
	Type      string       `json:"type"` // "sale"
	Quantity  int          `json:"quantity"`
	PrevStock int          `json:"prev_stock"`
	NewStock  int          `json:"new_stock"`
	OrderID   string       `json:"order_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

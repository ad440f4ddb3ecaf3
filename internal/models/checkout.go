package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentTypeCard           PaymentType = "card"
	PaymentTypeCashOnDelivery PaymentType = "cash_on_delivery"
)

// Valid indique si le type de paiement est connu
func (p PaymentType) Valid() bool {
	return p == PaymentTypeCard || p == PaymentTypeCashOnDelivery
}

// LineKind distingue une ligne produit d'une ligne bundle.
type LineKind string

const (
	LineKindRegular LineKind = "regular"
	LineKindBundle  LineKind = "bundle"
)

// CartLine est une ligne de panier figée au moment du checkout.
// Une ligne est soit Regular (ProductID + taille/couleur) soit Bundle (BundleID), jamais les deux.
type CartLine struct {
	Kind      LineKind        `json:"kind"`
	ProductID string          `json:"product_id,omitempty"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
	BundleID  string          `json:"bundle_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// NewRegularLine construit une ligne produit
func NewRegularLine(productID, size, color string, quantity int, unitPrice decimal.Decimal) CartLine {
	return CartLine{
		Kind:      LineKindRegular,
		ProductID: productID,
		Size:      size,
		Color:     color,
		Quantity:  quantity,
		UnitPrice: unitPrice,
	}
}

// NewBundleLine construit une ligne bundle
func NewBundleLine(bundleID string, quantity int, unitPrice decimal.Decimal) CartLine {
	return CartLine{
		Kind:      LineKindBundle,
		BundleID:  bundleID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
	}
}

// ItemID retourne l'identifiant catalogue de la ligne (produit ou bundle).
func (l CartLine) ItemID() string {
	if l.Kind == LineKindBundle {
		return l.BundleID
	}
	return l.ProductID
}

// Total retourne prix unitaire × quantité
func (l CartLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l CartLine) Validate() error {
	switch l.Kind {
	case LineKindRegular:
		if strings.TrimSpace(l.ProductID) == "" {
			return fmt.Errorf("product_id requis pour une ligne produit")
		}
		if l.BundleID != "" {
			return fmt.Errorf("une ligne produit ne peut pas porter de bundle_id")
		}
	case LineKindBundle:
		if strings.TrimSpace(l.BundleID) == "" {
			return fmt.Errorf("bundle_id requis pour une ligne bundle")
		}
		if l.ProductID != "" || l.Size != "" || l.Color != "" {
			return fmt.Errorf("une ligne bundle ne peut pas porter de produit/taille/couleur")
		}
	default:
		return fmt.Errorf("type de ligne inconnu: %q", l.Kind)
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("quantité invalide pour %s: %d", l.ItemID(), l.Quantity)
	}
	if l.UnitPrice.IsNegative() {
		return fmt.Errorf("prix unitaire négatif pour %s", l.ItemID())
	}
	return nil
}

// CheckoutIntent est l'instantané immuable d'un checkout, avant création de la commande.
type CheckoutIntent struct {
	UserID           *string         `json:"user_id,omitempty"`
	ShippingDetailID string          `json:"shipping_detail_id"`
	PaymentType      PaymentType     `json:"payment_type"`
	Lines            []CartLine      `json:"lines"`
	DiscountCodes    []string        `json:"discount_codes,omitempty"`
	ShippingCost     decimal.Decimal `json:"shipping_cost"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Validate rejette un intent malformé avant tout effet de bord.
func (i CheckoutIntent) Validate() error {
	if strings.TrimSpace(i.ShippingDetailID) == "" {
		return fmt.Errorf("shipping_detail_id requis")
	}
	if !i.PaymentType.Valid() {
		return fmt.Errorf("type de paiement invalide: %q", i.PaymentType)
	}
	if len(i.Lines) == 0 {
		return fmt.Errorf("panier vide")
	}
	for _, line := range i.Lines {
		if err := line.Validate(); err != nil {
			return err
		}
	}
	if i.ShippingCost.IsNegative() {
		return fmt.Errorf("frais de livraison négatifs")
	}
	seen := make(map[string]bool, len(i.DiscountCodes))
	for _, code := range i.DiscountCodes {
		normalized := NormalizeCode(code)
		if normalized == "" {
			return fmt.Errorf("code promo vide")
		}
		if seen[normalized] {
			return fmt.Errorf("code promo en double: %s", normalized)
		}
		seen[normalized] = true
	}
	return nil
}

// Subtotal somme les lignes au prix capturé dans le panier.
func (i CheckoutIntent) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range i.Lines {
		total = total.Add(line.Total())
	}
	return total
}

// NormalizeCode met un code promo au format stocké (majuscules, sans espaces)
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GatewaySession est la session de paiement créée chez le prestataire.
type GatewaySession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// GatewayCheckout est un checkout carte tel que confirmé par le prestataire de paiement.
type GatewayCheckout struct {
	SessionID string
	Paid      bool
	Intent    CheckoutIntent
}

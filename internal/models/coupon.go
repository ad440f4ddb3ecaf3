package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixed        DiscountType = "fixed"
	DiscountFreeShipping DiscountType = "free_shipping"
)

// DiscountCode est un code promo tel que stocké.
// RemainingUses nil = illimité.
type DiscountCode struct {
	Code           string          `json:"code"`
	Type           DiscountType    `json:"type"`
	Value          decimal.Decimal `json:"value"`
	IsActive       bool            `json:"is_active"`
	RemainingUses  *int            `json:"remaining_uses,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	CanCumulate    bool            `json:"can_cumulate"`
	AssignedUserID *string         `json:"assigned_user_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AutoAppliedFor indique un code attribué par un administrateur à cet acheteur.
func (d DiscountCode) AutoAppliedFor(userID *string) bool {
	return d.AssignedUserID != nil && userID != nil && *d.AssignedUserID == *userID
}

// AppliedDiscount est la trace persistée d'un code consommé par une commande.
type AppliedDiscount struct {
	Code   string          `json:"code"`
	Type   DiscountType    `json:"type"`
	Value  decimal.Decimal `json:"value"`
	Amount decimal.Decimal `json:"amount"`
	// Finite vaut true si le code avait un nombre d'utilisations limité.
	Finite bool `json:"-"`
}

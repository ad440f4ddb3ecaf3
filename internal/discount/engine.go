// Package discount calcule l'ajustement de prix d'un lot de codes promo.
//
// Le moteur est pur: il ne lit ni n'écrit rien. La consommation des
// utilisations restantes est faite plus tard, dans la même unité de travail
// que la création de la commande.
package discount

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cedra_checkout/internal/models"
)

var (
	ErrCodeNotFound          = errors.New("code promo introuvable")
	ErrCodeExpired           = errors.New("code promo expiré")
	ErrCodeExhausted         = errors.New("code promo épuisé")
	ErrNonCumulativeConflict = errors.New("codes promo non cumulables")
)

// Error porte le code fautif en plus du type d'erreur.
type Error struct {
	Kind error
	Code string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.Kind }

var hundred = decimal.NewFromInt(100)

// Input regroupe tout ce dont le moteur a besoin.
// Codes contient les codes résolus en base, indexés par code normalisé.
type Input struct {
	Subtotal  decimal.Decimal
	Shipping  decimal.Decimal
	Requested []string
	Codes     map[string]models.DiscountCode
	UserID    *string
	Now       time.Time
}

type Result struct {
	Subtotal         decimal.Decimal          `json:"subtotal"`
	Shipping         decimal.Decimal          `json:"shipping"`
	PercentageRelief decimal.Decimal          `json:"percentage_relief"`
	FixedRelief      decimal.Decimal          `json:"fixed_relief"`
	FreeShipping     bool                     `json:"free_shipping"`
	Payable          decimal.Decimal          `json:"payable"`
	Applied          []models.AppliedDiscount `json:"applied"`
}

// Usable vérifie qu'un code peut encore être utilisé par userID à l'instant now.
// Un code attribué à un autre acheteur (ou à un acheteur, pour un invité) est introuvable.
func Usable(code models.DiscountCode, userID *string, now time.Time) error {
	if !code.IsActive {
		return &Error{Kind: ErrCodeNotFound, Code: code.Code}
	}
	if code.AssignedUserID != nil && !code.AutoAppliedFor(userID) {
		return &Error{Kind: ErrCodeNotFound, Code: code.Code}
	}
	if code.ExpiresAt != nil && !now.Before(*code.ExpiresAt) {
		return &Error{Kind: ErrCodeExpired, Code: code.Code}
	}
	if code.RemainingUses != nil && *code.RemainingUses <= 0 {
		return &Error{Kind: ErrCodeExhausted, Code: code.Code}
	}
	return nil
}

// Evaluate applique les codes demandés et retourne le montant à payer.
// Toutes les erreurs sont détectées avant de produire un résultat: rien n'est appliqué partiellement.
func Evaluate(in Input) (Result, error) {
	res := Result{
		Subtotal: in.Subtotal,
		Shipping: in.Shipping,
	}

	resolved := make([]models.DiscountCode, 0, len(in.Requested))
	for _, raw := range in.Requested {
		key := models.NormalizeCode(raw)
		code, ok := in.Codes[key]
		if !ok {
			return Result{}, &Error{Kind: ErrCodeNotFound, Code: key}
		}
		if err := Usable(code, in.UserID, in.Now); err != nil {
			return Result{}, err
		}
		resolved = append(resolved, code)
	}

	if len(resolved) > 1 {
		for _, code := range resolved {
			// les codes attribués par un admin à cet acheteur se cumulent toujours
			if !code.CanCumulate && !code.AutoAppliedFor(in.UserID) {
				return Result{}, &Error{Kind: ErrNonCumulativeConflict, Code: code.Code}
			}
		}
	}

	percentSum := decimal.Zero
	fixed := decimal.Zero
	for _, code := range resolved {
		applied := models.AppliedDiscount{
			Code:   code.Code,
			Type:   code.Type,
			Value:  code.Value,
			Finite: code.RemainingUses != nil,
		}
		switch code.Type {
		case models.DiscountPercentage:
			percentSum = percentSum.Add(code.Value)
			applied.Amount = in.Subtotal.Mul(code.Value).Div(hundred).Round(2)
		case models.DiscountFixed:
			fixed = fixed.Add(code.Value)
			applied.Amount = code.Value
		case models.DiscountFreeShipping:
			if !res.FreeShipping {
				applied.Amount = in.Shipping
			} else {
				applied.Amount = decimal.Zero
			}
			res.FreeShipping = true
		default:
			return Result{}, &Error{Kind: ErrCodeNotFound, Code: code.Code}
		}
		res.Applied = append(res.Applied, applied)
	}

	res.PercentageRelief = in.Subtotal.Mul(percentSum).Div(hundred).Round(2)
	res.FixedRelief = fixed

	goods := in.Subtotal.Sub(res.PercentageRelief).Sub(res.FixedRelief)
	if goods.IsNegative() {
		goods = decimal.Zero
	}
	shipping := in.Shipping
	if res.FreeShipping {
		shipping = decimal.Zero
	}
	res.Payable = goods.Add(shipping).Round(2)
	return res, nil
}

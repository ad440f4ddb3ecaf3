package checkout

import (
	"errors"
	"fmt"

	"cedra_checkout/internal/discount"
	"cedra_checkout/internal/models"
	"cedra_checkout/internal/stock"
	"cedra_checkout/internal/storage"
)

// Kind classe une erreur de checkout pour la couche HTTP.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindRejected       Kind = "rejected"
	KindConflict       Kind = "conflict"
	KindPaymentPending Kind = "payment_pending"
	KindIntegrity      Kind = "integrity"
)

var (
	ErrInvalidIntent           = errors.New("checkout invalide")
	ErrShippingDetailNotFound  = errors.New("fiche de livraison introuvable")
	ErrDuplicateShippingDetail = errors.New("fiche de livraison déjà utilisée par une commande")
	ErrOrderNumberCollision    = errors.New("impossible de générer un numéro de commande unique")
	ErrPaymentNotCompleted     = errors.New("paiement non finalisé")
	ErrPersistence             = errors.New("échec d'enregistrement de la commande")
)

// Error est l'erreur renvoyée par toutes les opérations du pipeline.
type Error struct {
	Kind Kind
	// Reason est un code stable exposé au client ("insufficient_stock", "code_expired"...).
	Reason    string
	Item      string
	Available *int
	Requested int
	// Order est la commande existante pour une fiche déjà utilisée.
	Order *models.Order
	Err   error
}

func (e *Error) Error() string {
	if e.Item != "" {
		return fmt.Sprintf("%s (%s): %v", e.Reason, e.Item, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf retourne la classe de err, KindIntegrity par défaut.
func KindOf(err error) Kind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindIntegrity
}

func invalid(err error) *Error {
	return &Error{Kind: KindValidation, Reason: "invalid_checkout", Err: fmt.Errorf("%w: %v", ErrInvalidIntent, err)}
}

// classify traduit les erreurs des couches basses en *Error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return err
	}

	var short *stock.InsufficientStock
	if errors.As(err, &short) {
		available := short.Available
		return &Error{
			Kind:      KindConflict,
			Reason:    "insufficient_stock",
			Item:      short.Item(),
			Available: &available,
			Requested: short.Requested,
			Err:       err,
		}
	}

	var derr *discount.Error
	if errors.As(err, &derr) {
		out := &Error{Item: derr.Code, Err: err}
		switch {
		case errors.Is(err, discount.ErrCodeNotFound):
			out.Kind, out.Reason = KindRejected, "code_not_found"
		case errors.Is(err, discount.ErrCodeExpired):
			out.Kind, out.Reason = KindRejected, "code_expired"
		case errors.Is(err, discount.ErrCodeExhausted):
			out.Kind, out.Reason = KindConflict, "code_exhausted"
		default:
			out.Kind, out.Reason = KindConflict, "non_cumulative_conflict"
		}
		return out
	}

	switch {
	case errors.Is(err, stock.ErrUnknownItem):
		return &Error{Kind: KindRejected, Reason: "unknown_item", Err: err}
	case errors.Is(err, storage.ErrDiscountExhausted):
		return &Error{Kind: KindConflict, Reason: "code_exhausted", Err: err}
	case errors.Is(err, storage.ErrDuplicateCompletedCheckout):
		return &Error{Kind: KindConflict, Reason: "duplicate_completed_checkout", Err: err}
	}
	return &Error{Kind: KindIntegrity, Reason: "persistence_failure", Err: fmt.Errorf("%w: %v", ErrPersistence, err)}
}

package checkout

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"cedra_checkout/internal/models"
	"cedra_checkout/internal/storage"
)

// DefaultWindow borne la recherche d'une commande carte déjà créée.
const DefaultWindow = 30 * time.Minute

// Notifier reçoit les commandes créées. Les implémentations ne doivent pas bloquer.
type Notifier interface {
	OrderPlaced(ctx context.Context, order *models.Order, detail *models.ShippingDetail)
}

// CartCleaner vide le panier d'un acheteur après création de sa commande.
type CartCleaner interface {
	ClearCart(ctx context.Context, userID string) error
}

// Gate déduplique les tentatives concurrentes (COD, webhook, page de succès)
// d'un même checkout. Il ne garde aucun état: tout est relu depuis les commandes.
type Gate struct {
	store        storage.Store
	materializer *Materializer
	notifier     Notifier
	carts        CartCleaner
	window       time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewGate(store storage.Store, materializer *Materializer, notifier Notifier, carts CartCleaner, window time.Duration, logger *zap.Logger) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{
		store:        store,
		materializer: materializer,
		notifier:     notifier,
		carts:        carts,
		window:       window,
		logger:       logger,
		now:          time.Now,
	}
}

// Lookup retourne la commande carte payée récente liée à la fiche, ou storage.ErrNotFound.
func (g *Gate) Lookup(ctx context.Context, shippingDetailID string) (*models.Order, error) {
	return g.store.FindCompletedCardOrder(ctx, shippingDetailID, g.now().Add(-g.window))
}

// Reconcile crée la commande de intent, ou retourne celle qu'une autre voie a déjà créée.
func (g *Gate) Reconcile(ctx context.Context, intent models.CheckoutIntent) (models.MaterializationResult, error) {
	card := intent.PaymentType == models.PaymentTypeCard

	if card {
		existing, err := g.Lookup(ctx, intent.ShippingDetailID)
		if err == nil {
			g.logger.Info("🔁 Commande déjà créée, rien à faire",
				zap.String("order_number", existing.OrderNumber),
				zap.String("shipping_detail_id", intent.ShippingDetailID))
			return models.MaterializationResult{Order: existing, Existing: true}, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return models.MaterializationResult{}, classify(err)
		}
	}

	placed, err := g.materializer.Materialize(ctx, intent)
	if err != nil {
		if existing := samePayment(err, intent); existing != nil {
			g.logger.Info("🔁 Paiement déjà enregistré, commande existante renvoyée",
				zap.String("order_number", existing.OrderNumber),
				zap.String("payment_reference", intent.PaymentReference))
			return models.MaterializationResult{Order: existing, Existing: true}, nil
		}
		if card && lostRace(err) {
			if existing, lookupErr := g.Lookup(ctx, intent.ShippingDetailID); lookupErr == nil {
				g.logger.Info("🏁 Course perdue, commande du gagnant renvoyée",
					zap.String("order_number", existing.OrderNumber),
					zap.NamedError("cause", err))
				return models.MaterializationResult{Order: existing, Existing: true}, nil
			}
		}
		return models.MaterializationResult{}, err
	}

	g.afterCommit(ctx, placed)
	return models.MaterializationResult{Order: placed.Order}, nil
}

// samePayment retourne la commande déjà liée à la fiche quand elle porte la même
// référence de paiement carte: c'est le même checkout, quelle que soit son ancienneté.
func samePayment(err error, intent models.CheckoutIntent) *models.Order {
	if intent.PaymentType != models.PaymentTypeCard || intent.PaymentReference == "" {
		return nil
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Order == nil {
		return nil
	}
	existing := cerr.Order
	if existing.PaymentType != models.PaymentTypeCard ||
		existing.PaymentStatus != models.PaymentStatusCompleted ||
		existing.PaymentReference != intent.PaymentReference {
		return nil
	}
	return existing
}

// lostRace reconnaît les erreurs qui peuvent cacher une création concurrente réussie:
// doublon, stock ou code promo consommés par la voie gagnante.
func lostRace(err error) bool {
	return errors.Is(err, storage.ErrDuplicateCompletedCheckout) || KindOf(err) == KindConflict
}

// afterCommit lance les effets secondaires non critiques. Leurs erreurs sont seulement journalisées.
func (g *Gate) afterCommit(ctx context.Context, placed *Placed) {
	order := placed.Order
	if g.carts != nil && order.UserID != nil {
		if err := g.carts.ClearCart(context.WithoutCancel(ctx), *order.UserID); err != nil {
			g.logger.Warn("⚠️ Impossible de vider le panier", zap.String("user_id", *order.UserID), zap.Error(err))
		} else {
			g.logger.Debug("🧹 Panier supprimé", zap.String("user_id", *order.UserID))
		}
	}
	if g.notifier != nil {
		g.notifier.OrderPlaced(context.WithoutCancel(ctx), order, placed.Detail)
	}
}

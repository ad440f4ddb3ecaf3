package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cedra_checkout/internal/models"
	"cedra_checkout/internal/storage"
)

const (
	DefaultFallbackWait = 2 * time.Second
	fallbackPollEvery   = 200 * time.Millisecond
)

// PaymentGateway est le prestataire de paiement carte.
type PaymentGateway interface {
	CreateSession(ctx context.Context, intent models.CheckoutIntent, amount decimal.Decimal) (*models.GatewaySession, error)
	RetrieveSession(ctx context.Context, sessionID string) (*models.GatewayCheckout, error)
}

// SessionMemo retient quelle commande correspond à une session de paiement.
type SessionMemo interface {
	RememberCheckout(ctx context.Context, sessionID, orderNumber string) error
	// LookupCheckout retourne "" si la session est inconnue.
	LookupCheckout(ctx context.Context, sessionID string) (string, error)
}

// Service expose les trois voies d'entrée du checkout. Toutes passent par le Gate.
type Service struct {
	gate         *Gate
	materializer *Materializer
	store        storage.Store
	gateway      PaymentGateway
	memo         SessionMemo
	fallbackWait time.Duration
	logger       *zap.Logger
}

type ServiceConfig struct {
	Gateway      PaymentGateway
	Memo         SessionMemo
	FallbackWait time.Duration
}

func NewService(store storage.Store, gate *Gate, materializer *Materializer, cfg ServiceConfig, logger *zap.Logger) *Service {
	if cfg.FallbackWait < 0 {
		cfg.FallbackWait = 0
	}
	return &Service{
		gate:         gate,
		materializer: materializer,
		store:        store,
		gateway:      cfg.Gateway,
		memo:         cfg.Memo,
		fallbackWait: cfg.FallbackWait,
		logger:       logger,
	}
}

// PlaceCashOnDelivery est la voie synchrone: la commande est créée tout de suite, paiement en attente.
func (s *Service) PlaceCashOnDelivery(ctx context.Context, intent models.CheckoutIntent) (models.MaterializationResult, error) {
	intent.PaymentType = models.PaymentTypeCashOnDelivery
	intent.PaymentReference = ""
	intent, err := s.materializer.Price(ctx, intent)
	if err != nil {
		return models.MaterializationResult{}, err
	}
	return s.gate.Reconcile(ctx, intent)
}

// StartCardCheckout vérifie l'intent puis ouvre une session chez le prestataire.
// Les prix du catalogue partent dans la session: le webhook les reprend tels quels.
// Aucune commande n'est créée ici.
func (s *Service) StartCardCheckout(ctx context.Context, intent models.CheckoutIntent) (*models.GatewaySession, error) {
	if s.gateway == nil {
		return nil, &Error{Kind: KindIntegrity, Reason: "gateway_unavailable", Err: errors.New("aucun prestataire de paiement configuré")}
	}
	intent.PaymentType = models.PaymentTypeCard
	intent, err := s.materializer.Price(ctx, intent)
	if err != nil {
		return nil, err
	}
	quote, _, err := s.materializer.Quote(ctx, intent)
	if err != nil {
		return nil, err
	}
	session, err := s.gateway.CreateSession(ctx, intent, quote.Payable)
	if err != nil {
		return nil, &Error{Kind: KindIntegrity, Reason: "gateway_failure", Err: err}
	}
	s.logger.Info("💳 Session de paiement créée",
		zap.String("session_id", session.ID),
		zap.String("amount", quote.Payable.StringFixed(2)))
	return session, nil
}

// ConfirmCardPayment est la voie asynchrone (webhook). Rejouer la même confirmation
// retourne la commande existante.
func (s *Service) ConfirmCardPayment(ctx context.Context, paid *models.GatewayCheckout) (models.MaterializationResult, error) {
	if !paid.Paid {
		return models.MaterializationResult{}, &Error{Kind: KindPaymentPending, Reason: "payment_not_completed", Err: ErrPaymentNotCompleted}
	}
	intent := paid.Intent
	intent.PaymentType = models.PaymentTypeCard
	res, err := s.gate.Reconcile(ctx, intent)
	if err != nil {
		return res, err
	}
	s.remember(ctx, paid.SessionID, res.Order)
	return res, nil
}

// ResolveSuccess est la voie de secours de la page de succès: on attend brièvement
// la commande du webhook, puis on la crée soi-même si elle n'arrive pas.
func (s *Service) ResolveSuccess(ctx context.Context, sessionID string) (models.MaterializationResult, error) {
	if order := s.recalled(ctx, sessionID); order != nil {
		return models.MaterializationResult{Order: order, Existing: true}, nil
	}
	if s.gateway == nil {
		return models.MaterializationResult{}, &Error{Kind: KindIntegrity, Reason: "gateway_unavailable", Err: errors.New("aucun prestataire de paiement configuré")}
	}

	paid, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return models.MaterializationResult{}, &Error{Kind: KindNotFound, Reason: "session_not_found", Item: sessionID, Err: err}
	}
	if !paid.Paid {
		return models.MaterializationResult{}, &Error{Kind: KindPaymentPending, Reason: "payment_not_completed", Err: ErrPaymentNotCompleted}
	}

	if order, err := s.waitForWebhook(ctx, paid.Intent.ShippingDetailID); err != nil {
		return models.MaterializationResult{}, err
	} else if order != nil {
		s.remember(ctx, sessionID, order)
		return models.MaterializationResult{Order: order, Existing: true}, nil
	}

	s.logger.Info("⏱️ Webhook absent, création depuis la page de succès", zap.String("session_id", sessionID))
	return s.ConfirmCardPayment(ctx, paid)
}

// OrderByNumber sert la page de succès d'une commande COD.
func (s *Service) OrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := s.store.GetOrderByNumber(ctx, orderNumber)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &Error{Kind: KindNotFound, Reason: "order_not_found", Item: orderNumber, Err: err}
	}
	if err != nil {
		return nil, classify(err)
	}
	return order, nil
}

func (s *Service) waitForWebhook(ctx context.Context, shippingDetailID string) (*models.Order, error) {
	deadline := time.Now().Add(s.fallbackWait)
	for {
		order, err := s.gate.Lookup(ctx, shippingDetailID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, classify(err)
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(fallbackPollEvery):
		}
	}
}

func (s *Service) recalled(ctx context.Context, sessionID string) *models.Order {
	if s.memo == nil || sessionID == "" {
		return nil
	}
	number, err := s.memo.LookupCheckout(ctx, sessionID)
	if err != nil {
		s.logger.Warn("⚠️ Lecture cache session échouée", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	if number == "" {
		return nil
	}
	order, err := s.store.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil
	}
	return order
}

func (s *Service) remember(ctx context.Context, sessionID string, order *models.Order) {
	if s.memo == nil || sessionID == "" || order == nil {
		return
	}
	if err := s.memo.RememberCheckout(ctx, sessionID, order.OrderNumber); err != nil {
		s.logger.Warn("⚠️ Écriture cache session échouée", zap.String("session_id", sessionID), zap.Error(err))
	}
}

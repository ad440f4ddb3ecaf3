// Package lifecycle gère les transitions de statut d'une commande après sa création.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"cedra_checkout/internal/models"
	"cedra_checkout/internal/storage"
)

var (
	ErrTerminalState     = errors.New("commande dans un état terminal")
	ErrInvalidTransition = errors.New("transition de statut invalide")
	ErrTrackingRequired  = errors.New("transporteur et numéro de suivi requis")
	ErrOrderNotFound     = errors.New("commande introuvable")
)

var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled, models.OrderStatusRefunded},
	models.OrderStatusShipped:    {models.OrderStatusFulfilled, models.OrderStatusCancelled, models.OrderStatusRefunded},
}

// TransitionError garde la transition refusée.
type TransitionError struct {
	Kind error
	From models.OrderStatus
	To   models.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s → %s", e.Kind, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return e.Kind }

// Command décrit la transition demandée.
type Command struct {
	To             models.OrderStatus
	Courier        string
	TrackingNumber string
}

// CanTransition indique si from → to est un mouvement permis.
func CanTransition(from, to models.OrderStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Apply modifie order en place. Aucune écriture n'est faite ici.
func Apply(order *models.Order, cmd Command, now time.Time) error {
	from := order.OrderStatus
	if from.IsTerminal() {
		return &TransitionError{Kind: ErrTerminalState, From: from, To: cmd.To}
	}
	if !CanTransition(from, cmd.To) {
		return &TransitionError{Kind: ErrInvalidTransition, From: from, To: cmd.To}
	}

	switch cmd.To {
	case models.OrderStatusShipped:
		courier := strings.TrimSpace(cmd.Courier)
		tracking := strings.TrimSpace(cmd.TrackingNumber)
		if courier == "" || tracking == "" {
			return ErrTrackingRequired
		}
		order.Courier = courier
		order.TrackingNumber = tracking
	case models.OrderStatusFulfilled:
		// le paiement à la livraison est encaissé à la remise du colis
		order.PaymentStatus = models.PaymentStatusCompleted
	}

	order.OrderStatus = cmd.To
	order.UpdatedAt = now.UTC()
	return nil
}

// Notifier est prévenu après chaque transition validée.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus)
}

type Service struct {
	store    storage.Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(store storage.Store, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{store: store, notifier: notifier, logger: logger, now: time.Now}
}

// Transition applique cmd à la commande orderID. Le stock n'est jamais
// réintégré sur annulation ou remboursement.
func (s *Service) Transition(ctx context.Context, orderID string, cmd Command) (*models.Order, error) {
	var (
		updated *models.Order
		from    models.OrderStatus
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		from = order.OrderStatus
		if err := Apply(order, cmd, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, order, from); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("✅ Statut de commande mis à jour",
		zap.String("order_number", updated.OrderNumber),
		zap.String("from", string(from)),
		zap.String("to", string(updated.OrderStatus)))
	if s.notifier != nil {
		s.notifier.OrderStatusChanged(ctx, updated, from)
	}
	return updated, nil
}

// BulkResult est le résultat par commande d'une annulation groupée.
type BulkResult struct {
	OrderID string        `json:"order_id"`
	Order   *models.Order `json:"order,omitempty"`
	Err     error         `json:"-"`
}

// CancelMany annule chaque commande indépendamment: un échec n'arrête pas les autres.
func (s *Service) CancelMany(ctx context.Context, orderIDs []string) []BulkResult {
	results := make([]BulkResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		order, err := s.Transition(ctx, id, Command{To: models.OrderStatusCancelled})
		if err != nil {
			s.logger.Warn("⚠️ Annulation refusée", zap.String("order_id", id), zap.Error(err))
		}
		results = append(results, BulkResult{OrderID: id, Order: order, Err: err})
	}
	return results
}

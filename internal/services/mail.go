package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"cedra_checkout/internal/models"
	"cedra_checkout/internal/utils"
)

const mailTimeout = 30 * time.Second

// Sender envoie un e-mail HTML.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// DetailReader relit la fiche de livraison d'une commande.
type DetailReader interface {
	GetShippingDetail(ctx context.Context, id string) (*models.ShippingDetail, error)
}

// MailNotifier prévient l'acheteur et l'administrateur par e-mail.
// Les envois partent en arrière-plan, leurs erreurs sont seulement journalisées.
type MailNotifier struct {
	sender     Sender
	details    DetailReader
	adminEmail string
	logger     *zap.Logger
	wg         sync.WaitGroup
}

func NewMailNotifier(sender Sender, details DetailReader, adminEmail string, logger *zap.Logger) *MailNotifier {
	return &MailNotifier{sender: sender, details: details, adminEmail: adminEmail, logger: logger}
}

func (n *MailNotifier) OrderPlaced(ctx context.Context, order *models.Order, detail *models.ShippingDetail) {
	if detail == nil {
		return
	}
	if subject, html, err := utils.OrderConfirmationEmail(order, detail); err != nil {
		n.logger.Error("❌ Erreur génération e-mail confirmation", zap.Error(err))
	} else {
		n.send(ctx, detail.Email, subject, html, order.OrderNumber)
	}

	if n.adminEmail == "" {
		return
	}
	if subject, html, err := utils.AdminOrderEmail(order, detail); err != nil {
		n.logger.Error("❌ Erreur génération e-mail admin", zap.Error(err))
	} else {
		n.send(ctx, n.adminEmail, subject, html, order.OrderNumber)
	}
}

func (n *MailNotifier) OrderStatusChanged(ctx context.Context, order *models.Order, _ models.OrderStatus) {
	detail, err := n.details.GetShippingDetail(ctx, order.ShippingDetailID)
	if err != nil {
		n.logger.Warn("⚠️ Fiche de livraison introuvable, e-mail de statut non envoyé",
			zap.String("order_number", order.OrderNumber), zap.Error(err))
		return
	}
	subject, html, err := utils.OrderStatusEmail(order, detail)
	if err != nil {
		n.logger.Error("❌ Erreur génération e-mail statut", zap.Error(err))
		return
	}
	n.send(ctx, detail.Email, subject, html, order.OrderNumber)
}

func (n *MailNotifier) send(ctx context.Context, to, subject, html, orderNumber string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mailTimeout)
		defer cancel()
		if err := n.sender.Send(ctx, to, subject, html); err != nil {
			n.logger.Error("❌ Erreur envoi e-mail",
				zap.String("to", to), zap.String("order_number", orderNumber), zap.Error(err))
			return
		}
		n.logger.Info("📧 E-mail envoyé", zap.String("to", to), zap.String("order_number", orderNumber))
	}()
}

// Wait attend la fin des envois en cours.
func (n *MailNotifier) Wait() { n.wg.Wait() }

package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cedra_checkout/internal/checkout"
	"cedra_checkout/internal/middleware"
	"cedra_checkout/internal/models"
	"cedra_checkout/internal/services"
)

const maxWebhookBytes = int64(65536)

// CheckoutService est implémenté par *checkout.Service.
type CheckoutService interface {
	PlaceCashOnDelivery(ctx context.Context, intent models.CheckoutIntent) (models.MaterializationResult, error)
	StartCardCheckout(ctx context.Context, intent models.CheckoutIntent) (*models.GatewaySession, error)
	ConfirmCardPayment(ctx context.Context, paid *models.GatewayCheckout) (models.MaterializationResult, error)
	ResolveSuccess(ctx context.Context, sessionID string) (models.MaterializationResult, error)
	OrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
}

// WebhookParser vérifie la signature d'un webhook de paiement.
// Un événement sans intérêt donne (nil, nil).
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*models.GatewayCheckout, error)
}

type CheckoutHandler struct {
	service      CheckoutService
	webhooks     WebhookParser
	shippingCost decimal.Decimal
	logger       *zap.Logger
}

func NewCheckoutHandler(service CheckoutService, webhooks WebhookParser, shippingCost decimal.Decimal, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{service: service, webhooks: webhooks, shippingCost: shippingCost, logger: logger}
}

type checkoutRequest struct {
	ShippingDetailID string            `json:"shipping_detail_id" binding:"required"`
	Lines            []models.CartLine `json:"lines" binding:"required"`
	DiscountCodes    []string          `json:"discount_codes"`
}

func (h *CheckoutHandler) intent(c *gin.Context, req checkoutRequest, paymentType models.PaymentType) models.CheckoutIntent {
	return models.CheckoutIntent{
		UserID:           middleware.UserID(c),
		ShippingDetailID: req.ShippingDetailID,
		PaymentType:      paymentType,
		Lines:            req.Lines,
		DiscountCodes:    req.DiscountCodes,
		ShippingCost:     h.shippingCost,
	}
}

// CreateOrder crée une commande paiement à la livraison.
func (h *CheckoutHandler) CreateOrder(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides", "details": err.Error(), "kind": checkout.KindValidation})
		return
	}

	res, err := h.service.PlaceCashOnDelivery(c.Request.Context(), h.intent(c, req, models.PaymentTypeCashOnDelivery))
	if err != nil {
		respondCheckoutError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_id":     res.Order.ID,
		"order_number": res.Order.OrderNumber,
		"total":        res.Order.Total,
	})
}

// CreateSession ouvre une session de paiement carte et renvoie l'URL de redirection.
func (h *CheckoutHandler) CreateSession(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides", "details": err.Error(), "kind": checkout.KindValidation})
		return
	}

	session, err := h.service.StartCardCheckout(c.Request.Context(), h.intent(c, req, models.PaymentTypeCard))
	if err != nil {
		respondCheckoutError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "url": session.URL})
}

// Webhook reçoit la confirmation signée du prestataire. Une commande déjà créée
// par la page de succès répond aussi 200.
func (h *CheckoutHandler) Webhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Warn("❌ Lecture payload échouée", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Échec lecture body"})
		return
	}

	paid, err := h.webhooks.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, services.ErrInvalidSignature) {
			h.logger.Warn("❌ Signature webhook invalide", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Signature invalide"})
			return
		}
		h.logger.Warn("❌ Webhook illisible", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Payload invalide"})
		return
	}
	if paid == nil {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	res, err := h.service.ConfirmCardPayment(c.Request.Context(), paid)
	if err != nil {
		if checkout.KindOf(err) == checkout.KindPaymentPending {
			// paiement asynchrone: un second événement suivra
			c.JSON(http.StatusOK, gin.H{"received": true, "pending": true})
			return
		}
		respondCheckoutError(c, h.logger, err)
		return
	}

	h.logger.Info("📥 Webhook traité",
		zap.String("session_id", paid.SessionID),
		zap.String("order_number", res.Order.OrderNumber),
		zap.Bool("existing", res.Existing))
	c.JSON(http.StatusOK, gin.H{"received": true, "order_number": res.Order.OrderNumber, "existing": res.Existing})
}

// Success sert la page de succès, par session carte ou par numéro de commande COD.
func (h *CheckoutHandler) Success(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	orderNumber := strings.TrimSpace(c.Query("order_number"))

	switch {
	case sessionID != "":
		res, err := h.service.ResolveSuccess(c.Request.Context(), sessionID)
		if err != nil {
			respondCheckoutError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": res.Order, "existing": res.Existing})
	case orderNumber != "":
		order, err := h.service.OrderByNumber(c.Request.Context(), orderNumber)
		if err != nil {
			respondCheckoutError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": order, "existing": true})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id ou order_number requis", "kind": checkout.KindValidation})
	}
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cedra_checkout/internal/checkout"
	"cedra_checkout/internal/lifecycle"
	"cedra_checkout/internal/storage"
)

// statusFor traduit la classe d'erreur du pipeline en code HTTP.
func statusFor(kind checkout.Kind) int {
	switch kind {
	case checkout.KindValidation:
		return http.StatusBadRequest
	case checkout.KindNotFound:
		return http.StatusNotFound
	case checkout.KindRejected:
		return http.StatusUnprocessableEntity
	case checkout.KindConflict:
		return http.StatusConflict
	case checkout.KindPaymentPending:
		return http.StatusPaymentRequired
	default:
		return http.StatusServiceUnavailable
	}
}

func respondCheckoutError(c *gin.Context, logger *zap.Logger, err error) {
	var cerr *checkout.Error
	if !errors.As(err, &cerr) {
		logger.Error("❌ Erreur checkout inattendue", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service indisponible, réessayez", "kind": checkout.KindIntegrity})
		return
	}

	status := statusFor(cerr.Kind)
	body := gin.H{"error": cerr.Reason, "kind": cerr.Kind}
	if cerr.Item != "" {
		body["item"] = cerr.Item
	}
	if cerr.Available != nil {
		body["available"] = *cerr.Available
		body["requested"] = cerr.Requested
	}
	if cerr.Order != nil {
		body["order_number"] = cerr.Order.OrderNumber
	}
	if cerr.Kind == checkout.KindIntegrity {
		logger.Error("❌ Échec du checkout", zap.String("reason", cerr.Reason), zap.Error(err))
		body["error"] = "Service indisponible, réessayez"
		body["reason"] = cerr.Reason
	} else {
		logger.Info("⚠️ Checkout refusé", zap.String("reason", cerr.Reason), zap.String("item", cerr.Item))
	}
	c.JSON(status, body)
}

func respondTransitionError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Commande introuvable"})
	case errors.Is(err, lifecycle.ErrTrackingRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrTerminalState),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, storage.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Error("❌ Erreur mise à jour statut", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur mise à jour commande"})
	}
}

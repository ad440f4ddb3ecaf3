package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cedra_checkout/internal/lifecycle"
	"cedra_checkout/internal/models"
	"cedra_checkout/internal/storage"
)

type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
}

type StatusService interface {
	Transition(ctx context.Context, orderID string, cmd lifecycle.Command) (*models.Order, error)
	CancelMany(ctx context.Context, orderIDs []string) []lifecycle.BulkResult
}

// AdminOrderHandler regroupe les actions de l'équipe sur une commande existante.
type AdminOrderHandler struct {
	orders   OrderReader
	statuses StatusService
	logger   *zap.Logger
}

func NewAdminOrderHandler(orders OrderReader, statuses StatusService, logger *zap.Logger) *AdminOrderHandler {
	return &AdminOrderHandler{orders: orders, statuses: statuses, logger: logger}
}

func (h *AdminOrderHandler) Get(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Commande introuvable"})
		return
	}
	if err != nil {
		h.logger.Error("❌ Erreur lecture commande", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lecture commande"})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *AdminOrderHandler) Ship(c *gin.Context) {
	var req struct {
		Courier        string `json:"courier" binding:"required"`
		TrackingNumber string `json:"tracking_number" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Transporteur et numéro de suivi requis", "details": err.Error()})
		return
	}
	h.transition(c, lifecycle.Command{
		To:             models.OrderStatusShipped,
		Courier:        req.Courier,
		TrackingNumber: req.TrackingNumber,
	})
}

func (h *AdminOrderHandler) Deliver(c *gin.Context) {
	h.transition(c, lifecycle.Command{To: models.OrderStatusFulfilled})
}

func (h *AdminOrderHandler) Cancel(c *gin.Context) {
	h.transition(c, lifecycle.Command{To: models.OrderStatusCancelled})
}

func (h *AdminOrderHandler) Refund(c *gin.Context) {
	h.transition(c, lifecycle.Command{To: models.OrderStatusRefunded})
}

func (h *AdminOrderHandler) transition(c *gin.Context, cmd lifecycle.Command) {
	order, err := h.statuses.Transition(c.Request.Context(), c.Param("id"), cmd)
	if err != nil {
		respondTransitionError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// CancelMany annule une liste de commandes; chaque résultat est rendu séparément.
func (h *AdminOrderHandler) CancelMany(c *gin.Context) {
	var req struct {
		OrderIDs []string `json:"order_ids" binding:"required,min=1,max=100"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides", "details": err.Error()})
		return
	}

	results := h.statuses.CancelMany(c.Request.Context(), req.OrderIDs)
	out := make([]gin.H, 0, len(results))
	cancelled := 0
	for _, r := range results {
		entry := gin.H{"order_id": r.OrderID, "cancelled": r.Err == nil}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		} else {
			cancelled++
		}
		out = append(out, entry)
	}
	h.logger.Info("🗑️ Annulation groupée", zap.Int("requested", len(req.OrderIDs)), zap.Int("cancelled", cancelled))
	c.JSON(http.StatusOK, gin.H{"results": out, "cancelled": cancelled})
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cedra_checkout/internal/middleware"
	"cedra_checkout/internal/models"
	"cedra_checkout/internal/storage"
)

type ShippingDetailStore interface {
	CreateShippingDetail(ctx context.Context, detail *models.ShippingDetail) error
	GetShippingDetail(ctx context.Context, id string) (*models.ShippingDetail, error)
}

type ShippingDetailHandler struct {
	store  ShippingDetailStore
	logger *zap.Logger
}

func NewShippingDetailHandler(store ShippingDetailStore, logger *zap.Logger) *ShippingDetailHandler {
	return &ShippingDetailHandler{store: store, logger: logger}
}

// Create enregistre la fiche saisie avant le paiement.
func (h *ShippingDetailHandler) Create(c *gin.Context) {
	var detail models.ShippingDetail
	if err := c.ShouldBindJSON(&detail); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides", "details": err.Error()})
		return
	}
	detail.ID = uuid.NewString()
	detail.UserID = middleware.UserID(c)
	detail.CreatedAt = time.Time{}

	if err := h.store.CreateShippingDetail(c.Request.Context(), &detail); err != nil {
		h.logger.Error("❌ Erreur création fiche livraison", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur création fiche"})
		return
	}
	c.JSON(http.StatusCreated, detail)
}

// Get relit une fiche. Une fiche rattachée à un compte n'est visible que par lui ou par l'équipe.
func (h *ShippingDetailHandler) Get(c *gin.Context) {
	detail, err := h.store.GetShippingDetail(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Fiche introuvable"})
		return
	}
	if err != nil {
		h.logger.Error("❌ Erreur lecture fiche livraison", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lecture fiche"})
		return
	}

	if detail.UserID != nil && !c.GetBool("is_admin") && !c.GetBool("is_moderator") {
		if uid := middleware.UserID(c); uid == nil || *uid != *detail.UserID {
			c.JSON(http.StatusNotFound, gin.H{"error": "Fiche introuvable"})
			return
		}
	}
	c.JSON(http.StatusOK, detail)
}

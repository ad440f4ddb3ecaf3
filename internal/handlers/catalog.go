package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cedra_checkout/internal/models"
	"cedra_checkout/internal/storage"
)

// CatalogHandler sert l'administration du stock et des codes promo.
type CatalogHandler struct {
	catalog storage.Catalog
	logger  *zap.Logger
}

func NewCatalogHandler(catalog storage.Catalog, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, logger: logger}
}

type stockRequest struct {
	Name              string           `json:"name"`
	Price             *decimal.Decimal `json:"price"`
	Quantity          *int             `json:"quantity" binding:"required"`
	AllowBackorder    bool             `json:"allow_backorder"`
	LowStockThreshold int              `json:"low_stock_threshold" binding:"min=0"`
}

// priceError contrôle le prix: obligatoire pour un produit ou un bundle,
// facultatif pour un variant (prix du produit).
func (r stockRequest) priceError(required bool) string {
	if r.Price == nil {
		if required {
			return "Prix requis"
		}
		return ""
	}
	if r.Price.IsNegative() {
		return "Prix invalide"
	}
	return ""
}

func (r stockRequest) record(ref models.InventoryRef) models.InventoryRecord {
	price := decimal.Zero
	if r.Price != nil {
		price = *r.Price
	}
	return models.InventoryRecord{
		Ref:               ref,
		Name:              r.Name,
		Price:             price,
		Quantity:          *r.Quantity,
		AllowBackorder:    r.AllowBackorder,
		LowStockThreshold: r.LowStockThreshold,
	}
}

// SetProductStock fixe le compteur agrégé d'un produit.
func (h *CatalogHandler) SetProductStock(c *gin.Context) {
	var req stockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides: " + err.Error()})
		return
	}
	if msg := req.priceError(true); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	rec := req.record(models.InventoryRef{Kind: models.InventoryProduct, ID: c.Param("id")})
	if err := h.catalog.UpsertProduct(c.Request.Context(), rec); err != nil {
		h.logger.Error("❌ Erreur mise à jour stock produit", zap.String("product_id", rec.Ref.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur mise à jour stock"})
		return
	}
	h.logger.Info("📦 Stock mis à jour", zap.String("ref", rec.Ref.String()), zap.Int("quantity", rec.Quantity))
	c.JSON(http.StatusOK, rec)
}

// SetVariantStock fixe le compteur d'une combinaison taille/couleur.
func (h *CatalogHandler) SetVariantStock(c *gin.Context) {
	var req struct {
		stockRequest
		Size  string `json:"size"`
		Color string `json:"color"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides: " + err.Error()})
		return
	}
	if req.Size == "" && req.Color == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Taille ou couleur requise"})
		return
	}
	if msg := req.priceError(false); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	rec := req.record(models.InventoryRef{Kind: models.InventoryVariant, ID: c.Param("id"), Size: req.Size, Color: req.Color})
	if err := h.catalog.UpsertVariant(c.Request.Context(), rec); err != nil {
		h.logger.Error("❌ Erreur mise à jour stock variante", zap.String("ref", rec.Ref.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur mise à jour stock"})
		return
	}
	h.logger.Info("📦 Stock mis à jour", zap.String("ref", rec.Ref.String()), zap.Int("quantity", rec.Quantity))
	c.JSON(http.StatusOK, rec)
}

// SetBundle enregistre un bundle, son compteur et sa composition.
func (h *CatalogHandler) SetBundle(c *gin.Context) {
	var req struct {
		stockRequest
		Items []models.BundleProduct `json:"items" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides: " + err.Error()})
		return
	}
	if msg := req.priceError(true); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	for _, item := range req.Items {
		if item.ProductID == "" || item.Quantity <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Composition du bundle invalide"})
			return
		}
	}

	id := c.Param("id")
	bundle := models.Bundle{
		ID:        id,
		Name:      req.Name,
		Inventory: req.record(models.InventoryRef{Kind: models.InventoryBundle, ID: id}),
		Items:     req.Items,
	}
	if err := h.catalog.UpsertBundle(c.Request.Context(), bundle); err != nil {
		h.logger.Error("❌ Erreur enregistrement bundle", zap.String("bundle_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur enregistrement bundle"})
		return
	}
	c.JSON(http.StatusOK, bundle)
}

// GetInventory lit un compteur: ?kind=product|variant|bundle&id=…[&size=…&color=…]
func (h *CatalogHandler) GetInventory(c *gin.Context) {
	ref := models.InventoryRef{
		Kind:  models.InventoryKind(c.Query("kind")),
		ID:    c.Query("id"),
		Size:  c.Query("size"),
		Color: c.Query("color"),
	}
	switch ref.Kind {
	case models.InventoryProduct, models.InventoryVariant, models.InventoryBundle:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind invalide"})
		return
	}
	if ref.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id requis"})
		return
	}

	rec, err := h.catalog.GetInventory(c.Request.Context(), ref)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Compteur introuvable"})
		return
	}
	if err != nil {
		h.logger.Error("❌ Erreur lecture stock", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lecture stock"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"inventory": rec,
		"low_stock": rec.LowStockThreshold > 0 && rec.Quantity <= rec.LowStockThreshold,
	})
}

// OrderMovements liste les mouvements de stock d'une commande.
func (h *CatalogHandler) OrderMovements(c *gin.Context) {
	movements, err := h.catalog.ListStockMovements(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("❌ Erreur lecture mouvements", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lecture mouvements"})
		return
	}
	if movements == nil {
		movements = []models.StockMovement{}
	}
	c.JSON(http.StatusOK, gin.H{"movements": movements, "count": len(movements)})
}

// SetDiscountCode crée ou remplace un code promo.
func (h *CatalogHandler) SetDiscountCode(c *gin.Context) {
	var req struct {
		Type           models.DiscountType `json:"type" binding:"required"`
		Value          decimal.Decimal     `json:"value"`
		IsActive       *bool               `json:"is_active"`
		RemainingUses  *int                `json:"remaining_uses"`
		ExpiresAt      *time.Time          `json:"expires_at"`
		CanCumulate    bool                `json:"can_cumulate"`
		AssignedUserID *string             `json:"assigned_user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides: " + err.Error()})
		return
	}

	switch req.Type {
	case models.DiscountPercentage:
		if !req.Value.IsPositive() || req.Value.GreaterThan(decimal.NewFromInt(100)) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Pourcentage doit être entre 1 et 100"})
			return
		}
	case models.DiscountFixed:
		if !req.Value.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Montant fixe doit être positif"})
			return
		}
	case models.DiscountFreeShipping:
		req.Value = decimal.Zero
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Type de code invalide"})
		return
	}
	if req.RemainingUses != nil && *req.RemainingUses < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "remaining_uses négatif"})
		return
	}

	code := models.DiscountCode{
		Code:           models.NormalizeCode(c.Param("code")),
		Type:           req.Type,
		Value:          req.Value,
		IsActive:       req.IsActive == nil || *req.IsActive,
		RemainingUses:  req.RemainingUses,
		ExpiresAt:      req.ExpiresAt,
		CanCumulate:    req.CanCumulate,
		AssignedUserID: req.AssignedUserID,
	}
	if strings.TrimSpace(code.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Code requis"})
		return
	}
	if err := h.catalog.UpsertDiscountCode(c.Request.Context(), code); err != nil {
		h.logger.Error("❌ Erreur enregistrement code promo", zap.String("code", code.Code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur enregistrement code"})
		return
	}
	h.logger.Info("🎟️ Code promo enregistré", zap.String("code", code.Code), zap.String("type", string(code.Type)))
	c.JSON(http.StatusOK, code)
}

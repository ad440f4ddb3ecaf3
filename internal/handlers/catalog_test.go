package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func catalogRouter(s *stack) *gin.Engine {
	h := NewCatalogHandler(s.store, zap.NewNop())
	r := gin.New()
	r.PUT("/inventory/products/:id", h.SetProductStock)
	r.PUT("/inventory/variants/:id", h.SetVariantStock)
	r.PUT("/inventory/bundles/:id", h.SetBundle)
	r.GET("/inventory", h.GetInventory)
	r.GET("/orders/:id/movements", h.OrderMovements)
	r.PUT("/discount-codes/:code", h.SetDiscountCode)
	return r
}

func TestCatalogStockUpdates(t *testing.T) {
	s := newStack(t)
	r := catalogRouter(s)

	w := do(r, http.MethodPut, "/inventory/products/mug", gin.H{"name": "Mug", "price": "14.50", "quantity": 3, "low_stock_threshold": 5})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/inventory?kind=product&id=mug", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["low_stock"])
	inventory := body["inventory"].(map[string]any)
	assert.EqualValues(t, 3, inventory["quantity"])
	assert.Equal(t, "14.5", inventory["price"])

	w = do(r, http.MethodPut, "/inventory/variants/mug", gin.H{"quantity": 2, "size": "L", "color": "bleu"})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodGet, "/inventory?kind=variant&id=mug&size=L&color=bleu", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["low_stock"])
	// sans prix propre le variant reprend celui du produit
	assert.Equal(t, "14.5", body["inventory"].(map[string]any)["price"])

	w = do(r, http.MethodPut, "/inventory/products/mug", gin.H{"name": "Mug", "quantity": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodPut, "/inventory/products/mug", gin.H{"name": "Mug", "price": "-1", "quantity": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPut, "/inventory/variants/mug", gin.H{"quantity": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPut, "/inventory/products/mug", gin.H{"name": "Mug"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/inventory?kind=shelf&id=mug", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodGet, "/inventory?kind=product&id=ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCatalogBundleIsSellable(t *testing.T) {
	s := newStack(t)
	r := catalogRouter(s)

	w := do(r, http.MethodPut, "/inventory/bundles/duo", gin.H{
		"name":     "Duo mugs",
		"price":    "20",
		"quantity": 4,
		"items":    []gin.H{{"product_id": "mug", "quantity": 2}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPut, "/inventory/bundles/empty", gin.H{"price": "5", "quantity": 1, "items": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/inventory?kind=bundle&id=duo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 4, decode(t, w)["inventory"].(map[string]any)["quantity"])
}

func TestCatalogDiscountCodes(t *testing.T) {
	s := newStack(t)
	r := catalogRouter(s)

	w := do(r, http.MethodPut, "/discount-codes/summer", gin.H{"type": "percentage", "value": "15", "remaining_uses": 2, "can_cumulate": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SUMMER", decode(t, w)["code"])

	codes, err := s.store.GetDiscountCodes(context.Background(), []string{"SUMMER"})
	require.NoError(t, err)
	require.Contains(t, codes, "SUMMER")
	assert.True(t, codes["SUMMER"].IsActive)
	require.NotNil(t, codes["SUMMER"].RemainingUses)
	assert.Equal(t, 2, *codes["SUMMER"].RemainingUses)

	cases := []gin.H{
		{"type": "percentage", "value": "150"},
		{"type": "fixed", "value": "0"},
		{"type": "gift", "value": "5"},
		{"type": "fixed", "value": "5", "remaining_uses": -1},
	}
	for _, body := range cases {
		w = do(r, http.MethodPut, "/discount-codes/bad", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%v", body)
	}
}

func TestCatalogOrderMovements(t *testing.T) {
	s := newStack(t)
	r := catalogRouter(s)
	order := s.placeOrder(t)

	w := do(r, http.MethodGet, "/orders/"+order.ID+"/movements", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["count"])
	movement := body["movements"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 10, movement["prev_stock"])
	assert.EqualValues(t, 9, movement["new_stock"])

	w = do(r, http.MethodGet, "/orders/none/movements", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["count"])
}

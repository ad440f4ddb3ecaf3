package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cedra_checkout/internal/handlers"
	"cedra_checkout/internal/lifecycle"
	"cedra_checkout/internal/middleware"
	"cedra_checkout/internal/models"
	"cedra_checkout/internal/services"
	"cedra_checkout/internal/storage"
	"cedra_checkout/internal/utils"
)

var secret = []byte("test-secret")

type rejectingParser struct{}

func (rejectingParser) ParseWebhook([]byte, string) (*models.GatewayCheckout, error) {
	return nil, services.ErrInvalidSignature
}

type noOrders struct{}

func (noOrders) GetOrder(context.Context, string) (*models.Order, error) {
	return nil, storage.ErrNotFound
}

type counter struct {
	mu sync.Mutex
	n  map[string]int64
}

func (c *counter) IncrementRateLimit(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = map[string]int64{}
	}
	c.n[key]++
	return c.n[key], nil
}

func router(t *testing.T, limiter *counter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	deps := Deps{
		Checkout:        handlers.NewCheckoutHandler(nil, rejectingParser{}, decimal.Zero, logger),
		ShippingDetails: handlers.NewShippingDetailHandler(nil, logger),
		AdminOrders:     handlers.NewAdminOrderHandler(noOrders{}, lifecycle.NewService(nil, nil, logger), logger),
		Catalog:         handlers.NewCatalogHandler(nil, logger),
		JWTSecret:       secret,
		CORSOrigins:     []string{"https://shop.example.com"},
		Logger:          logger,
	}
	if limiter != nil {
		deps.RateLimiter = limiter
	}
	r := gin.New()
	RegisterRoutes(r, deps)
	return r
}

func token(t *testing.T, claims utils.Claims) string {
	t.Helper()
	tok, err := utils.GenerateJWT(secret, claims, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func serve(r http.Handler, method, path, auth, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := serve(router(t, nil), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminRoutesRequireStaff(t *testing.T) {
	r := router(t, nil)

	w := serve(r, http.MethodGet, "/api/admin/orders/o-1", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/api/admin/orders/o-1", "Bearer nope", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/api/admin/orders/o-1", token(t, utils.Claims{UserID: "u-1"}), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(r, http.MethodGet, "/api/admin/orders/o-1", token(t, utils.Claims{UserID: "u-2", IsAdmin: true}), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCatalogRoutesRequireStaff(t *testing.T) {
	r := router(t, nil)

	w := serve(r, http.MethodPut, "/api/admin/discount-codes/SUMMER", "", `{"type":"fixed","value":"5"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/api/admin/inventory?kind=product&id=mug", token(t, utils.Claims{UserID: "u-1"}), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// la requête atteint le handler, qui la rejette avant le stockage
	w = serve(r, http.MethodGet, "/api/admin/inventory?kind=shelf&id=mug", token(t, utils.Claims{UserID: "u-3", Role: "moderator"}), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookSkipsIdentity(t *testing.T) {
	w := serve(router(t, nil), http.MethodPost, "/api/webhooks/payment", "Bearer nope", "{}")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Signature invalide")
}

func TestCheckoutRoutesAreRateLimited(t *testing.T) {
	r := router(t, &counter{})

	for i := 0; i < middleware.CheckoutMaxRequests; i++ {
		w := serve(r, http.MethodPost, "/api/checkout/orders", "", "{}")
		require.Equal(t, http.StatusBadRequest, w.Code)
	}
	w := serve(r, http.MethodPost, "/api/checkout/orders", "", "{}")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// la page de succès n'est pas limitée
	w = serve(r, http.MethodGet, "/api/checkout/success", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/checkout/orders", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router(t, nil).ServeHTTP(w, req)

	assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

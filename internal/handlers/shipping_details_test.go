package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func shippingRouter(s *stack, userID string, staff bool) *gin.Engine {
	h := NewShippingDetailHandler(s.store, zap.NewNop())
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Set("is_admin", staff)
		c.Next()
	})
	r.POST("/shipping-details", h.Create)
	r.GET("/shipping-details/:id", h.Get)
	return r
}

var detailBody = gin.H{
	"full_name":   "Claire Dubois",
	"email":       "claire@example.com",
	"street":      "12 avenue Foch",
	"city":        "Nantes",
	"postal_code": "44000",
	"country":     "FR",
}

func TestShippingDetailCreateAndGet(t *testing.T) {
	s := newStack(t)
	owner := shippingRouter(s, "user-1", false)

	w := do(owner, http.MethodPost, "/shipping-details", detailBody)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode(t, w)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "user-1", created["user_id"])

	w = do(owner, http.MethodGet, "/shipping-details/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Nantes", decode(t, w)["city"])

	w = do(shippingRouter(s, "user-2", false), http.MethodGet, "/shipping-details/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(shippingRouter(s, "", true), http.MethodGet, "/shipping-details/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestShippingDetailValidation(t *testing.T) {
	s := newStack(t)
	r := shippingRouter(s, "", false)

	bad := gin.H{"full_name": "Claire", "email": "pas-un-email"}
	w := do(r, http.MethodPost, "/shipping-details", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/shipping-details/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnonymousShippingDetailIsReadable(t *testing.T) {
	s := newStack(t)
	r := shippingRouter(s, "", false)

	w := do(r, http.MethodPost, "/shipping-details", detailBody)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)

	w = do(r, http.MethodGet, "/shipping-details/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

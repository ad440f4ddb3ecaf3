package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cedra_checkout/internal/handlers"
	"cedra_checkout/internal/middleware"
)

// Deps regroupe ce dont les routes ont besoin. RateLimiter peut être nil.
type Deps struct {
	Checkout        *handlers.CheckoutHandler
	ShippingDetails *handlers.ShippingDetailHandler
	AdminOrders     *handlers.AdminOrderHandler
	Catalog         *handlers.CatalogHandler
	RateLimiter     middleware.Counter
	JWTSecret       []byte
	CORSOrigins     []string
	Logger          *zap.Logger
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     d.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	api := r.Group("/api")

	// Le webhook est authentifié par sa signature, pas par JWT
	api.POST("/webhooks/payment", d.Checkout.Webhook)

	identified := api.Group("", middleware.Identity(d.JWTSecret, d.Logger))

	limited := middleware.RateLimit(d.RateLimiter, "ratelimit:checkout",
		middleware.CheckoutMaxRequests, middleware.CheckoutCooldown, d.Logger)
	co := identified.Group("/checkout")
	{
		co.POST("/orders", limited, d.Checkout.CreateOrder)
		co.POST("/session", limited, d.Checkout.CreateSession)
		co.GET("/success", d.Checkout.Success)
	}

	sd := identified.Group("/shipping-details")
	{
		sd.POST("", d.ShippingDetails.Create)
		sd.GET("/:id", d.ShippingDetails.Get)
	}

	admin := identified.Group("/admin/orders", middleware.RequireStaff)
	{
		admin.POST("/cancel", d.AdminOrders.CancelMany)
		admin.GET("/:id", d.AdminOrders.Get)
		admin.POST("/:id/ship", d.AdminOrders.Ship)
		admin.POST("/:id/deliver", d.AdminOrders.Deliver)
		admin.POST("/:id/cancel", d.AdminOrders.Cancel)
		admin.POST("/:id/refund", d.AdminOrders.Refund)
		admin.GET("/:id/movements", d.Catalog.OrderMovements)
	}

	catalog := identified.Group("/admin", middleware.RequireStaff)
	{
		catalog.GET("/inventory", d.Catalog.GetInventory)
		catalog.PUT("/inventory/products/:id", d.Catalog.SetProductStock)
		catalog.PUT("/inventory/variants/:id", d.Catalog.SetVariantStock)
		catalog.PUT("/inventory/bundles/:id", d.Catalog.SetBundle)
		catalog.PUT("/discount-codes/:code", d.Catalog.SetDiscountCode)
	}
}

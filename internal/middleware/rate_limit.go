package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// Par minute et par IP sur les routes de création de commande
	CheckoutMaxRequests = 20
	CheckoutCooldown    = 1 * time.Minute
)

// Counter compte les requêtes dans une fenêtre glissante.
type Counter interface {
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimit limite le nombre de requêtes par IP. Si le compteur est
// indisponible la requête passe.
func RateLimit(counter Counter, prefix string, max int64, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if counter == nil {
			c.Next()
			return
		}
		key := prefix + ":" + c.ClientIP()

		requests, err := counter.IncrementRateLimit(c.Request.Context(), key, window)
		if err != nil {
			logger.Warn("⚠️ Rate limit indisponible", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if requests > max {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       fmt.Sprintf("Trop de requêtes. Réessayez dans %d secondes", int(window.Seconds())),
				"retry_after": int(window.Seconds()),
			})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", max))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", max-requests))
		c.Next()
	}
}

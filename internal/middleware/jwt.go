package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cedra_checkout/internal/utils"
)

const claimsKey = "claims"

// Identity lit le jeton Bearer s'il est présent. Sans jeton la requête
// continue en anonyme; un jeton invalide est refusé.
func Identity(secret []byte, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Format Authorization invalide"})
			c.Abort()
			return
		}

		claims, err := utils.ParseJWT(secret, parts[1])
		if err != nil {
			logger.Info("❌ Jeton refusé", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token invalide"})
			c.Abort()
			return
		}

		c.Set(claimsKey, claims)
		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("is_admin", claims.IsAdmin || claims.Role == "admin")
		c.Set("is_moderator", claims.IsModerator || claims.Role == "moderator")
		c.Next()
	}
}

// UserID retourne l'utilisateur authentifié, nil en anonyme.
func UserID(c *gin.Context) *string {
	id := c.GetString("user_id")
	if id == "" {
		return nil
	}
	return &id
}

// AuthRequired refuse les requêtes sans identité.
func AuthRequired(c *gin.Context) {
	if _, ok := c.Get(claimsKey); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token manquant"})
		c.Abort()
		return
	}
	c.Next()
}

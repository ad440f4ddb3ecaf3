package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cedra_checkout/internal/utils"
)

// RequireStaff vérifie que l'utilisateur est administrateur ou modérateur.
func RequireStaff(c *gin.Context) {
	v, exists := c.Get(claimsKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Utilisateur non authentifié"})
		c.Abort()
		return
	}
	if claims, ok := v.(*utils.Claims); !ok || !claims.IsStaff() {
		c.JSON(http.StatusForbidden, gin.H{"error": "Accès réservé à l'équipe"})
		c.Abort()
		return
	}
	c.Next()
}

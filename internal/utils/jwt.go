package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims est le contenu du jeton émis par le service d'authentification.
type Claims struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	IsAdmin     bool   `json:"is_admin,omitempty"`
	IsModerator bool   `json:"is_moderator,omitempty"`
	jwt.RegisteredClaims
}

// IsStaff indique un administrateur ou un modérateur.
func (c *Claims) IsStaff() bool {
	return c.IsAdmin || c.IsModerator || c.Role == "admin" || c.Role == "moderator"
}

func GenerateJWT(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("JWT_SECRET non configuré")
	}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseJWT vérifie la signature HMAC et l'expiration.
func ParseJWT(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("méthode de signature inattendue: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("user_id manquant")
	}
	return claims, nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// CheckoutMemoTTL couvre largement les rechargements de la page de succès.
	CheckoutMemoTTL = 24 * time.Hour
)

// Client est le sous-ensemble de *redis.Client utilisé ici.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

type Cache struct {
	client Client
	logger *zap.Logger
}

func New(client Client, logger *zap.Logger) *Cache {
	return &Cache{client: client, logger: logger}
}

func cartKey(userID string) string { return "cart:" + userID }

func checkoutKey(sessionID string) string { return "checkout_session:" + sessionID }

// --- Panier ---

// ClearCart supprime le panier d'un utilisateur après sa commande.
func (c *Cache) ClearCart(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("suppression panier %s: %w", userID, err)
	}
	return nil
}

// --- Sessions de paiement ---

// RememberCheckout associe une session de paiement au numéro de commande créé.
func (c *Cache) RememberCheckout(ctx context.Context, sessionID, orderNumber string) error {
	return c.client.Set(ctx, checkoutKey(sessionID), orderNumber, CheckoutMemoTTL).Err()
}

// LookupCheckout retourne "" si la session n'est pas connue.
func (c *Cache) LookupCheckout(ctx context.Context, sessionID string) (string, error) {
	number, err := c.client.Get(ctx, checkoutKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return number, nil
}

// --- Rate Limiting ---

// IncrementRateLimit incrémente le compteur de key; la fenêtre démarre au premier hit.
func (c *Cache) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			c.logger.Warn("⚠️ Expiration rate limit non posée", zap.String("key", key), zap.Error(err))
		}
	}
	return n, nil
}

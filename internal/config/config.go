package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DriverSQLite = "sqlite"
	DriverScylla = "scylla"
)

// Config regroupe toute la configuration du service, lue depuis l'environnement.
type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"sqlite"`
	SQLitePath    string `envconfig:"SQLITE_PATH" default:"cedra_checkout.db"`

	ScyllaHosts            []string `envconfig:"SCYLLA_HOSTS" default:"127.0.0.1"`
	ScyllaSSLEnabled       bool     `envconfig:"SCYLLA_SSL_ENABLED" default:"false"`
	ScyllaCACertPath       string   `envconfig:"SCYLLA_SSL_CA_PATH"`
	ScyllaProductsKeyspace string   `envconfig:"SCYLLA_KS_PRODUCTS_KEYSPACE" default:"cedra_products"`
	ScyllaProductsRole     string   `envconfig:"SCYLLA_KS_PRODUCTS_ROLE"`
	ScyllaProductsPassword string   `envconfig:"SCYLLA_KS_PRODUCTS_PASSWORD"`
	ScyllaOrdersKeyspace   string   `envconfig:"SCYLLA_KS_ORDERS_KEYSPACE" default:"cedra_orders"`
	ScyllaOrdersRole       string   `envconfig:"SCYLLA_KS_ORDERS_ROLE"`
	ScyllaOrdersPassword   string   `envconfig:"SCYLLA_KS_ORDERS_PASSWORD"`

	// RedisHost vide = pas de cache (panier non purgé, pas de mémo de session).
	RedisHost     string `envconfig:"REDIS_HOST"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	Currency            string `envconfig:"CURRENCY" default:"eur"`
	FrontendURL         string `envconfig:"FRONTEND_URL" default:"http://localhost:5173"`

	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	MailFrom     string `envconfig:"MAIL_FROM" default:"noreply@eldocam.com"`
	AdminEmail   string `envconfig:"ADMIN_EMAIL"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"order-events"`

	JWTSecret   string   `envconfig:"JWT_SECRET"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173"`

	ShippingCost   decimal.Decimal `envconfig:"SHIPPING_COST" default:"4.90"`
	CheckoutWindow time.Duration   `envconfig:"CHECKOUT_WINDOW" default:"30m"`
	FallbackWait   time.Duration   `envconfig:"CHECKOUT_FALLBACK_WAIT" default:"2s"`
}

// Load lit le fichier .env s'il existe puis l'environnement.
func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		logger.Info("⚠️ Aucun fichier .env trouvé, on continue avec les variables d'environnement du système")
	} else {
		logger.Info("✅ Fichier .env chargé avec succès")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("configuration invalide: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH requis avec STORAGE_DRIVER=sqlite")
		}
	case DriverScylla:
		if len(c.ScyllaHosts) == 0 {
			return fmt.Errorf("SCYLLA_HOSTS requis avec STORAGE_DRIVER=scylla")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER inconnu: %q", c.StorageDriver)
	}
	if c.ShippingCost.IsNegative() {
		return fmt.Errorf("SHIPPING_COST négatif")
	}
	if c.CheckoutWindow <= 0 {
		return fmt.Errorf("CHECKOUT_WINDOW doit être positif")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

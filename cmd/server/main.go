package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cedra_checkout/internal/cache"
	"cedra_checkout/internal/checkout"
	"cedra_checkout/internal/config"
	"cedra_checkout/internal/database"
	"cedra_checkout/internal/handlers"
	"cedra_checkout/internal/lifecycle"
	"cedra_checkout/internal/middleware"
	"cedra_checkout/internal/routes"
	"cedra_checkout/internal/services"
	"cedra_checkout/internal/stock"
	"cedra_checkout/internal/storage"
	"cedra_checkout/internal/storage/scylla"
	"cedra_checkout/internal/storage/sqlite"
	"cedra_checkout/internal/utils"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("❌ Configuration invalide", zap.Error(err))
	}
	logger = buildLogger(cfg, logger)

	ctx := context.Background()

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("❌ Connexion au stockage impossible", zap.Error(err))
	}
	defer closeStore()

	// Redis est optionnel: sans lui le panier n'est pas purgé et le rate limit est désactivé
	var (
		carts   checkout.CartCleaner
		memo    checkout.SessionMemo
		limiter middleware.Counter
	)
	if cfg.RedisHost != "" {
		rdb, err := database.ConnectRedis(ctx, cfg, logger)
		if err != nil {
			logger.Warn("⚠️ Redis indisponible, cache désactivé", zap.Error(err))
		} else {
			defer rdb.Close()
			c := cache.New(rdb, logger)
			carts, memo, limiter = c, c, c
		}
	}

	stripeGateway := services.NewStripeGateway(services.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Currency:      cfg.Currency,
		FrontendURL:   cfg.FrontendURL,
	}, logger)
	var gateway checkout.PaymentGateway
	if cfg.StripeSecretKey != "" {
		gateway = stripeGateway
		logger.Info("✅ Stripe initialisé")
	} else {
		logger.Warn("⚠️ STRIPE_SECRET_KEY manquant, paiement carte désactivé")
	}

	notifiers, shutdownNotifiers := buildNotifiers(cfg, store, logger)
	defer shutdownNotifiers()

	ledger := stock.NewLedger(logger)
	materializer := checkout.NewMaterializer(store, ledger, logger)
	gate := checkout.NewGate(store, materializer, notifiers, carts, cfg.CheckoutWindow, logger)
	checkoutService := checkout.NewService(store, gate, materializer, checkout.ServiceConfig{
		Gateway:      gateway,
		Memo:         memo,
		FallbackWait: cfg.FallbackWait,
	}, logger)
	statuses := lifecycle.NewService(store, notifiers, logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	routes.RegisterRoutes(r, routes.Deps{
		Checkout:        handlers.NewCheckoutHandler(checkoutService, stripeGateway, cfg.ShippingCost, logger),
		ShippingDetails: handlers.NewShippingDetailHandler(store, logger),
		AdminOrders:     handlers.NewAdminOrderHandler(store, statuses, logger),
		Catalog:         handlers.NewCatalogHandler(store, logger),
		RateLimiter:     limiter,
		JWTSecret:       []byte(cfg.JWTSecret),
		CORSOrigins:     cfg.CORSOrigins,
		Logger:          logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("🚀 Serveur Cedra Checkout lancé", zap.String("port", cfg.Port), zap.String("storage", cfg.StorageDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("❌ Erreur serveur", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Arrêt du serveur...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("❌ Arrêt forcé du serveur", zap.Error(err))
	}
	logger.Info("✅ Serveur arrêté")
}

func buildLogger(cfg *config.Config, fallback *zap.Logger) *zap.Logger {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		fallback.Warn("⚠️ LOG_LEVEL invalide, niveau info conservé", zap.String("level", cfg.LogLevel))
		return fallback
	}
	zc := zap.NewProductionConfig()
	if !cfg.IsProduction() {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	logger, err := zc.Build()
	if err != nil {
		return fallback
	}
	return logger
}

// backend est implémenté par les deux stockages.
type backend interface {
	storage.Store
	storage.Catalog
}

func openStore(cfg *config.Config, logger *zap.Logger) (backend, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverScylla:
		manager := database.NewScyllaManager(cfg, logger)
		products, err := manager.GetSession(cfg.ScyllaProductsKeyspace)
		if err != nil {
			manager.Close()
			return nil, nil, err
		}
		orders, err := manager.GetSession(cfg.ScyllaOrdersKeyspace)
		if err != nil {
			manager.Close()
			return nil, nil, err
		}
		logger.Info("✅ ScyllaDB connecté",
			zap.String("products", cfg.ScyllaProductsKeyspace),
			zap.String("orders", cfg.ScyllaOrdersKeyspace))
		return scylla.New(products, orders, logger), manager.Close, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("✅ SQLite ouvert", zap.String("path", cfg.SQLitePath))
		return store, func() { _ = store.Close() }, nil
	}
	return nil, nil, fmt.Errorf("STORAGE_DRIVER inconnu: %q", cfg.StorageDriver)
}

// buildNotifiers assemble les e-mails et les événements Kafka selon la configuration.
func buildNotifiers(cfg *config.Config, details services.DetailReader, logger *zap.Logger) (services.Fanout, func()) {
	var (
		fanout  services.Fanout
		closers []func()
	)

	if cfg.SMTPHost != "" {
		mailer := utils.NewMailer(utils.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
		mails := services.NewMailNotifier(mailer, details, cfg.AdminEmail, logger)
		fanout = append(fanout, mails)
		closers = append(closers, mails.Wait)
		logger.Info("✅ Notifications e-mail activées", zap.String("smtp", cfg.SMTPHost))
	} else {
		logger.Warn("⚠️ SMTP_HOST manquant, aucun e-mail ne sera envoyé")
	}

	if len(cfg.KafkaBrokers) > 0 {
		events := services.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		fanout = append(fanout, events)
		closers = append(closers, func() {
			if err := events.Close(); err != nil {
				logger.Warn("⚠️ Fermeture Kafka", zap.Error(err))
			}
		})
		logger.Info("✅ Événements Kafka activés", zap.String("topic", cfg.KafkaTopic))
	}

	return fanout, func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}
}

package database

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cedra_checkout/internal/config"
)

// --- Configuration ScyllaDB ---
type ScyllaKeyspaceConfig struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	SSLEnabled  bool
	CACertPath  string
	Timeout     time.Duration
	NumConns    int
	Consistency gocql.Consistency
}

// ScyllaManager garde une session par keyspace.
type ScyllaManager struct {
	sessions map[string]*gocql.Session // keyspace → session
	configs  map[string]ScyllaKeyspaceConfig
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewScyllaManager prépare les keyspaces produits et commandes. Aucune connexion n'est ouverte ici.
func NewScyllaManager(cfg *config.Config, logger *zap.Logger) *ScyllaManager {
	return &ScyllaManager{
		sessions: make(map[string]*gocql.Session),
		configs:  loadScyllaConfigs(cfg),
		logger:   logger,
	}
}

func loadScyllaConfigs(cfg *config.Config) map[string]ScyllaKeyspaceConfig {
	configs := make(map[string]ScyllaKeyspaceConfig)

	base := ScyllaKeyspaceConfig{
		Hosts:       cfg.ScyllaHosts,
		SSLEnabled:  cfg.ScyllaSSLEnabled,
		CACertPath:  cfg.ScyllaCACertPath,
		Timeout:     5 * time.Second,
		NumConns:    20,
		Consistency: gocql.Quorum,
	}

	// --- Keyspace Produits ---
	if ks := cfg.ScyllaProductsKeyspace; ks != "" {
		products := base
		products.Keyspace = ks
		products.Username = cfg.ScyllaProductsRole
		products.Password = cfg.ScyllaProductsPassword
		configs[ks] = products
	}

	// --- Keyspace Commandes ---
	if ks := cfg.ScyllaOrdersKeyspace; ks != "" {
		orders := base
		orders.Keyspace = ks
		orders.Username = cfg.ScyllaOrdersRole
		orders.Password = cfg.ScyllaOrdersPassword
		configs[ks] = orders
	}

	return configs
}

// createScyllaCluster crée une configuration de cluster pour un keyspace
func createScyllaCluster(config ScyllaKeyspaceConfig) (*gocql.ClusterConfig, error) {
	cluster := gocql.NewCluster(config.Hosts...)
	cluster.Keyspace = config.Keyspace
	cluster.Consistency = config.Consistency
	// les LWT du checkout passent par Paxos: SERIAL pour voir les écritures conditionnelles des autres instances
	cluster.SerialConsistency = gocql.Serial
	cluster.Timeout = config.Timeout
	cluster.NumConns = config.NumConns

	cluster.MaxWaitSchemaAgreement = 30 * time.Second
	cluster.ReconnectInterval = 1 * time.Second
	if config.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		}
	}

	if config.SSLEnabled && config.CACertPath != "" {
		caCert, err := os.ReadFile(config.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("impossible de lire le certificat CA: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("impossible de parser le certificat CA")
		}
		cluster.SslOpts = &gocql.SslOptions{
			Config:                 &tls.Config{RootCAs: caCertPool, MinVersion: tls.VersionTLS12},
			EnableHostVerification: true,
		}
	}

	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())

	return cluster, nil
}

// GetSession retourne une session pour un keyspace donné
func (sm *ScyllaManager) GetSession(keyspace string) (*gocql.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	config, exists := sm.configs[keyspace]
	if !exists {
		return nil, fmt.Errorf("keyspace '%s' non configuré", keyspace)
	}

	if session, exists := sm.sessions[keyspace]; exists {
		if err := session.Query("SELECT now() FROM system.local").Exec(); err == nil {
			return session, nil
		}
		// Si la session est invalide, la recréer
		session.Close()
	}

	cluster, err := createScyllaCluster(config)
	if err != nil {
		return nil, fmt.Errorf("erreur configuration cluster pour %s: %w", keyspace, err)
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("erreur création session pour %s: %w", keyspace, err)
	}

	sm.sessions[keyspace] = session
	sm.logger.Info("✅ Nouvelle session ScyllaDB",
		zap.String("keyspace", keyspace),
		zap.String("role", config.Username))

	return session, nil
}

// Close ferme toutes les sessions ScyllaDB
func (sm *ScyllaManager) Close() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for keyspace, session := range sm.sessions {
		session.Close()
		sm.logger.Info("🔌 Session ScyllaDB fermée", zap.String("keyspace", keyspace))
	}
	sm.sessions = make(map[string]*gocql.Session)
}

// ConnectRedis ouvre le client Redis et vérifie la connexion.
func ConnectRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	if cfg.RedisHost == "" {
		return nil, fmt.Errorf("REDIS_HOST non configuré")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisHost,
		Password:     cfg.RedisPassword,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("impossible de se connecter à Redis: %w", err)
	}
	logger.Info("✅ Connecté à Redis", zap.String("addr", cfg.RedisHost))
	return client, nil
}

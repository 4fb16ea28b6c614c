package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/pharma-scheduling/internal/approval"
	"github.com/wolfman30/pharma-scheduling/internal/audit"
	appconfig "github.com/wolfman30/pharma-scheduling/internal/config"
	"github.com/wolfman30/pharma-scheduling/internal/pharma"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildQueries connects the scheduling store. Without DATABASE_URL an in-memory store is used and
// the returned pool is nil.
func BuildQueries(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (pharma.Queries, *pgxpool.Pool, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsProduction() {
			return nil, nil, fmt.Errorf("bootstrap: DATABASE_URL is required in production")
		}
		logger.Warn("DATABASE_URL not set; using in-memory scheduling store")
		return pharma.NewInMemoryQueries(), nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pharma.NewPostgresQueries(pool), pool, nil
}

// BuildAuditRecorder opens the approval audit log. AUDIT_DATABASE_URL wins over DATABASE_URL; with
// neither the trail is kept in memory.
func BuildAuditRecorder(cfg *appconfig.Config, logger *logging.Logger) (audit.Recorder, *sql.DB, error) {
	if logger == nil {
		logger = logging.Default()
	}
	dsn := ""
	if cfg != nil {
		dsn = strings.TrimSpace(cfg.AuditDatabaseURL)
		if dsn == "" {
			dsn = strings.TrimSpace(cfg.DatabaseURL)
		}
	}
	if dsn == "" {
		logger.Warn("no audit database configured; approval audit kept in memory")
		return audit.NewMemoryRecorder(), nil, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: open audit db: %w", err)
	}
	return audit.NewApprovalAuditService(db), db, nil
}

// BuildWorkflowConfigs layers the YAML file (if any) under Redis-held overrides (if any).
func BuildWorkflowConfigs(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (approval.ConfigStore, error) {
	if logger == nil {
		logger = logging.Default()
	}
	static := approval.NewStaticConfigStore()
	if cfg != nil && strings.TrimSpace(cfg.WorkflowConfigFile) != "" {
		loaded, err := approval.LoadStaticConfigStore(cfg.WorkflowConfigFile)
		if err != nil {
			return nil, err
		}
		static = loaded
		logger.Info("workflow configuration loaded", "file", cfg.WorkflowConfigFile)
	}
	if redisClient == nil {
		return static, nil
	}
	return approval.NewRedisConfigStore(redisClient, static), nil
}

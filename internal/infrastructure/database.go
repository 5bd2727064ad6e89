package infrastructure

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/composite-order-service/internal/config"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultMaxIdleConns   = 10
	defaultMaxOpenConns   = 50
	defaultConnLifetime   = 1 * time.Hour
)

func NewPostgresConnection(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("database dsn is required")
	}

	connectTimeout := cfg.PingInterval
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	maxOpenConns := cfg.MaxActiveConns
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxConnLifetime := cfg.MaxConnLifetime
	if maxConnLifetime <= 0 {
		maxConnLifetime = defaultConnLifetime
	}

	policy := newRetryPolicy("postgres", cfg.MaxRetry, cfg.ReconnectFactor, cfg.MinJitter, cfg.MaxJitter)

	var db *sqlx.DB
	err := policy.do(ctx, maskDSN(cfg.DSN), func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		conn, err := sqlx.ConnectContext(attemptCtx, "postgres", cfg.DSN)
		if err != nil {
			return err
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(maxIdleConns)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxLifetime(maxConnLifetime)

	logrus.WithFields(logrus.Fields{
		"max_idle_conns":    maxIdleConns,
		"max_active_conns":  maxOpenConns,
		"max_conn_lifetime": maxConnLifetime,
	}).Info("postgres connection established")

	return db, nil
}

// maskDSN hides the credentials part of a URL style DSN.
func maskDSN(dsn string) string {
	idx := strings.LastIndex(dsn, "@")
	if idx == -1 {
		return dsn
	}

	prefix := dsn[:idx]
	schemeIdx := strings.Index(prefix, "://")
	if schemeIdx == -1 {
		return "***" + dsn[idx:]
	}

	return prefix[:schemeIdx+3] + "***" + dsn[idx:]
}

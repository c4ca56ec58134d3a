// Package postgres stores accounts and the world in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/twentytwenty/mud/internal/config"
)

// Pool is the connection pool shared by the account and world repositories.
type Pool struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPool connects to the database described by cfg and verifies it answers.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a connected Pool or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	start := time.Now()
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
	}

	logger = logger.With(zap.String("database", cfg.Name))
	logger.Info("database connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Pool{pool: pool, logger: logger}, nil
}

// Health pings the database, giving up after timeout.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// HealthCheck returns Health bound to timeout, in the shape the HTTP health
// endpoint takes.
func (p *Pool) HealthCheck(timeout time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return p.Health(ctx, timeout)
	}
}

// Watch pings the database every interval until done is closed, logging
// failures and recoveries.
//
// Postcondition: Returns nil once done is closed.
func (p *Pool) Watch(done <-chan struct{}, interval, timeout time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			err := p.Health(context.Background(), timeout)
			switch {
			case err != nil:
				p.logger.Warn("database health check failed", zap.Error(err))
			case !healthy:
				p.logger.Info("database reachable again")
			}
			healthy = err == nil
		}
	}
}

// Stats reports pool utilisation for logging.
func (p *Pool) Stats() (total, idle int32) {
	s := p.pool.Stat()
	return s.TotalConns(), s.IdleConns()
}

// Close releases all connections.
//
// Postcondition: The pool is no longer usable.
func (p *Pool) Close() {
	total, idle := p.Stats()
	p.pool.Close()
	p.logger.Info("database pool closed", zap.Int32("total_conns", total), zap.Int32("idle_conns", idle))
}

// DB returns the underlying pgxpool.Pool for use by repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}

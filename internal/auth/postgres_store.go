package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig describes how the credential store initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
}

// PostgresCredentialStore reads service credentials from a Postgres table
// through an explicitly owned connection pool. The pool is opened once at
// startup, reconnects on failure, and is released during shutdown via Close.
type PostgresCredentialStore struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

// NewPostgresCredentialStore opens a Postgres-backed credential store using
// the provided configuration.
func NewPostgresCredentialStore(ctx context.Context, cfg PostgresConfig) (*PostgresCredentialStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres credential dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres credential config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = map[string]string{}
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres credential pool: %w", err)
	}
	return &PostgresCredentialStore{pool: pool, acquireTimeout: cfg.AcquireTimeout}, nil
}

// FindByIdentifier fetches the credential row for the exact identifier match.
func (s *PostgresCredentialStore) FindByIdentifier(ctx context.Context, identifier string) (ServiceCredential, bool, error) {
	if s == nil || s.pool == nil {
		return ServiceCredential{}, false, fmt.Errorf("postgres credential pool not configured")
	}
	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}
	row := s.pool.QueryRow(ctx, `
SELECT id, service_name, service_identifier, secret_hash
FROM service_credentials
WHERE service_identifier = $1
`, identifier)
	var credential ServiceCredential
	if err := row.Scan(&credential.ID, &credential.ServiceName, &credential.ServiceIdentifier, &credential.SecretHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ServiceCredential{}, false, nil
		}
		return ServiceCredential{}, false, err
	}
	return credential, true, nil
}

// Ping verifies the pool can reach Postgres.
func (s *PostgresCredentialStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres credential pool not configured")
	}
	return s.pool.Ping(ctx)
}

// Close releases the Postgres connection pool resources, bounded by ctx.
func (s *PostgresCredentialStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PingTimeout bounds plain connectivity checks.
const PingTimeout = 5 * time.Second

// PostgresClient owns the pool of one logical database.
type PostgresClient struct {
	Pool *pgxpool.Pool
	name string
}

func NewPostgresClient(ctx context.Context, name, connString string) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse connection string: %w", name, err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create connection pool: %w", name, err)
	}

	client := &PostgresClient{Pool: pool, name: name}
	if err := client.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return client, nil
}

// Name is the logical database name ("chat" or "catalog").
func (p *PostgresClient) Name() string {
	return p.name
}

// Ping verifies the database answers within PingTimeout.
func (p *PostgresClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()
	if err := p.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("%s: unable to ping database: %w", p.name, err)
	}
	return nil
}

// Migrate applies the embedded migrations found in dir of source. Each logical
// database keeps its own version table so both can share one physical
// database.
func (p *PostgresClient) Migrate(connString string, source fs.FS, dir string) error {
	sourceDriver, err := iofs.New(source, dir)
	if err != nil {
		return fmt.Errorf("%s: create migration source: %w", p.name, err)
	}

	target, err := withMigrationsTable(connString, p.name+"_schema_migrations")
	if err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, target)
	if err != nil {
		return fmt.Errorf("%s: create migrator: %w", p.name, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: migration failed: %w", p.name, err)
	}
	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}

// CheckConnection opens a single connection with a bounded timeout and closes
// it again. It touches no schema.
func CheckConnection(ctx context.Context, connString string) error {
	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx)
}

func withMigrationsTable(connString, table string) (string, error) {
	u, err := url.Parse(connString)
	if err != nil {
		return "", fmt.Errorf("parse connection string: %w", err)
	}
	q := u.Query()
	q.Set("x-migrations-table", table)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

package store

import (
	"database/sql"
	"errors"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

const (
	pgPoolSize    = 25
	pgConnMaxLife = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the PostgreSQL backend, selected by a postgres:// DSN.
type PostgresStore struct {
	*sqlStore
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the DSN and applies the schema.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, errors.New("postgres store: DSN not set")
	}
	db, err := openMigrated("postgres", cfg.DSN, postgresMigrations, func(db *sql.DB) {
		db.SetMaxOpenConns(pgPoolSize)
		db.SetMaxIdleConns(pgPoolSize)
		db.SetConnMaxLifetime(pgConnMaxLife)
	})
	if err != nil {
		return nil, err
	}
	return &PostgresStore{sqlStore: &sqlStore{db: db, d: postgresDialect}}, nil
}

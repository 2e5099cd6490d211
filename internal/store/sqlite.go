package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// stateDirPerm is used when the database directory has to be created.
const stateDirPerm = 0o755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore keeps everything in one SQLite file. It is the default backend.
type SQLiteStore struct {
	*sqlStore
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at the DSN path.
// A DSN without query parameters gets a 5s busy timeout.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, errors.New("sqlite store: DSN not set")
	}

	path, params, _ := strings.Cut(cfg.DSN, "?")
	if err := os.MkdirAll(filepath.Dir(strings.TrimPrefix(path, "file:")), stateDirPerm); err != nil {
		return nil, err
	}
	dsn := cfg.DSN
	if params == "" {
		dsn = path + "?_busy_timeout=5000"
	}

	db, err := openMigrated("sqlite3", dsn, sqliteMigrations, func(db *sql.DB) {
		// one writer at a time
		db.SetMaxOpenConns(1)
	})
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{sqlStore: &sqlStore{db: db, d: sqliteDialect}}, nil
}

package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brightframe/filesearch/internal/logx"
)

// DB wraps the SQLite connection backing the Store. A single DB is a
// process-wide resource: all mutations and queries flow through the *Store
// built on top of it, which serializes writes (via SQLite's own locking
// under WAL) while allowing concurrent readers.
type DB struct {
	conn *sql.DB
}

// Config holds connection-pool tuning.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	CacheSizeKB     int
}

// DefaultConfig returns pool settings sized for one WAL-mode writer plus
// many concurrent readers (§5 Shared-resource policy): SQLite under WAL
// lets reader connections proceed while a writer holds the log, so the
// pool is allowed more than one open connection even though writes still
// serialize against each other via the database's own locking.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Open opens (creating if necessary) the SQLite index file at path and
// ensures the schema from §3 is present.
func Open(path string, cfg Config) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.CacheSizeKB > 0 {
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheSizeKB)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set cache size: %w", err)
		}
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}

	return db, nil
}

func (db *DB) initSchema() error {
	if _, err := db.conn.Exec(GetSchema()); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is alive; a failure here is a FatalIO
// condition per the error taxonomy.
func (db *DB) Ping() error {
	if err := db.conn.Ping(); err != nil {
		logx.WithComponent("store").Error().Err(err).Msg("index file unreachable")
		return fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}
	return nil
}

// Conn exposes the underlying *sql.DB for packages (notably tests) that need
// to inspect raw state.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

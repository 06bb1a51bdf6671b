package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.nhat.io/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL flavour behind a DSN.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"

var (
	pgxOnce   sync.Once
	pgxDriver string
	pgxErr    error
)

// tracedPGX registers the pgx driver wrapped with OTel tracing once and returns its name.
func tracedPGX() (string, error) {
	pgxOnce.Do(func() {
		pgxDriver, pgxErr = otelsql.Register(
			"pgx",
			otelsql.TraceQueryWithoutArgs(),
			otelsql.TraceRowsClose(),
			otelsql.TraceRowsAffected(),
			otelsql.WithSystem(semconv.DBSystemPostgreSQL),
		)
	})
	return pgxDriver, pgxErr
}

// ParseDSN reports the dialect of dsn and the driver-level data source name.
// postgres:// and postgresql:// URLs go to pgx unchanged; sqlite://path opens the file at path.
func ParseDSN(dsn string) (Dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", "", errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Postgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return "", "", errors.New("db: sqlite DSN has no path")
		}
		return SQLite, path, nil
	}
	return "", "", fmt.Errorf("db: unsupported DSN scheme in %q (want postgres:// or sqlite://)", redact(dsn))
}

// Open opens the database named by dsn, caps the pool at maxConns (when positive) and pings it.
// Caller must call Close when done.
func Open(dsn string, maxConns int) (*sql.DB, Dialect, error) {
	dialect, target, err := ParseDSN(dsn)
	if err != nil {
		return nil, "", err
	}

	var db *sql.DB
	switch dialect {
	case Postgres:
		driver, err := tracedPGX()
		if err != nil {
			return nil, "", fmt.Errorf("db: register traced driver: %w", err)
		}
		db, err = sql.Open(driver, target)
		if err != nil {
			return nil, "", err
		}
	case SQLite:
		if target != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, "", fmt.Errorf("db: mkdir: %w", err)
			}
		}
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		db, err = sql.Open("sqlite", target+sep+sqlitePragmas)
		if err != nil {
			return nil, "", err
		}
	}

	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	if dialect == Postgres {
		if err := otelsql.RecordStats(db); err != nil {
			_ = db.Close()
			return nil, "", fmt.Errorf("db: record stats: %w", err)
		}
	}
	return db, dialect, nil
}

// redact hides the password of a URL-shaped DSN for error messages.
func redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		return dsn[:scheme+3] + creds[:i] + ":***" + dsn[at:]
	}
	return dsn
}

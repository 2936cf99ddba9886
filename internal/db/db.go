package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialect identifies the SQL flavour behind a store DSN
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// DialectFor picks the dialect from the DSN: postgres:// and postgresql:// URLs
// select Postgres, anything else is treated as a SQLite file.
func DialectFor(dsn string) Dialect {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Placeholder returns the n-th (1-based) bind parameter for the dialect
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// redactDSN returns a copy of the DSN with password replaced by **** for logging.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return dsn
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
	}
	return u.String()
}

func isDatabaseDoesNotExist(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database") && strings.Contains(msg, "does not exist")
}

// sqliteDSN turns a file path into a modernc.org/sqlite DSN and makes sure the
// parent directory exists.
func sqliteDSN(path string) (string, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return "", fmt.Errorf("create store directory: %w", err)
			}
		}
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
}

// Open establishes a connection to the durable store and configures the pool.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*sql.DB, Dialect, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, "", fmt.Errorf("store DSN is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialect := DialectFor(dsn)
	driver, source := "postgres", dsn
	if dialect == DialectSQLite {
		var err error
		driver = "sqlite"
		if source, err = sqliteDSN(dsn); err != nil {
			return nil, "", err
		}
	}
	logger.Debug("opening store", "dialect", string(dialect), "dsn", redactDSN(dsn))

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open store connection: %w", err)
	}

	if dialect == DialectSQLite {
		// sqlite takes one writer at a time
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(10 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		if isDatabaseDoesNotExist(err) {
			return nil, "", fmt.Errorf("database not found at %s: %w", redactDSN(dsn), err)
		}
		return nil, "", fmt.Errorf("failed to ping store: %w", err)
	}

	return db, dialect, nil
}

// Migrate applies the embedded goose migrations
func Migrate(db *sql.DB, dialect Dialect) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// OpenAndMigrate opens the store and brings its schema up to date
func OpenAndMigrate(ctx context.Context, dsn string, logger *slog.Logger) (*sql.DB, Dialect, error) {
	db, dialect, err := Open(ctx, dsn, logger)
	if err != nil {
		return nil, "", err
	}
	if err := Migrate(db, dialect); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	return db, dialect, nil
}

package tests

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/lexconsult/client/internal/auth"
	"github.com/lexconsult/client/internal/consult"
	"github.com/lexconsult/client/internal/db"
	"github.com/lexconsult/client/internal/gateway"
	"github.com/lexconsult/client/internal/middleware"
	"github.com/lexconsult/client/internal/ownership"
	"github.com/lexconsult/client/internal/repo"
	"github.com/lexconsult/client/internal/session"
)

// Stack is the client wired over one store, the way cmd/lexconsult wires it.
// Opening a second Stack on the same DSN simulates an app restart.
type Stack struct {
	DB       *sql.DB
	KV       repo.KVRepo
	Sessions *session.Store
	Index    *ownership.Index
	Flow     *auth.Flow
	Consult  *consult.Service
}

// OpenStack migrates the store at dsn, hydrates the session and reloads the index
func OpenStack(ctx context.Context, dsn, apiBase string, logger *slog.Logger) (*Stack, error) {
	conn, dialect, err := db.OpenAndMigrate(ctx, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	kv := repo.NewKVRepo(conn, dialect)

	sessions := session.NewStore(kv, logger)
	sessions.Hydrate(ctx)
	index := ownership.NewIndex(kv, logger)
	index.Reload(ctx)

	httpClient := &http.Client{
		Transport: middleware.Chain(nil, middleware.RequestID(), middleware.BearerAuth(sessions)),
	}
	gw := gateway.New(apiBase, httpClient, logger)

	return &Stack{
		DB:       conn,
		KV:       kv,
		Sessions: sessions,
		Index:    index,
		Flow:     auth.NewFlow(gw, sessions, index, logger),
		Consult:  consult.NewService(gw, sessions, index, logger),
	}, nil
}

// Close closes the store
func (s *Stack) Close() error {
	return s.DB.Close()
}

// StoreDSNs returns the stores to run against: a SQLite file under dir, and
// Postgres when DATABASE_URL is set.
func StoreDSNs(dir string) map[string]string {
	dsns := map[string]string{"sqlite": filepath.Join(dir, "store.db")}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		dsns["postgres"] = url
	}
	return dsns
}

// TruncateStore removes every key for a clean test state
func TruncateStore(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, "DELETE FROM kv_entries"); err != nil {
		return fmt.Errorf("truncate kv_entries: %w", err)
	}
	return nil
}

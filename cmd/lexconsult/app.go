package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/lexconsult/client/internal/auth"
	"github.com/lexconsult/client/internal/config"
	"github.com/lexconsult/client/internal/consult"
	"github.com/lexconsult/client/internal/db"
	"github.com/lexconsult/client/internal/gateway"
	"github.com/lexconsult/client/internal/middleware"
	"github.com/lexconsult/client/internal/ownership"
	"github.com/lexconsult/client/internal/repo"
	"github.com/lexconsult/client/internal/session"
)

// app is the wired client: one store, one session, one gateway
type app struct {
	conn     *sql.DB
	sessions *session.Store
	index    *ownership.Index
	flow     *auth.Flow
	consult  *consult.Service
	logger   *slog.Logger

	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	conn, dialect, err := db.OpenAndMigrate(ctx, cfg.StoreDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	kv := repo.NewKVRepo(conn, dialect)

	sessions := session.NewStore(kv, logger)
	state := sessions.Hydrate(ctx)
	logger.Debug("session hydrated", "state", state.String())

	index := ownership.NewIndex(kv, logger)
	index.Reload(ctx)

	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: middleware.Chain(http.DefaultTransport,
			middleware.RequestID(),
			middleware.Logger(logger),
			middleware.BearerAuth(sessions),
			middleware.RateLimit(middleware.NewLimiter(cfg.GatewayRPS)),
		),
	}
	gw := gateway.New(cfg.APIBase, httpClient, logger)

	return &app{
		conn:     conn,
		sessions: sessions,
		index:    index,
		flow:     auth.NewFlow(gw, sessions, index, logger),
		consult:  consult.NewService(gw, sessions, index, logger),
		logger:   logger,
		in:       bufio.NewReader(os.Stdin),
		out:      os.Stdout,
		errOut:   os.Stderr,
	}, nil
}

func (a *app) Close() {
	if err := a.conn.Close(); err != nil {
		a.logger.Warn("close store", "err", err)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pocketrelay/pocketrelay/internal/component"
	"github.com/pocketrelay/pocketrelay/internal/config"
	"github.com/pocketrelay/pocketrelay/internal/httpapi"
	"github.com/pocketrelay/pocketrelay/internal/lobby"
	"github.com/pocketrelay/pocketrelay/internal/matchmaking"
	"github.com/pocketrelay/pocketrelay/internal/redirector"
	"github.com/pocketrelay/pocketrelay/internal/retriever"
	"github.com/pocketrelay/pocketrelay/internal/session"
	"github.com/pocketrelay/pocketrelay/internal/sslv3"
	"github.com/pocketrelay/pocketrelay/internal/store"
	"github.com/pocketrelay/pocketrelay/internal/tunnel"
)

const version = "1.0.0"

const configPath = "config/pocketrelay.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	path := configPath
	if p := os.Getenv("PR_CONFIG"); p != "" {
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("pocket relay starting", "version", version, "log_level", cfg.LogLevel)

	db, err := store.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database migrations applied")

	identity, err := sslv3.GenerateServerIdentity(cfg.ExtHost)
	if err != nil {
		return fmt.Errorf("generating server identity: %w", err)
	}
	// spec.md §4.3: the SSLv3 handshake this server speaks is a
	// protocol-compatibility shim for a 2012-era game client, not a
	// secure transport by any modern standard. No operator should
	// mistake this for TLS.
	slog.Warn("this server speaks SSLv3 to remain compatible with the ME3 client; " +
		"it provides no meaningful transport security and must never carry traffic " +
		"an attacker on the network path should not be able to read or tamper with")

	sessions := session.NewManager()
	lobbyMgr := lobby.NewManager(sessions, cfg.MaxSlotsPerGame)
	matchmakingEngine := matchmaking.NewEngine(lobbyMgr, sessions, time.Duration(cfg.TicketLifetimeSeconds)*time.Second)

	var retr *retriever.Retriever
	if cfg.Retriever {
		retr = retriever.New(retriever.Config{
			RedirectorAddr:  cfg.UpstreamHost,
			MaxConcurrent:   8,
			FetchPlayerData: cfg.OriginFetchData,
		})
		slog.Info("upstream retriever enabled", "upstream", cfg.UpstreamHost)
	}

	deps := &component.Deps{
		Store:           db,
		Retriever:       retr,
		Lobby:           lobbyMgr,
		Matchmaking:     matchmakingEngine,
		Sessions:        sessions,
		Version:         version,
		MenuMessage:     cfg.MenuMessage,
		ExternalHost:    cfg.ExtHost,
		FetchPlayerData: cfg.OriginFetchData,
	}
	dispatcher := session.NewDispatcher()
	component.RegisterAll(deps, dispatcher)

	udpRelay := tunnel.NewRelay(sessions, lobbyMgr, 60*time.Second)

	engine := &session.Engine{
		Manager:           sessions,
		Dispatcher:        dispatcher,
		Identity:          identity,
		IdleTimeout:       time.Duration(cfg.SessionIdleTimeoutSeconds) * time.Second,
		OutboundQueueSize: cfg.OutboundQueueSize,
		OnLeaveGame:       lobbyMgr.HandleDisconnect,
		OnDisconnect: func(id session.ID) {
			udpRelay.Forget(id)
			matchmakingEngine.CancelBySession(id)
		},
	}

	redirectorServer := redirector.NewServer(identity, cfg.ExtHost, uint16(cfg.MainPort))

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpapi.NewRouter(&httpapi.Deps{
			Sessions:     sessions,
			Version:      version,
			ExternalHost: cfg.ExtHost,
		}),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting redirector", "port", cfg.RedirectorPort)
		return redirectorServer.Run(gctx, fmt.Sprintf(":%d", cfg.RedirectorPort))
	})
	g.Go(func() error {
		slog.Info("starting session engine", "port", cfg.MainPort)
		return engine.Run(gctx, fmt.Sprintf(":%d", cfg.MainPort))
	})
	g.Go(func() error {
		slog.Info("starting matchmaking engine", "interval", cfg.MatchmakingTickSeconds)
		return matchmakingEngine.Run(gctx, time.Duration(cfg.MatchmakingTickSeconds)*time.Second)
	})
	g.Go(func() error {
		slog.Info("starting udp tunnel", "port", cfg.TunnelPort)
		return udpRelay.Run(gctx, fmt.Sprintf(":%d", cfg.TunnelPort))
	})
	g.Go(func() error {
		slog.Info("starting http api", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package main runs the MUD session server: the websocket endpoint, token
// login, health and metrics on one HTTP listener.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/twentytwenty/mud/internal/auth"
	"github.com/twentytwenty/mud/internal/config"
	"github.com/twentytwenty/mud/internal/frontend/ws"
	"github.com/twentytwenty/mud/internal/game/room"
	"github.com/twentytwenty/mud/internal/game/session"
	"github.com/twentytwenty/mud/internal/game/world"
	"github.com/twentytwenty/mud/internal/observability"
	"github.com/twentytwenty/mud/internal/server"
	"github.com/twentytwenty/mud/internal/storage/postgres"
)

// accountLogins maps the account repository's credential failures onto the
// error the HTTP layer answers 401 for.
type accountLogins struct {
	accounts *postgres.AccountRepository
}

func (a accountLogins) Login(ctx context.Context, username, password string) (string, error) {
	identity, err := a.accounts.Login(ctx, username, password)
	if errors.Is(err, postgres.ErrInvalidCredentials) {
		return "", fmt.Errorf("%w: %w", ws.ErrBadCredentials, err)
	}
	return identity, err
}

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "mudserver")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting mud server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("store", cfg.World.Store),
		zap.String("global_room", cfg.World.GlobalRoom),
	)

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)

	var (
		store  world.Store
		opts   ws.Options
		health ws.HealthFunc
	)
	switch cfg.World.Store {
	case "memory":
		w, err := world.LoadWorldFromFile(cfg.World.SeedFile)
		if err != nil {
			logger.Fatal("loading world", zap.String("file", cfg.World.SeedFile), zap.Error(err))
		}
		ms, err := world.NewMemoryStore(w)
		if err != nil {
			logger.Fatal("building memory store", zap.Error(err))
		}
		logger.Info("world loaded",
			zap.String("file", cfg.World.SeedFile),
			zap.Int("rooms", ms.RoomCount()),
			zap.Int("players", ms.PlayerCount()),
		)
		store = ms
	default:
		pool, err := postgres.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		store = postgres.NewWorldRepository(pool.DB())
		opts.Logins = accountLogins{accounts: postgres.NewAccountRepository(pool.DB())}
		health = pool.HealthCheck(2 * time.Second)

		done := make(chan struct{})
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				return pool.Watch(done, 30*time.Second, 5*time.Second)
			},
			StopFn: func(context.Context) error {
				close(done)
				pool.Close()
				return nil
			},
		})
	}
	opts.Health = health

	var (
		roomObserver    room.Observer
		sessionObserver session.Observer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics := observability.NewMetrics(cfg.Metrics.Namespace, reg)
		roomObserver, sessionObserver = metrics, metrics
		opts.Metrics = observability.Handler(reg)
	}

	roomOpts := []room.Option{room.WithLogger(logger)}
	if roomObserver != nil {
		roomOpts = append(roomOpts, room.WithObserver(roomObserver))
	}
	manager := session.NewManager(session.Deps{
		Store:      store,
		Rooms:      room.NewRegistry(roomOpts...),
		Logger:     logger,
		Observer:   sessionObserver,
		GlobalRoom: cfg.World.GlobalRoom,
		OutboxSize: cfg.Websocket.SendBuffer,
	})

	tokens := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	httpServer := ws.NewServer(cfg.Server.Addr(), cfg.Websocket, tokens, manager, logger, opts)

	lifecycle.Add("http", &server.FuncService{
		StartFn: httpServer.ListenAndServe,
		StopFn: func(ctx context.Context) error {
			err := httpServer.Stop(ctx)
			// Sessions whose connections outlived ctx are closed here.
			manager.CloseAll(session.CloseGoingAway)
			return err
		},
	})

	logger.Info("mud server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Bool("login", opts.Logins != nil),
		zap.Bool("metrics", opts.Metrics != nil),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

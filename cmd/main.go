package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardtable/lobby-service/config"
	"github.com/cardtable/lobby-service/internal/postgres"
	"github.com/cardtable/lobby-service/internal/redisx"
	"github.com/cardtable/lobby-service/internal/security"
	"github.com/cardtable/lobby-service/internal/service"
	httpx "github.com/cardtable/lobby-service/internal/transport/http"
	"github.com/cardtable/lobby-service/internal/transport/ws"
	"github.com/cardtable/lobby-service/internal/worker"
	"github.com/cardtable/lobby-service/pkg/logger"

	"github.com/hibiken/asynq"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting lobby-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	ctx := context.Background()

	// --- postgres ---
	db, err := postgres.New(ctx, postgres.PoolConfig{
		DSN:             cfg.Postgres.DSN,
		MaxConns:        cfg.Postgres.MaxConns,
		MinConns:        cfg.Postgres.MinConns,
		ApplicationName: cfg.Logging.Service,
	})
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	// --- redis ---
	rdb, err := redisx.New(ctx, redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer func() { _ = rdb.Close() }()

	// --- auth ---
	pub, err := security.LoadRSAPublicKeyFromPEM(cfg.Auth.PublicKeyPath)
	if err != nil {
		log.Fatalf("auth public key: %v", err)
	}
	verifier := security.NewVerifier(pub, cfg.Auth.Issuer, cfg.Auth.Audience, 30*time.Second)

	// --- repos ---
	roomRepo := postgres.NewRoomRepository(db.Pool)
	memberRepo := postgres.NewMemberRepository(db.Pool)
	inviteRepo := postgres.NewInviteRepository(db.Pool)
	friendRepo := postgres.NewFriendRepository(db.Pool)

	presence := redisx.NewPresenceTracker(rdb, "", cfg.Lobby.PresenceLongTTLOr(15*time.Minute)*2)
	feed := redisx.NewFeed(rdb, "")
	engine := redisx.NewEngineBridge(rdb, "")

	// --- services ---
	roomSvc := service.NewRoomService(roomRepo, memberRepo, feed, engine)
	memberSvc := service.NewMemberService(roomRepo, memberRepo, presence, feed)
	inviteSvc := service.NewInviteService(roomRepo, memberRepo, inviteRepo, friendRepo, memberSvc)

	reconciler := service.NewReconciler(roomRepo, memberRepo, inviteRepo, presence, feed, service.ReconcilerConfig{
		WaitingRoomAge:   cfg.Lobby.WaitingRoomAgeOr(15 * time.Minute),
		FinishedGrace:    cfg.Lobby.FinishedGraceOr(10 * time.Minute),
		PresenceShortTTL: cfg.Lobby.PresenceShortTTLOr(3 * time.Minute),
		PresenceLongTTL:  cfg.Lobby.PresenceLongTTLOr(15 * time.Minute),
		Timeout:          cfg.Lobby.SweepTimeoutOr(time.Minute),
	})

	// --- background sweep (asynq) ---
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	sweepWorker := worker.NewServer(redisOpt, worker.NewSweepHandler(reconciler), cfg.Lobby.SweepPeriodOr(time.Minute))

	// --- WS Hub & Server ---
	hub := ws.NewHub()
	wsServer := ws.NewServer(hub, feed, roomSvc, memberSvc, verifier, cfg.Lobby.WSPingIntervalOr(15*time.Second))

	// --- HTTP ---
	handler := httpx.NewHandler(roomSvc, memberSvc, inviteSvc, reconciler)
	router := httpx.NewRouter(handler, memberSvc, wsServer, verifier, cfg.Auth.InternalToken)
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- run servers ---
	errCh := make(chan error, 2)

	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go func() {
		slog.Info("sweep worker start", "period", cfg.Lobby.SweepPeriodOr(time.Minute))
		if err := sweepWorker.Start(); err != nil {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sweepWorker.Shutdown()
	_ = httpSrv.Shutdown(ctxShutdown)
	slog.Info("stopped")
}

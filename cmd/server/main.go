package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"chatrelay/internal/api"
	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/db"
	"chatrelay/internal/logging"
	"chatrelay/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML or JSON config file")
	isLoadTest := flag.Bool("loadtest", false, "Run server with load testing configuration")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Modify database path for load testing
	if *isLoadTest {
		cwd, err := os.Getwd()
		if err != nil {
			logger.Fatal("failed to resolve working directory", zap.Error(err))
		}
		loadTestDir := filepath.Join(cwd, "loadtest")
		if err := os.MkdirAll(loadTestDir, 0o755); err != nil {
			logger.Fatal("failed to create loadtest directory", zap.Error(err))
		}
		loadTestPath := filepath.Join(loadTestDir, "loadtest.db")
		cfg.UpdateDatabasePath(loadTestPath)
		logger.Info("using load testing database", zap.String("path", loadTestPath))
	}

	if cfg.UsesDefaultSecret() {
		logger.Warn("JWT_SECRET is the development default; set it before exposing the server")
	}
	logger.Info("configuration loaded",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("admin_address", cfg.AdminAddress),
		zap.Bool("postgres", cfg.IsPostgres()),
		zap.String("default_channel", cfg.DefaultChannel),
		zap.String("client_origin", cfg.ClientOrigin))

	database, err := db.NewDB(cfg.CleanDatabasePath(), logger.Named("db"))
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := websocket.NewHub(database, websocket.Options{
		Logger:         logger,
		Registerer:     reg,
		DefaultChannel: cfg.DefaultChannel,
		HistoryLimit:   cfg.HistoryLimit,
		SendBuffer:     cfg.SendBuffer,
	})
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	handlers := api.NewHandlers(api.Config{
		Users:        database,
		Hub:          hub,
		Tokens:       tokens,
		Verifier:     auth.NewIdentityVerifier(tokens, database, logger.Named("auth")),
		Hasher:       auth.NewPasswordHasher(0),
		Logger:       logger,
		ClientOrigin: cfg.ClientOrigin,
		TokenTTL:     cfg.TokenTTL,
	})

	server := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           logRequest(logger.Named("http"), handlers.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var ready atomic.Bool
	admin := newAdminServer(cfg.AdminAddress, reg, func(ctx context.Context) error {
		if !ready.Load() {
			return errors.New("not ready")
		}
		select {
		case <-hub.Done():
			return errors.New("hub stopped")
		default:
		}
		return database.Ping(ctx)
	})

	go func() {
		logger.Info("server starting", zap.String("address", cfg.ServerAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()
	if admin != nil {
		go func() {
			logger.Info("admin server listening", zap.String("address", cfg.AdminAddress))
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("admin server stopped", zap.Error(err))
			}
		}()
	}
	ready.Store(true)

	// Operations run concurrently; the hub and database wait for the HTTP
	// server so in-flight handlers finish first.
	httpDone := make(chan struct{})
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownGracePeriod,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				defer close(httpDone)
				ready.Store(false)
				logger.Info("server shutting down")
				return server.Shutdown(ctx)
			},
			"admin": func(ctx context.Context) error {
				if admin == nil {
					return nil
				}
				return admin.Shutdown(ctx)
			},
			"hub": func(ctx context.Context) error {
				waitFor(ctx, httpDone)
				stopHub()
				select {
				case <-hub.Done():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			"database": func(ctx context.Context) error {
				waitFor(ctx, httpDone)
				waitFor(ctx, hub.Done())
				return database.Close()
			},
		},
	)

	exitCode := <-wait
	logger.Info("server exited", zap.Int("code", exitCode))
	logger.Sync()
	os.Exit(exitCode)
}

func waitFor(ctx context.Context, done <-chan struct{}) {
	select {
	case <-done:
	case <-ctx.Done():
	}
}

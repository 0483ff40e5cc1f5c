// Hosting panel terminal and file manager server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/shsh-panel/internal/api"
	"github.com/ashureev/shsh-panel/internal/config"
	"github.com/ashureev/shsh-panel/internal/container"
	"github.com/ashureev/shsh-panel/internal/filemanager"
	"github.com/ashureev/shsh-panel/internal/gate"
	"github.com/ashureev/shsh-panel/internal/health"
	"github.com/ashureev/shsh-panel/internal/identity"
	"github.com/ashureev/shsh-panel/internal/middleware"
	"github.com/ashureev/shsh-panel/internal/quota"
	"github.com/ashureev/shsh-panel/internal/session"
	"github.com/ashureev/shsh-panel/internal/shell"
	"github.com/ashureev/shsh-panel/internal/store"
	"github.com/ashureev/shsh-panel/internal/terminal"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "home_base", cfg.HomeBase)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	sessions, closeSessions, err := newSessionStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer closeSessions()

	executor, err := newExecutor(cfg)
	if err != nil {
		slog.Error("Failed to initialize executor", "error", err)
		os.Exit(1)
	}
	slog.Info("Executor initialized", "backend", cfg.Shell.Executor)

	// Initialize services.
	sm := terminal.NewSessionManager()
	termSvc := terminal.NewService(sessions, gate.NewDenylist(cfg.Shell.ExtraDenylist...), executor, repo, sm, terminal.Config{
		HomeBase:   cfg.HomeBase,
		ExtraRoots: cfg.Shell.ExtraRoots,
		Timeout:    cfg.Shell.Timeout,
	})
	fileSvc, err := filemanager.NewService(quota.NewGuard(quota.WalkOracle{}, cfg.HomeBase), filemanager.Config{
		HomeBase:       cfg.HomeBase,
		MaxReadBytes:   cfg.Files.MaxReadBytes,
		MaxUploadBytes: cfg.Files.MaxUploadBytes,
		ProtectedPaths: cfg.Files.ProtectedPaths,
		ChownToTenant:  cfg.Shell.DropPrivileges,
	})
	if err != nil {
		slog.Error("Failed to initialize file manager", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, termSvc, fileSvc)
	healthHandler := api.NewHealthHandler(repo, 0)
	wsHandler := terminal.NewWebSocketHandler(termSvc, sm, cfg.FrontendURL, cfg.IsDevelopment())
	limiter := middleware.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	terminalLimit := middleware.RateLimit(limiter, func(r *http.Request) string {
		return identity.TenantIDFromContext(r.Context())
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.CORS))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Tenant routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo))
		baseHandler.RegisterRoutes(r, terminalLimit)
		r.With(terminalLimit).Get("/ws/terminal", wsHandler.ServeHTTP)
	})

	// Create server.
	// WebSocket connections are long-lived, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartSweeper(ctx, sessions, cfg.Session.SweepInterval)

	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "error", err, "addr", cfg.GRPCHealthAddr)
			os.Exit(1)
		}
		hs := health.NewServer(repo, 0)
		go hs.Run(ctx)
		go func() {
			slog.Info("gRPC health listening", "addr", cfg.GRPCHealthAddr)
			if err := hs.Serve(lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
		defer hs.Stop()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func newSessionStore(cfg *config.Config) (session.Store, func(), error) {
	if cfg.Session.Backend == "bolt" {
		bs, err := session.NewBoltStore(cfg.Session.BoltPath, cfg.Session.TTL)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Session store opened", "backend", "bolt", "path", cfg.Session.BoltPath)
		return bs, func() {
			if err := bs.Close(); err != nil {
				slog.Error("Failed to close session store", "error", err)
			}
		}, nil
	}
	slog.Info("Session store opened", "backend", "memory")
	return session.NewMemoryStore(cfg.Session.TTL), func() {}, nil
}

func newExecutor(cfg *config.Config) (shell.Executor, error) {
	if cfg.Shell.Executor == "docker" {
		exec, err := container.NewDockerExecutor(container.Config{
			NameTemplate: cfg.Shell.ContainerNameTemplate,
			ShellPath:    cfg.Shell.ShellPath,
			MaxOutput:    cfg.Shell.MaxOutputBytes,
		})
		if err != nil {
			return nil, err
		}
		return exec, nil
	}
	return shell.NewLocalExecutor(shell.LocalConfig{
		ShellPath:      cfg.Shell.ShellPath,
		DropPrivileges: cfg.Shell.DropPrivileges,
		MaxOutput:      cfg.Shell.MaxOutputBytes,
	}), nil
}

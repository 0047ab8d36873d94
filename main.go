package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"superviseme/config"
	"superviseme/database"
	"superviseme/github"
	"superviseme/handlers"
	"superviseme/middleware"
	"superviseme/services"

	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg := config.Load()

	// Initialize JWT secret
	middleware.SetJWTSecret(cfg.JWTSecret)

	// Initialize database
	if err := database.Init(cfg.DatabaseDriver, cfg.DatabaseURL, cfg.SeedSupervisorEmail); err != nil {
		logger.Error("failed to initialize database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// GitHub access uses the service token only
	githubClient, err := github.NewClient(&http.Client{Timeout: cfg.RequestTimeout}, cfg.GitHubAPIURL, cfg.GitHubToken, logger)
	if err != nil {
		logger.Error("failed to create github client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.GitHubToken == "" {
		logger.Warn("GITHUB_TOKEN is not set, GitHub requests are unauthenticated")
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		Endpoint:     githuboauth.Endpoint,
		Scopes:       []string{"read:user", "repo"},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services.NewReminderNotifier(database.GetDB(), logger, cfg.ReminderNotice).Start(ctx, cfg.ReminderInterval)

	router := handlers.NewRouter(handlers.Deps{
		Config: cfg,
		DB:     database.GetDB(),
		Logger: logger,
		GitHub: githubClient,
		OAuth:  oauthConfig,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("server starting", slog.String("port", cfg.ServerPort))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

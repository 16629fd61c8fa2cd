package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/simplereview/review-service/src/internal/api"
	"github.com/simplereview/review-service/src/internal/config"
	"github.com/simplereview/review-service/src/internal/mail"
	"github.com/simplereview/review-service/src/internal/queue"
	"github.com/simplereview/review-service/src/internal/routing"
	"github.com/simplereview/review-service/src/internal/scm"
	"github.com/simplereview/review-service/src/internal/service"
	"github.com/simplereview/review-service/src/internal/signer"
	"github.com/simplereview/review-service/src/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)
	sugar := logger.Sugar()

	db, err := connectDBWithRetry(cfg.Database.URL, 15, 2*time.Second, sugar)
	if err != nil {
		sugar.Fatalf("failed to connect to db: %v", err)
	}
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			sugar.Errorf("failed to close db: %v", err)
		}
	}(db)

	if err := runMigrations(cfg.Database.URL, cfg.Database.MigrationsDir, sugar); err != nil {
		sugar.Fatalf("migrations failed: %v", err)
	}
	sugar.Info("migrations applied")

	gitlabClient, err := scm.NewGitLabClient(cfg.GitLab.APIURL, cfg.GitLab.APIToken, logger)
	if err != nil {
		sugar.Fatalf("gitlab client init failed: %v", err)
	}

	templates, err := mail.NewTemplates()
	if err != nil {
		sugar.Fatalf("mail templates failed: %v", err)
	}
	sender := mail.NewSMTPSender(cfg.Mail.Host, cfg.Mail.Port,
		cfg.Mail.Username, cfg.Mail.Password, cfg.Mail.FromEmail, cfg.Mail.FromName, logger)

	repos := store.NewRepositories(db, logger)
	svc := service.NewService(cfg, repos, gitlabClient, sender, templates,
		signer.New(cfg.Review.LinkSecret, cfg.Review.LinkLength),
		routing.NewMatcher(0, logger), logger)

	pool := queue.NewPool(cfg.Events.Workers, cfg.Events.QueueSize, logger)
	poolCtx, poolCancel := context.WithCancel(context.Background())
	defer poolCancel()
	pool.Start(poolCtx)

	h := api.NewHandler(svc, pool, logger)

	r := chi.NewRouter()
	r.Use(api.RequestIDMiddleware, api.LoggerMiddleware(logger), api.Recoverer)
	api.RegisterRoutes(r, h,
		api.GitlabTokenMiddleware(cfg.Webhook.Secret, logger),
		api.RateLimitMiddleware(cfg.Webhook.RateLimitPerMin, logger))

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sugar.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	sugar.Infof("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		sugar.Fatalf("server forced to shutdown: %v", err)
	}

	// Drain queued events before exiting so accepted deliveries are not lost.
	pool.Stop()
	sugar.Info("server stopped")
}

func connectDBWithRetry(dsn string, attempts int, delay time.Duration, sugar *zap.SugaredLogger) (*sql.DB, error) {
	var db *sql.DB
	var err error

	for i := 0; i < attempts; i++ {
		db, err = sql.Open("postgres", dsn)
		if err == nil {
			if err = db.Ping(); err == nil {
				return db, nil
			}
		}
		sugar.Warnf("db ping error: %v (attempt %d/%d)", err, i+1, attempts)
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("db connect failed: %w", err)
}

func runMigrations(dsn, migrationsDir string, sugar *zap.SugaredLogger) error {
	sugar.Infof("running migrations from %s", migrationsDir)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("migration open db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://"+migrationsDir,
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("migration init: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		sugar.Info("no new migrations — already up to date")
	}

	return nil
}

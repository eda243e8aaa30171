package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"diagnosure/internal/auth"
	"diagnosure/internal/config"
	"diagnosure/internal/core"
	"diagnosure/internal/db"
	httpserver "diagnosure/internal/http"
	"diagnosure/internal/llm"
	"diagnosure/internal/report"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := cfg.NewLogger()

	store, publisher, err := openStore(cfg.Storage, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open booking store")
	}
	defer store.Close()

	if cfg.Oracle.APIKey == "" {
		logger.Warn("No default oracle API key; patients must supply one per session")
	}
	llmClient := llm.NewOpenAIClient(cfg.Oracle.Config, logger)
	diagnoser := core.NewDiagnoser(llmClient, cfg.Oracle.Timeout, logger)
	sessions := core.NewSessionManager(diagnoser, cfg.Oracle.APIKey, cfg.Sessions.MaxSessions, cfg.Sessions.IdleTTL, logger)
	bookings := core.NewBookingService(store, publisher, sessions, cfg.Hospitals, cfg.Slots, logger)
	reports := report.NewRenderer(cfg.Report.FontPath, logger)
	authn := auth.New(cfg.Auth.JWTSecret, cfg.Auth.Issuer, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpserver.NewServer(sessions, bookings, publisher, reports, authn, logger),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.WithField("addr", cfg.Server.Addr).Info("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server error")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
}

// openStore returns the configured booking store and the publisher that
// announces its changes.
func openStore(cfg config.StorageConfig, logger *logrus.Logger) (db.BookingStore, db.Publisher, error) {
	if cfg.Driver == "sqlite" {
		store, err := db.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("path", cfg.SQLitePath).Info("Using SQLite booking store")
		return store, db.NewLocalNotifier(), nil
	}

	if cfg.Migrate {
		if err := db.Migrate(cfg.DSN, logger); err != nil {
			return nil, nil, err
		}
	}
	dbConn, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbConn.PingContext(ctx); err != nil {
		dbConn.Close()
		return nil, nil, err
	}
	logger.Info("Using PostgreSQL booking store")
	return db.NewRepository(dbConn), db.NewNotifier(dbConn, cfg.DSN, cfg.NotifyChannel, logger), nil
}

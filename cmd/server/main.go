package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"devforum/internal/api"
	"devforum/internal/config"
	"devforum/internal/db"
	"devforum/internal/directory"
	"devforum/internal/notify"
	"devforum/internal/service"
	"devforum/internal/store"
	"devforum/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.SetupLogger(cfg)

	sqdb, err := db.OpenSQLite(cfg.DBPath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer sqdb.Close()
	if err := db.Migrate(sqdb, logger); err != nil {
		log.Fatalf("migration: %v", err)
	}

	dir, err := directory.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("directory: %v", err)
	}
	if c, ok := dir.(io.Closer); ok {
		defer c.Close()
	}
	sender := notify.NewSender(cfg, logger)

	svc := service.New(cfg, store.New(sqdb), dir, sender, logger)
	if err := svc.EnsureBootstrapAdmin(context.Background()); err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}
	r := api.NewRouter(cfg, svc, logger)

	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "version", version.Current().Version)
		errc <- hsrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := hsrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}
}

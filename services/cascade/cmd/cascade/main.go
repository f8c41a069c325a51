package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plantcare/internal/util"
	"plantcare/services/cascade/internal/app"
	"plantcare/services/cascade/internal/config"
	"plantcare/services/cascade/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		DatabaseURL:            cfg.DatabaseURL,
		RedisAddr:              cfg.RedisAddr,
		RedisPassword:          cfg.RedisPassword,
		MinioEndpoint:          cfg.MinioEndpoint,
		MinioAccessKey:         cfg.MinioAccessKey,
		MinioSecretKey:         cfg.MinioSecretKey,
		MinioBucket:            cfg.MinioBucket,
		MinioUseSSL:            cfg.MinioUseSSL,
		QueueName:              cfg.QueueName,
		QueueGroup:             cfg.QueueGroup,
		QueueConcurrency:       cfg.QueueConcurrency,
		QueueMaxRetries:        cfg.QueueMaxRetries,
		QueueRetryDelaySeconds: cfg.QueueRetryDelaySeconds,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:           appCore,
		InternalToken: cfg.InternalToken,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	appCore.Start(ctx)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("cascade server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

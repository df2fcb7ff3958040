package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"socratium/internal/servicetoken"
	"socratium/internal/util"
	"socratium/pkg/extract"
	"socratium/pkg/queue"
	"socratium/pkg/storage"
	"socratium/pkg/store"
	"socratium/services/book/internal/app"
	"socratium/services/book/internal/config"
	"socratium/services/book/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, "book")

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to open database", "err", err)
	}
	defer db.Close()

	objects, err := openObjectStore(cfg)
	if err != nil {
		util.Fatal("failed to init object storage", "driver", cfg.StorageDriver, "err", err)
	}

	jobs, err := openQueue(cfg)
	if err != nil {
		util.Fatal("failed to init extraction queue", "driver", cfg.QueueDriver, "err", err)
	}
	defer jobs.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	cacheTTL, _ := config.ParseDuration(cfg.PageCacheTTL, time.Hour)
	presignExpiry, _ := config.ParseDuration(cfg.PresignExpiry, 15*time.Minute)

	extractor := extract.New()
	if cfg.Pdftotext != "" {
		extractor.Pdftotext = cfg.Pdftotext
	}

	appCore, err := app.New(app.Config{
		Store:         db,
		Objects:       objects,
		Queue:         jobs,
		Extractor:     extractor,
		Cache:         app.NewRedisPageCache(rdb, cacheTTL),
		PresignExpiry: presignExpiry,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	verifier, err := servicetoken.NewVerifier(
		servicetoken.AudienceBook,
		cfg.InternalJWTPublicKeyPath,
		cfg.InternalJWTKeyID,
		[]string{servicetoken.IssuerChat},
	)
	if err != nil {
		util.Fatal("failed to init internal token verifier", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Internal:       verifier,
		MaxUploadBytes: cfg.MaxUploadBytes,
		CORSOrigins:    cfg.CORSOrigins,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		jobs.Start(gctx, cfg.WorkerConcurrency, appCore.ProcessJob)
		return nil
	})
	g.Go(func() error {
		slog.Info("book server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}

func openObjectStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.StorageDriver == "file" {
		return storage.NewFileStore(cfg.StorageDir)
	}
	return storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
}

func openQueue(cfg config.FileConfig) (queue.JobQueue, error) {
	if cfg.QueueDriver == "amqp" {
		return queue.NewAMQPQueue(queue.AMQPConfig{
			URL:        cfg.AMQPURL,
			Queue:      cfg.QueueName,
			MaxRetries: cfg.MaxRetries,
		})
	}
	return queue.NewRedisQueue(queue.RedisConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueName,
		MaxRetries: cfg.MaxRetries,
	})
}

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
	"socratium/internal/ratelimit"
	"socratium/internal/servicetoken"
	"socratium/internal/util"
	"socratium/pkg/ai"
	"socratium/pkg/secrets"
	"socratium/pkg/store"
	"socratium/services/chat/internal/app"
	"socratium/services/chat/internal/bookclient"
	"socratium/services/chat/internal/config"
	"socratium/services/chat/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, "chat")

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to open database", "err", err)
	}
	defer db.Close()

	box, err := secrets.LoadOrCreate(cfg.SecretKeyPath)
	if err != nil {
		util.Fatal("failed to load secret key", "path", cfg.SecretKeyPath, "err", err)
	}

	signer, err := servicetoken.NewSigner(servicetoken.IssuerChat, cfg.InternalJWTPrivateKeyPath, cfg.InternalJWTKeyID, servicetoken.DefaultTTL)
	if err != nil {
		util.Fatal("failed to init internal token signer", "err", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("invalid trusted proxies", "err", err)
	}

	chatTimeout, _ := config.ParseDuration(cfg.ChatTimeout, app.DefaultChatTimeout)
	providerClient := &http.Client{Timeout: chatTimeout + 5*time.Second}

	appCore, err := app.New(app.Config{
		Store:             db,
		Books:             bookclient.NewClient(cfg.BookServiceURL, signer),
		Registry:          ai.NewDefaultRegistry(providerClient),
		Secrets:           box,
		HTTPClient:        providerClient,
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		PreviewPages:      cfg.PreviewPages,
		RecentMessages:    cfg.RecentMessages,
		ChatTimeout:       chatTimeout,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	var limiter *ratelimit.Limiter
	if cfg.ChatRateLimit > 0 {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		window, _ := config.ParseDuration(cfg.ChatRateWindow, time.Minute)
		limiter, err = ratelimit.New(rdb, ratelimit.Options{
			Prefix: "socratium:ratelimit:chat",
			Limit:  cfg.ChatRateLimit,
			Window: window,
		})
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Limiter:        limiter,
		TrustedProxies: trusted,
		CORSOrigins:    cfg.CORSOrigins,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: chatTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("chat server listening", "addr", addr)
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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"bluelight/internal/exchangelock"
	"bluelight/internal/ratelimit"
	"bluelight/internal/usertoken"
	"bluelight/internal/util"
	"bluelight/pkg/storage"
	"bluelight/pkg/store"
	"bluelight/services/drafting/internal/agentclient"
	"bluelight/services/drafting/internal/app"
	"bluelight/services/drafting/internal/config"
	"bluelight/services/drafting/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataStore, err := store.NewGormStore(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init store", "err", err)
	}
	defer dataStore.Close()

	artifacts, err := newArtifactStore(cfg)
	if err != nil {
		util.Fatal("failed to init artifact storage", "err", err)
	}

	var (
		redisClient *redis.Client
		locker      *exchangelock.Locker
		limiter     *ratelimit.FixedWindowLimiter
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			util.Fatal("failed to connect redis", "addr", cfg.RedisAddr, "err", err)
		}
	}
	if cfg.ExchangeLock {
		locker, err = exchangelock.New(redisClient, "", cfg.ExchangeLockTTL())
		if err != nil {
			util.Fatal("failed to init exchange lock", "err", err)
		}
	}
	if cfg.ExchangeRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "", cfg.ExchangeRateLimitPerMinute, time.Minute)
		if err != nil {
			util.Fatal("failed to init exchange rate limiter", "err", err)
		}
	}

	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		util.Fatal("failed to parse jwt leeway", "err", err)
	}
	tokenVerifier, err := usertoken.NewVerifier(ctx, usertoken.Config{
		JWKSURL:      cfg.AuthJWKSURL,
		Issuer:       cfg.JWTIssuer,
		Audience:     cfg.JWTAudience,
		Leeway:       jwtLeeway,
		AllowedRoles: cfg.AllowedRoles,
		HTTPClient:   &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		util.Fatal("failed to init jwks verifier", "err", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trustedProxyCidrs", "err", err)
	}

	appCore, err := app.New(app.Config{
		Store:     dataStore,
		Artifacts: artifacts,
		Agent:     agentclient.NewClient(cfg.AgentURL, cfg.AgentServiceKey, cfg.AgentTimeout()),
		Locker:    locker,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		Limiter:        limiter,
		TrustedProxies: trustedProxies,
		StreamTimeout:  cfg.StreamTimeout(),
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	// No write timeout: exchanges stream for up to StreamTimeout, which the
	// push channel enforces.
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("drafting server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		appCore.Wait()
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	slog.Info("drafting server stopped")
}

func newArtifactStore(cfg config.FileConfig) (storage.ArtifactStore, error) {
	if cfg.StorageType == "local" {
		return storage.NewFileStore(cfg.LocalStorageDir)
	}
	return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
}

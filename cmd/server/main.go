package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/snapvalue/snapvalue/internal/auth"
	"github.com/snapvalue/snapvalue/internal/config"
	"github.com/snapvalue/snapvalue/internal/domain"
	"github.com/snapvalue/snapvalue/internal/identify"
	"github.com/snapvalue/snapvalue/internal/marketplace"
	"github.com/snapvalue/snapvalue/internal/pricing"
	"github.com/snapvalue/snapvalue/internal/repository"
	"github.com/snapvalue/snapvalue/internal/server"
	"github.com/snapvalue/snapvalue/pkg/logger"
)

const stateSweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog := logger.New(cfg.LogLevel, cfg.LogFile)
	defer zlog.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()))
	if err != nil {
		zlog.Fatal("connect to database", zap.Error(err))
	}
	db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`)
	if err := db.AutoMigrate(&domain.User{}, &domain.Appraisal{}); err != nil {
		zlog.Fatal("migrate schema", zap.Error(err))
	}

	users := repository.NewUserRepository(db)
	appraisals := repository.NewAppraisalRepository(db)

	sessions, err := auth.NewSessionManager(cfg.JWT.SigningKey, cfg.JWT.TTL)
	if err != nil {
		zlog.Fatal("init session manager", zap.Error(err))
	}

	ctx := context.Background()

	var oidcService *auth.OIDCService
	if cfg.OIDC.Enabled() {
		oidcService, err = auth.NewOIDCService(ctx, cfg.OIDC)
		if err != nil {
			zlog.Fatal("init OIDC sign-in", zap.Error(err))
		}
		zlog.Info("OIDC sign-in enabled", zap.String("provider", cfg.OIDC.ProviderURL))
	}

	var estimateCache *pricing.Cache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			zlog.Fatal("connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		estimateCache = pricing.NewCache(redisClient, zlog)
	}

	market, err := marketplace.NewClient(marketplace.Config{
		ClientID:     cfg.Marketplace.ClientID,
		ClientSecret: cfg.Marketplace.ClientSecret,
		AuthURL:      cfg.Marketplace.AuthURL,
		TokenURL:     cfg.Marketplace.TokenURL,
		APIBaseURL:   cfg.Marketplace.APIBaseURL,
		RedirectURL:  cfg.Marketplace.RedirectURL,
		Scopes:       cfg.Marketplace.Scopes,
	})
	var estimator *pricing.Estimator
	switch {
	case errors.Is(err, marketplace.ErrNotConfigured):
		zlog.Warn("marketplace credentials missing, pricing disabled")
		market = nil
	case err != nil:
		zlog.Fatal("init marketplace client", zap.Error(err))
	default:
		estimator = pricing.NewEstimator(market, estimateCache, zlog)
		go sweepAuthorizationStates(market, zlog)
	}

	identifier := identify.NewClient(cfg.AI.Endpoint, cfg.AI.APIKey, cfg.AI.Model)

	srv := server.New(cfg, zlog, sessions, oidcService, market, identifier, estimator, users, appraisals)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	zlog.Info("listening", zap.String("addr", cfg.Addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zlog.Fatal("server error", zap.Error(err))
	}
}

// sweepAuthorizationStates drives the periodic cleanup of stale marketplace
// authorization states; the client does not schedule itself.
func sweepAuthorizationStates(market *marketplace.Client, zlog *zap.Logger) {
	ticker := time.NewTicker(stateSweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		if removed := market.CleanupExpiredStates(); removed > 0 {
			zlog.Debug("swept expired authorization states", zap.Int("removed", removed))
		}
	}
}

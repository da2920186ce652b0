package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/go-checkout/internal/api"
	"github.com/safar/go-checkout/internal/auth"
	"github.com/safar/go-checkout/internal/cart"
	"github.com/safar/go-checkout/internal/checkout"
	"github.com/safar/go-checkout/internal/config"
	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/inventory"
	"github.com/safar/go-checkout/internal/logger"
	"github.com/safar/go-checkout/internal/payment"
	"github.com/safar/go-checkout/internal/session"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("Init logger: %v", err)
	}
	defer zl.Sync()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		zl.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		zl.Fatal("connect to redis", zap.Error(err))
	}
	cancel()

	if cfg.Auth.JWTSecret == "" {
		zl.Warn("JWT_SECRET is empty, every authenticated request will be rejected")
	}
	verifier := auth.NewVerifier([]byte(cfg.Auth.JWTSecret), session.NewStore(rdb, cfg.Auth.SessionTTL))

	gateway := payment.NewMockGateway(payment.WithCardSuccessRate(cfg.Payment.CardSuccessRate))

	txOpts := checkout.DefaultTxOptions()
	txOpts.LockTimeout = cfg.Checkout.LockTimeout
	txOpts.MaxRetries = cfg.Checkout.MaxRetries

	processor := checkout.NewProcessor(db, gateway,
		checkout.WithLogger(zl),
		checkout.WithTxOptions(txOpts),
		checkout.WithPaymentTimeout(cfg.Payment.Timeout),
	)

	server := api.NewServer(db, cart.NewService(db, zl), processor, verifier,
		api.WithLogger(zl),
		api.WithAdmin(inventory.NewService(db, zl), cfg.Admin.APIKey),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zl.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
		return
	}

	zl.Info("server exited")
}

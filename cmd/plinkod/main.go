package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Yours-Pranav/fcplinko/internal/api"
	"github.com/Yours-Pranav/fcplinko/internal/auth"
	"github.com/Yours-Pranav/fcplinko/internal/config"
	"github.com/Yours-Pranav/fcplinko/internal/issuer"
	"github.com/Yours-Pranav/fcplinko/internal/ledger"
	"github.com/Yours-Pranav/fcplinko/internal/logging"
	"github.com/Yours-Pranav/fcplinko/internal/quota"
	"github.com/Yours-Pranav/fcplinko/internal/recon"
	"github.com/Yours-Pranav/fcplinko/internal/redeem"
	"github.com/Yours-Pranav/fcplinko/internal/voucher"
)

func main() {
	// .env is optional; deployments usually set the environment directly.
	_ = godotenv.Load()

	boot, _ := zap.NewProduction()
	cfg, err := config.Load()
	if err != nil {
		boot.Fatal("config load failed", zap.Error(err))
	}
	log := logging.New(cfg.Log)
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Not fatal: the quota keeper falls back to its process-local store
		// and recovers on its own once Redis returns. Auth nonce checks fail
		// closed until then.
		log.Warn("redis unreachable at boot, quota running degraded", zap.Error(err))
	}

	// ── Ledger (Postgres) ─────────────────────────────────────────────────────
	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{})
	if err != nil {
		log.Fatal("database open failed", zap.Error(err))
	}
	store := ledger.New(db)
	if err := store.AutoMigrate(); err != nil {
		log.Fatal("database migrate failed", zap.Error(err))
	}

	// ── Issuer + redemption validator ─────────────────────────────────────────
	if !common.IsHexAddress(cfg.Issuer.InstanceAddress) {
		log.Fatal("invalid INSTANCE_ADDRESS", zap.String("value", cfg.Issuer.InstanceAddress))
	}
	inst := voucher.Instance{
		ChainID: big.NewInt(cfg.Issuer.ChainID),
		Address: common.HexToAddress(cfg.Issuer.InstanceAddress),
	}
	ttl := time.Duration(cfg.Issuer.VoucherTTLHours) * time.Hour

	iss, err := issuer.New(cfg.Issuer.PrivateKey, inst, ttl, store, log)
	if err != nil {
		log.Fatal("issuer init failed", zap.Error(err))
	}

	unitWei, ok := new(big.Int).SetString(cfg.Reserve.UnitPriceWei, 10)
	if !ok || unitWei.Sign() <= 0 {
		log.Fatal("invalid UNIT_PRICE_WEI", zap.String("value", cfg.Reserve.UnitPriceWei))
	}
	validator := redeem.New(store, inst, iss.Address(), unitWei, log)

	// ── Quota keeper (shared Redis, process-local fallback) ───────────────────
	window := time.Duration(cfg.Quota.WindowHours) * time.Hour
	keeper := quota.NewKeeper(
		quota.NewRedisStore(rdb, cfg.Quota.Allowance, window),
		quota.NewMemoryStore(cfg.Quota.Allowance, window),
		log,
	)

	// ── Admin allowlist ───────────────────────────────────────────────────────
	var admins []common.Address
	for _, a := range cfg.AdminList() {
		if !common.IsHexAddress(a) {
			log.Fatal("invalid admin address in ADMIN_ADDRESSES", zap.String("value", a))
		}
		admins = append(admins, common.HexToAddress(a))
	}
	if len(admins) == 0 {
		log.Warn("no admin addresses configured, admin routes are locked")
	}

	// ── Reconciler ────────────────────────────────────────────────────────────
	rec := recon.New(store, time.Duration(cfg.Reserve.ReconIntervalSec)*time.Second, log)
	go func() {
		if err := rec.Run(ctx); err != nil {
			log.Error("reconciler exited", zap.Error(err))
		}
	}()

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := api.New(keeper, iss, validator, store, log)
	apiGroup := r.Group("/api", auth.Middleware(rdb))
	h.Register(apiGroup)
	adminGroup := apiGroup.Group("/admin", auth.RequireAction("admin"), auth.AdminOnly(admins))
	h.RegisterAdmin(adminGroup)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("issuer", iss.Address().Hex()),
			zap.Int64("chain_id", cfg.Issuer.ChainID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"medipos/backend/internal/cache"
	"medipos/backend/internal/config"
	"medipos/backend/internal/httpapi"
	"medipos/backend/internal/service"
	"medipos/backend/internal/store"
	"medipos/backend/internal/store/memory"
	pgstore "medipos/backend/internal/store/postgres"
	"medipos/backend/internal/substitution"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var master store.MasterRepository
	var repo store.Repository
	var userStore httpapi.UserStore
	closers := make([]func() error, 0, 3)

	switch {
	case cfg.MasterDatabaseURL != "" && cfg.OpsDatabaseURL != "":
		pgMaster, err := pgstore.NewMaster(ctx, cfg.MasterDatabaseURL)
		if err != nil {
			log.Fatalf("master postgres unavailable (%v) and MASTER_DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		pgOps, err := pgstore.New(ctx, cfg.OpsDatabaseURL)
		if err != nil {
			log.Fatalf("operational postgres unavailable (%v) and OPS_DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		master = pgMaster
		repo = pgOps
		userStore = pgMaster
		closers = append(closers, pgMaster.Close, pgOps.Close)
		log.Println("repository: postgres (master + operational)")
	case cfg.MasterDatabaseURL == "" && cfg.OpsDatabaseURL == "":
		mem := memory.NewSeeded()
		master = mem
		repo = mem
		userStore = mem
		log.Println("repository: in-memory")
	default:
		log.Fatalf("MASTER_DATABASE_URL and OPS_DATABASE_URL must be set together")
	}

	stockCache := cache.StockCache(cache.NoopStockCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisStockCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			stockCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("stock cache: redis")
		}
	} else {
		log.Println("stock cache: noop")
	}

	substitutes := substitution.NewEngine(master, repo, 5)
	svc := service.New(master, repo, stockCache, substitutes, time.Duration(cfg.StockCacheTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, userStore)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("pharmacy backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

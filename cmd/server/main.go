package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fuelstation/backend/internal/cache"
	"fuelstation/backend/internal/config"
	"fuelstation/backend/internal/httpapi"
	"fuelstation/backend/internal/service"
	"fuelstation/backend/internal/store"
	"fuelstation/backend/internal/store/memory"
	pgstore "fuelstation/backend/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("could not load .env: %v", err)
	}

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("schema setup failed: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.New()
		log.Println("repository: in-memory")
	}

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			reportCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	svc := service.New(repo, reportCache, time.Duration(cfg.ReportCacheTTLSeconds)*time.Second)

	// Auth is opt-in: without AUTH_SECRET the API is open, for deployments
	// behind a trusted frontend on a private network.
	var auth *httpapi.AuthManager
	if cfg.AuthSecret != "" {
		auth = httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
		log.Println("auth: enabled")
	} else {
		log.Println("auth: disabled (AUTH_SECRET not set)")
	}

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
		log.Printf("fuel station backend listening on %s", cfg.Address())
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

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

	"storefront/config"
	"storefront/internal/devserver"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront dev API server")

	if cfg.Observ.JaegerEndpoint != "" {
		tp, err := util.InitTracer("storefront-devserver", cfg.Observ.JaegerEndpoint)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()
	}

	var store devserver.Store
	if cfg.Database.URL != "" {
		pg, err := devserver.NewPGStore(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pg.Close()
		store = pg
		log.Println("Using Postgres store")
	} else {
		mem := devserver.NewMemoryStore()
		mem.SeedDemoCatalog()
		store = mem
		log.Println("Using in-memory store with demo catalog")
	}

	var cache devserver.TokenCache
	if cfg.Redis.Addr != "" {
		redisCache, err := devserver.NewRedisTokenCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisCache.Close()
		cache = redisCache
		log.Println("Using Redis token cache")
	}

	tokens := devserver.NewTokenAuth(getSecret(), cache)

	events := devserver.NewEventPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer events.Close()
	if events != nil {
		log.Println("Kafka event publisher initialized")
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := devserver.NewServer(store, tokens, events)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func getSecret() string {
	if secret := os.Getenv("TOKEN_SECRET"); secret != "" {
		return secret
	}
	return "dev-only-secret"
}

package main

import (
	"context"
	"log"
	"os"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/session"
	"storefront/internal/ui"
	"storefront/internal/util"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront")

	if cfg.Observ.JaegerEndpoint != "" {
		tp, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint)
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

	sess := session.New(cfg.Client.TokenFile)
	client := api.NewClient(cfg.Client.APIBaseURL, sess, cfg.Client.RequestTimeout)

	app := ui.New(client, sess, os.Stdin, os.Stdout)
	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("Storefront exited with error: %v", err)
	}
}

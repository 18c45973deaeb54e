package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recon-server/src/api"
	"recon-server/src/config"
	"recon-server/src/db"
	sqldb "recon-server/src/db/sql"
	"recon-server/src/logger"
	"recon-server/src/service"
)

func main() {
	cfg, err := config.Load()
	log := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		log.Info().Msg("migrations applied")
	}

	// Connect to database
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("DB connection failed")
	}
	defer pool.Close()

	if err := db.InitCache(cfg.CacheMaxCost); err != nil {
		log.Fatal().Err(err).Msg("cache init failed")
	}

	svc := service.New(sqldb.NewStore(pool), service.Options{
		BaseCurrency: cfg.BaseCurrency,
		ChunkSize:    cfg.ClassifyChunkSize,
		Workers:      cfg.ClassifyWorkers,
		SampleSize:   cfg.RuleSampleSize,
		MaxNodes:     cfg.OptimizerMaxNodes,
	}, log)

	// Router
	router := api.NewRouter(svc, cfg, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Bool("read_only", cfg.ReadOnly).Msg("API server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Roulette/internal/adapters/http"
	"github.com/dkeye/Roulette/internal/app"
	"github.com/dkeye/Roulette/internal/app/orch"
	"github.com/dkeye/Roulette/internal/config"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(config.Level(cfg.LogLevel))

	deps := orch.Deps{
		Registry:     app.NewRegistry(),
		Policy:       app.SimplePolicy{},
		PairInterval: cfg.PairInterval,
	}
	setupStorage(ctx, cfg, &deps)

	o := orch.New(deps)
	go o.Pool.Run(ctx)
	go o.RunPresence(ctx, cfg.PresenceInterval)

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Roulette server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

// setupStorage uses postgres and redis when configured and memory otherwise.
func setupStorage(ctx context.Context, cfg *config.Config, deps *orch.Deps) {
	mem := storage.NewMemory()
	deps.Reports, deps.Friends = mem, mem
	var presence core.PresenceStore = mem

	if cfg.PostgresDSN != "" {
		db, err := storage.Open(cfg.PostgresDSN)
		if err != nil {
			log.Error().Err(err).Msg("postgres unavailable, reports kept in memory")
		} else {
			svc := storage.NewService(db)
			deps.Reports, deps.Friends = svc, svc
		}
	}
	if cfg.Redis.Addr != "" {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err := storage.ConnectRedis(pingCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		pingCancel()
		if err != nil {
			log.Error().Err(err).Msg("redis unavailable, presence is local")
		} else {
			presence = storage.NewRedisPresence(rdb, "")
			go func() {
				<-ctx.Done()
				_ = rdb.Close()
			}()
		}
	}
	deps.Presence = presence
}

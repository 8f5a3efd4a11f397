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

	"github.com/coedit/coedit/internal/adapters/httpapi"
	"github.com/coedit/coedit/internal/adapters/sqlite"
	"github.com/coedit/coedit/internal/adapters/ws"
	"github.com/coedit/coedit/internal/app"
	"github.com/coedit/coedit/internal/config"
	"github.com/coedit/coedit/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	cache := app.NewSessionCache(app.CacheConfig{
		DebounceWindow: cfg.DebounceWindow,
		FlushInterval:  cfg.FlushInterval,
		StoreTimeout:   cfg.StoreTimeout,
	}, db, db, core.NewStateDocument)

	sweeper := app.NewSweeper(cache, db, cfg.IdleTTL, cfg.StoreTimeout)
	sweeper.Start()

	reaper := app.NewReaper(db, db, db, cfg.RoomTTL, cfg.StoreTimeout, cache)
	if err := reaper.Start(cfg.ReaperSpec); err != nil {
		log.Fatal().Err(err).Msg("failed to start reaper")
	}

	ctl := ws.NewController(cache, db, cfg.ReadLimit, cfg.StoreTimeout)
	handlers := httpapi.NewHandlers(db, db, cfg.StoreTimeout)
	r := httpapi.SetupRouter(ctx, cfg, ctl, handlers)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("coedit server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	sweeper.Stop()
	reaper.Stop()

	// Flush every surviving session before releasing the store connection.
	cache.CloseAll(shutdownCtx)
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("database close failed")
	}
	log.Info().Msg("Server exited gracefully")
}

// Command relay runs the development session server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"chatgogo/matchclient/internal/api/handler"
	"chatgogo/matchclient/internal/config"
	"chatgogo/matchclient/internal/logging"
	"chatgogo/matchclient/internal/relay"
	"chatgogo/matchclient/internal/storage"
)

func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(cfg.Log, "relay")
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStorage(ctx, cfg)
	defer closeStore()

	hub := relay.NewHub(store)
	go hub.Run(ctx)

	server := &http.Server{
		Addr:           cfg.Addr,
		Handler:        handler.NewHandler(hub).Router(),
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("addr", cfg.Addr).Msg("relay listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("relay server failed")
	}
	<-hub.Done()
	log.Info().Msg("relay stopped")
}

// openStorage picks PostgreSQL and Redis when a DSN is configured and the
// in-memory store otherwise.
func openStorage(ctx context.Context, cfg config.Relay) (storage.Storage, func()) {
	if cfg.PostgresDSN == "" {
		log.Info().Msg("using in-memory storage")
		return storage.NewMemory(nil), func() {}
	}

	s, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("storage unavailable")
	}
	log.Info().Str("redis", cfg.RedisAddr).Msg("database and redis connections established")
	return s, func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("storage close")
		}
	}
}

package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	server "stay_chat/internal/adapters/http_server"
	"stay_chat/internal/adapters/observability"
	"stay_chat/internal/adapters/translate"
	"stay_chat/internal/app"
	"stay_chat/internal/domain"
	"stay_chat/internal/shared"
	"stay_chat/internal/storage/memdoc"
	"stay_chat/internal/storage/redisdoc"
)

func main() {
	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	// global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	var store domain.DocStore
	switch cfg.StoreBackend {
	case "memory":
		store = memdoc.New()
		log.Warn().Msg("using in-process store; data will not survive restarts")
	default:
		store = redisdoc.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.StoreRoot)
	}

	translator, err := translate.New(cfg.TranslateBase, cfg.TranslateKey, cfg.TranslateRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("translation gateway client init failed")
	}

	runtime := app.NewRuntime()
	handlers := &server.Handlers{
		Lifecycle: app.NewLifecycle(store),
		Channel:   app.NewChannel(store, translator),
		Feed:      app.NewFeed(store),
		Roster:    app.NewRoster(store),
		Runtime:   runtime,
	}

	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(handlers)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.StoreBackend).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		// release every live store subscription before closing the server
		runtime.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("stopped")
}

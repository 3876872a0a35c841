package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/typeswift/typeswift/internal/config"
	"github.com/typeswift/typeswift/internal/eventbus"
	"github.com/typeswift/typeswift/internal/game"
	"github.com/typeswift/typeswift/internal/gateway"
	"github.com/typeswift/typeswift/internal/phrases"
	"github.com/typeswift/typeswift/internal/profile"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// The profile store is a required collaborator: refuse to start without
	// it rather than run with undefined persistence behavior.
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	store := profile.NewRepository(db)
	if err := store.EnsureSchema(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure database schema")
	}

	var source phrases.Source
	fileSource, err := phrases.LoadFile(cfg.Game.PhraseFile)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Game.PhraseFile).Msg("phrase file unavailable, using built-in fallback")
		source = phrases.NewStatic()
	} else {
		source = fileSource
		log.Info().Int("phrases", fileSource.Len()).Str("path", cfg.Game.PhraseFile).Msg("phrase list loaded")
	}

	clock := clockwork.NewRealClock()

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	coordinator := game.NewCoordinator(manager, store, source, clock, game.Config{
		RevealDelay: cfg.Game.RevealDelay,
		IdleTimeout: cfg.Game.IdleTimeout,
	})
	manager.Bind(coordinator)

	if cfg.EventBus.URL != "" {
		busCfg := eventbus.DefaultConfig()
		busCfg.URL = cfg.EventBus.URL
		busCfg.StreamName = cfg.EventBus.Stream
		busCfg.SubjectPrefix = cfg.EventBus.SubjectPrefix
		publisher, err := eventbus.NewPublisher(busCfg)
		if err != nil {
			log.Error().Err(err).Msg("event bus unavailable, continuing without mirror")
		} else {
			defer publisher.Close()
			manager.SetTap(publisher)
			log.Info().Str("url", cfg.EventBus.URL).Msg("event mirror enabled")
		}
	}

	monitor := game.NewActivityMonitor(coordinator, clock, cfg.Game.SweepInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go manager.Start(ctx)
	go monitor.Run(ctx)

	// Bootstrap the first round; every later round starts off the
	// majority-completion check.
	coordinator.Bootstrap(ctx)

	cookies := gateway.NewCookieCodec(cfg.HTTP.CookieSecret, os.Getenv("ENV") == "production")
	handler := gateway.NewHandler(manager, coordinator, cookies)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTP.Port),
		Handler:      c.Handler(mux),
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	log.Info().Msg("shutdown complete")
}

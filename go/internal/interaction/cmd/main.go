package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tabletop/go/internal/dbconfig"
	"github.com/mcdev12/tabletop/go/internal/interaction/archive"
	"github.com/mcdev12/tabletop/go/internal/interaction/auth"
	"github.com/mcdev12/tabletop/go/internal/interaction/broadcaster"
	"github.com/mcdev12/tabletop/go/internal/interaction/command"
	"github.com/mcdev12/tabletop/go/internal/interaction/gateway"
	"github.com/mcdev12/tabletop/go/internal/interaction/room"
	"github.com/mcdev12/tabletop/go/internal/interaction/scheduler"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()

	// Event fan-out. The in-memory broadcaster always runs; it feeds both the
	// local scheduler and the local WebSocket consumer. JetStream is layered
	// on top when enabled so other deployments can consume the same stream.
	memory := broadcaster.NewMemory()
	var publisher room.Publisher = memory
	var natsPub *broadcaster.NATS
	if cfg.NATS.Enabled {
		natsPub, err = broadcaster.NewNATS(ctx, cfg.natsConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer natsPub.Close()
		publisher = broadcaster.Tee{memory, natsPub}
	}

	// Archival backend, optional.
	var archiver room.Archiver
	if cfg.Archive.Enabled {
		dbCfg := dbconfig.NewConfigFromEnv()
		repo, err := archive.NewRepository(ctx, dbCfg.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open archive database")
		}
		defer repo.Close()
		archiver = repo
		log.Info().Str("database", dbCfg.Database).Msg("archive backend enabled")
	}

	processor := command.NewProcessor(clock, command.NopResolver{})
	store := room.NewStore(processor, publisher, archiver, clock, cfg.roomDefaults())

	// Turn timeouts ride the same event stream clients see.
	sched := scheduler.New(store, clock)
	schedSub := memory.SubscribeAll()
	go func() {
		defer schedSub.Close()
		if err := sched.Run(ctx, schedSub.C); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("turn scheduler stopped")
		}
	}()

	// Gateway: WebSocket fan-out plus the command API.
	connManager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	var consumer gateway.EventConsumer
	if cfg.NATS.Enabled {
		consumer, err = gateway.NewJetStreamConsumer(connManager, cfg.consumerConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create JetStream consumer")
		}
	} else {
		consumer = gateway.NewMemoryConsumer(connManager, memory)
	}

	authProvider := auth.HeaderProvider{}
	service := gateway.NewService(connManager, consumer, store, authProvider)

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      c.Handler(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := service.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("interaction server starting")
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
	time.Sleep(1 * time.Second)
	log.Info().Msg("interaction server shutdown complete")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/peace-chat/internal/config"
	"github.com/weiawesome/peace-chat/internal/credential"
	"github.com/weiawesome/peace-chat/internal/delivery"
	"github.com/weiawesome/peace-chat/internal/events"
	chatgrpc "github.com/weiawesome/peace-chat/internal/grpc"
	"github.com/weiawesome/peace-chat/internal/handler"
	"github.com/weiawesome/peace-chat/internal/hub"
	"github.com/weiawesome/peace-chat/internal/idgen"
	"github.com/weiawesome/peace-chat/internal/presence"
	"github.com/weiawesome/peace-chat/internal/service"
	"github.com/weiawesome/peace-chat/internal/store"
	pkglog "github.com/weiawesome/peace-chat/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize structured logger
	pkglog.Init(cfg.Log)
	logger := pkglog.L()
	gin.SetMode(gin.ReleaseMode)

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting peace-chat")

	// Credential store
	creds, err := credential.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Credentials.Driver).Msg("failed to open credential store")
	}
	defer creds.Close()

	ids, err := idgen.New(cfg.Relay.IDGenerator, idgen.Options{
		SnowflakeMachineID: cfg.Snowflake.MachineID,
		SnowflakeEpoch:     cfg.Snowflake.Epoch,
		NanoIDSize:         cfg.NanoID.Size,
		NanoIDAlphabet:     cfg.NanoID.Alphabet,
		CUID2Length:        cfg.CUID2.Length,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create id generator")
	}

	// Activity feed; a broken bus must not keep the relay down
	publisher, err := events.New(cfg.PubSub(), cfg.Events.QueueSize)
	if err != nil {
		logger.Warn().Err(err).Str("driver", cfg.Events.Driver).Msg("event bus unavailable, activity feed disabled")
		publisher = events.Noop{}
	}

	// Hub
	h := hub.NewHub(cfg.WebSocket)
	go h.Run()

	// Core
	msgStore := store.NewMemoryStore(cfg.Relay.MaxMessages)
	tracker := presence.NewTracker(cfg.Relay.LivenessWindow)
	router := delivery.NewRouter(msgStore, h, ids, delivery.WithEvents(publisher))

	relay := service.NewRelayService(service.RelayConfig{
		Name:              cfg.Relay.Name,
		RequireRegistered: cfg.Relay.RequireRegistered,
	}, h, router, msgStore, tracker, creds, publisher, time.Now)
	accounts := service.NewAccountService(creds, tracker)

	// HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     handler.NewRouter(handler.NewWSHandler(h, relay), handler.NewHTTPHandler(relay, accounts), logger),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// gRPC health
	var grpcServer *chatgrpc.Server
	if cfg.GRPC.Enabled {
		grpcServer, err = chatgrpc.NewServer(fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start grpc server")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("peace-chat listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(grpcServer.Serve)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down peace-chat")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if grpcServer != nil {
			grpcServer.Stop() // 1. report NOT_SERVING
		}

		h.Stop() // 2. close all push sessions

		if err := server.Shutdown(shutdownCtx); err != nil { // 3. drain poll requests
			logger.Error().Err(err).Msg("server shutdown error")
		}

		if err := publisher.Close(); err != nil { // 4. flush activity feed
			logger.Warn().Err(err).Msg("event publisher close error")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("peace-chat stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("peace-chat stopped")
}

// loadConfig honors CONFIG_FILE when set, otherwise ./config/config.yaml.
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

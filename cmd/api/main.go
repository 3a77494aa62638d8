// cmd/api/main.go

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"pulsemap/internal/adapter/source"
	"pulsemap/internal/adapter/storage"
	"pulsemap/internal/config"
	"pulsemap/internal/server"
	"pulsemap/internal/service/enrich"
	"pulsemap/internal/service/geo"
	"pulsemap/internal/service/stream"
)

func main() {
	// Load .env if present, real environment wins
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Optional persistent geocode cache tier
	var placeStore geo.PlaceStore
	if cfg.Database.Enabled {
		db, err := initDatabase(ctx, cfg.Database)
		if err != nil {
			log.Error("failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		placeStore = storage.NewPlaceStore(db)
	}

	// Optional event bus mirror
	var natsConn *nats.Conn
	if cfg.NATS.Enabled {
		natsConn, err = initNATS(cfg.NATS, log)
		if err != nil {
			log.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsConn.Close()
	}

	// Initialize enrichment. Without an API key the keyword tables carry
	// inference on their own.
	var (
		locations enrich.LocationInferrer
		topics    enrich.TopicInferrer
	)
	if cfg.Gemini.APIKey != "" {
		gemini := enrich.NewGeminiClient(cfg.Gemini.APIKey, cfg.Gemini.Model)
		locations = gemini
		topics = gemini
		log.Info("using LLM inference", "model", cfg.Gemini.Model)
	} else {
		locations = enrich.NewKeywordLocationInferrer()
		topics = enrich.NewKeywordTopicInferrer()
		log.Info("using keyword inference")
	}

	enricher := enrich.NewEnricher(locations, topics, enrich.Config{
		CallTimeout: cfg.Stream.EnrichTimeout,
	})

	// Initialize geocoding
	geocoder := geo.NewNominatimClient(cfg.Geo.NominatimURL, cfg.Geo.UserAgent)
	gate := geo.NewGate(cfg.Geo.MinInterval)
	resolver := geo.NewResolver(geocoder, gate, placeStore, cfg.Geo.CacheSize, log)

	// Initialize record source
	twitterSource := source.NewTwitterSource(cfg.Twitter.BearerToken, source.Config{
		PollInterval: cfg.Twitter.PollInterval,
		PageSize:     cfg.Twitter.PageSize,
	}, log)

	// Initialize stream registry
	registry := stream.NewRegistry(twitterSource, enricher, resolver, natsConn, stream.Config{
		QueueCap:          cfg.Stream.QueueCap,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		MemberCap:         cfg.Stream.MemberCap,
		EventsSubject:     cfg.Stream.EventsSubject,
	}, log)

	// Initialize HTTP server
	httpServer := server.NewServer(cfg.Server, registry, log)

	// Start HTTP server
	go func() {
		log.Info("starting HTTP server", "host", cfg.Server.Host, "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	log.Info("shutdown signal received")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown HTTP server first so no new streams or subscribers arrive
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}

	// Stop all streams
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Error("stream registry shutdown error", "error", err)
	}

	log.Info("shutdown complete")
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig, log *slog.Logger) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}

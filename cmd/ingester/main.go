package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/blobstore"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/config"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/consumer"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/logging"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/normalizer"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/persistence"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/server"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/service"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/stats"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/tablestore"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("verifyko-ingester"))
	logging.SetDefault(logger)

	slog.Info("Starting Verify-KO ingester",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("environment", cfg.Environment),
	)

	// Run database migrations
	connString := cfg.Database.ConnString()
	log.Println("Running database migrations...")
	m, err := migrate.New("file://migrations", connString)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Initialize table store
	store, err := tablestore.NewPostgresStore(ctx, connString)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer store.Close()

	// Initialize blob archiver (bucket created if absent)
	archiver, err := blobstore.NewMinioArchiver(ctx, blobstore.Config{
		Endpoint:  cfg.Blob.Endpoint,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
		UseSSL:    cfg.Blob.UseSSL,
		Bucket:    cfg.Blob.Container,
	})
	if err != nil {
		log.Fatalf("Failed to initialize blob storage: %v", err)
	}

	// Initialize ingestion stats collector
	var statsClient *stats.Client
	if cfg.Redis.Enabled {
		hostname, _ := os.Hostname()
		instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

		statsClient, err = stats.NewClient(cfg.Redis.URL, instanceID)
		if err != nil {
			log.Printf("WARNING: Failed to initialize ingestion stats collector: %v", err)
			log.Println("Continuing without usage stats")
			statsClient = nil
		} else {
			log.Printf("Ingestion stats collector enabled (instance: %s)", instanceID)
			defer statsClient.Close()
		}
	} else {
		log.Println("Redis disabled - ingestion usage stats will not be collected")
	}

	// Wire the pipeline
	coordinator := persistence.New(store, logger)
	ingestService := service.NewIngestService(normalizer.New(archiver), coordinator, statsClient, logger)

	// Bind the JetStream consumer
	cons, err := consumer.New(ctx, consumer.Config{
		URL:           cfg.Nats.URL,
		Stream:        cfg.Nats.Stream,
		Subject:       cfg.Nats.Subject,
		ConsumerName:  cfg.Nats.Consumer,
		AckWait:       cfg.Nats.AckWait,
		MaxAckPending: cfg.Nats.MaxAckPending,
	}, ingestService, logger)
	if err != nil {
		log.Fatalf("Failed to initialize JetStream consumer: %v", err)
	}

	stop, err := cons.Start(context.Background())
	if err != nil {
		log.Fatalf("Failed to start consuming: %v", err)
	}
	defer stop()
	log.Printf("Consuming batches from stream %s (subject %s)", cfg.Nats.Stream, cfg.Nats.Subject)

	// Operational HTTP surface
	router := server.NewRouter(server.Info{
		Name:        "pagopa-nodo-verifyko-to-tablestorage",
		Version:     version,
		Environment: cfg.Environment,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Ingester service listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// Ragd is a privacy-aware retrieval daemon.
//
// It ingests documents from a shared job queue, embeds them with a
// process-wide pinned model, and serves tenant-isolated search and
// chat with PII redaction, differential-privacy perturbation, and
// audit logging.
//
// Configuration is loaded from an optional YAML file and RAGD_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	ragd
//
//	# Configure via file and environment
//	ragd -config ragd.yaml
//	RAGD_SERVER_PORT=9001 ragd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/audit"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/database"
	"github.com/fyrsmithlabs/ragd/internal/envelope"
	"github.com/fyrsmithlabs/ragd/internal/inference"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/objectstore"
	"github.com/fyrsmithlabs/ragd/internal/privacy"
	"github.com/fyrsmithlabs/ragd/internal/queue"
	"github.com/fyrsmithlabs/ragd/internal/search"
	"github.com/fyrsmithlabs/ragd/internal/server"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const startupProbeTries = 10

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  ragd           Start the retrieval daemon\n")
			fmt.Fprintf(os.Stderr, "  ragd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("ragd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
// Initialization order matters: infrastructure first (database, queue,
// object store), then the inference client with its one-time embedding
// model resolution, then the vector store whose collections depend on
// that pinned model, then the pipeline services and the worker pool,
// and finally the HTTP server.
func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting ragd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Int("workers", cfg.Ingest.Workers),
	)

	telemetryShutdown, err := telemetry.Init("ragd", version)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		_ = telemetryShutdown(context.Background())
	}()

	db, err := database.Open(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Duration(),
	}, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	jobs, err := queue.New(queue.Config{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password.Value(),
		DB:          cfg.Redis.DB,
		QueueName:   cfg.Redis.QueueName,
		PollTimeout: cfg.Redis.PollTimeout.Duration(),
	}, logger)
	if err != nil {
		return fmt.Errorf("creating queue client: %w", err)
	}
	defer jobs.Close()

	blobs, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey.Value(),
		Bucket:    cfg.ObjectStore.Bucket,
		UseSSL:    cfg.ObjectStore.UseSSL,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating object store client: %w", err)
	}

	encryptor, err := envelope.New(cfg.Encryption.MasterKey.Value())
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	encrypted := objectstore.NewEncrypted(blobs, encryptor)

	inferenceClient, err := inference.NewClient(inference.Config{
		BaseURL:         cfg.Inference.BaseURL,
		EmbedModels:     cfg.Inference.EmbedModels,
		ChatModel:       cfg.Inference.ChatModel,
		EmbedTimeout:    cfg.Inference.EmbedTimeout.Duration(),
		GenerateTimeout: cfg.Inference.GenerateTimeout.Duration(),
	}, logger)
	if err != nil {
		return fmt.Errorf("creating inference client: %w", err)
	}

	// Startup probes. The queue and bucket must exist before workers
	// start; the embedding model is pinned once for the process so a
	// tenant collection never mixes vector dimensions.
	if err := waitFor(ctx, "queue", jobs.Healthy, logger); err != nil {
		return err
	}
	if err := retryStartup(ctx, "object store bucket", logger, func() error {
		return blobs.EnsureBucket(ctx)
	}); err != nil {
		return err
	}
	if err := retryStartup(ctx, "embedding model resolution", logger, func() error {
		_, err := inferenceClient.ResolveEmbedModel(ctx)
		return err
	}); err != nil {
		return err
	}
	logger.Info("startup probes passed", zap.String("embed_model", inferenceClient.Model()))

	vectors, err := vectorstore.New(vectorstore.Config{
		Path:     cfg.VectorStore.Path,
		Compress: cfg.VectorStore.Compress,
	}, inferenceClient, logger)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	router := vectorstore.NewRouter(vectors, logger)

	auditor := audit.New(db, logger)
	redactor := privacy.NewRedactor(cfg.Privacy.Entities)
	guard := privacy.NewGuard(redactor, logger)
	perturber := search.NewPerturber(cfg.Privacy.NoiseScale, cfg.Privacy.SwapProbability, time.Now().UnixNano())

	searchSvc := search.NewService(redactor, inferenceClient, router, perturber, auditor,
		cfg.Privacy.QueryHashSalt.Value(), logger)
	chat := search.NewChat(guard, searchSvc, inferenceClient, auditor, logger)

	processor := ingest.NewProcessor(ingest.Config{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		BatchSize:    cfg.Ingest.BatchSize,
		PreviewBytes: cfg.Ingest.PreviewBytes,
	}, inferenceClient, encrypted, db, router, auditor, logger)

	pool := ingest.NewPool(cfg.Ingest.Workers, jobs, processor, logger)
	pool.Start(ctx)

	srv, err := server.New(server.Deps{
		Searcher: searchSvc,
		Chatter:  chat,
		Embedder: inferenceClient,
		Queue:    jobs,
		Pending:  db,
		Status:   db,
		Jobs:     db,
		HealthChecks: map[string]server.HealthCheck{
			"database":    db.Healthy,
			"queue":       jobs.Healthy,
			"objectstore": blobs.Healthy,
			"inference":   inferenceClient.Healthy,
			"vectorstore": vectors.Healthy,
		},
	}, logger, server.Config{Port: cfg.Server.Port})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		cancel()
		pool.Wait()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		cfg.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	pool.Wait()
	logger.Info("workers drained")

	return nil
}

// waitFor retries a boolean probe with exponential backoff until it
// reports ready.
func waitFor(ctx context.Context, name string, probe func(context.Context) bool, logger *zap.Logger) error {
	return retryStartup(ctx, name, logger, func() error {
		if !probe(ctx) {
			return fmt.Errorf("%s not ready", name)
		}
		return nil
	})
}

func retryStartup(ctx context.Context, name string, logger *zap.Logger, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			logger.Warn("startup probe failed, retrying",
				zap.String("dependency", name), zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(startupProbeTries))
	if err != nil {
		return fmt.Errorf("%s unavailable: %w", name, err)
	}
	return nil
}

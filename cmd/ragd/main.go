// Ragd is a retrieval-augmented chat server.
//
// The binary wires every subsystem at boot: the Postgres chat store, the
// pgvector (or in-memory) chunk store, the embedding provider, the
// primary and fallback completion adapters, the guardian gate, the
// indexing worker pool, and the HTTP surface.
//
// Configuration comes from environment variables layered over an
// optional YAML file. See internal/config for the full key list.
//
// Usage:
//
//	# Start with environment configuration
//	JWT_SECRET=... DATABASE_URL=postgres://... ragd
//
//	# Start with a config file
//	ragd -config /etc/ragd/config.yaml
//
//	# Show version information
//	ragd version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/auth"
	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/chatstore"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/guardian"
	"github.com/fyrsmithlabs/ragd/internal/httpapi"
	"github.com/fyrsmithlabs/ragd/internal/indexer"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/prompt"
	"github.com/fyrsmithlabs/ragd/internal/ratelimit"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/fyrsmithlabs/ragd/internal/websearch"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

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
			fmt.Fprintf(os.Stderr, "  ragd [-config path]   Start the ragd server\n")
			fmt.Fprintf(os.Stderr, "  ragd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("ragd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("ragd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the server and blocks until the context is cancelled.
//
// Boot order:
//  1. Load and validate configuration
//  2. Initialize logger and telemetry
//  3. Connect infrastructure (Postgres, vector store, embeddings, NATS)
//  4. Build business services (auth, chat, indexing, rate limits)
//  5. Start the index queue and HTTP server
//  6. Drain on signal: HTTP first, then the queue, then connections
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zlog := logger.Underlying()

	zlog.Info("starting ragd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	tel, err := telemetry.New(ctx, cfg.OTEL, zlog)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			zlog.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := initDependencies(ctx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	zlog.Info("dependencies ready",
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.String("primary_model", deps.primary.Model()),
		zap.String("fallback_model", deps.fallback.Model()),
		zap.Int("embedding_dim", deps.embedder.Dimension()))

	queue := indexer.NewQueue(deps.pipeline, deps.events, cfg.Index.Workers, cfg.Index.QueueSize, zlog)
	if err := queue.Start(); err != nil {
		return fmt.Errorf("start index queue: %w", err)
	}
	defer queue.Stop()

	limits := ratelimit.NewRegistry(cfg.RateLimit, zlog)
	defer limits.Close()

	chatSvc := chat.New(chat.ConfigFrom(cfg), chat.Deps{
		Store:    deps.store,
		Vectors:  deps.vectors,
		Embedder: deps.embedder,
		Guardian: deps.guardian,
		Web:      deps.web,
		Primary:  deps.primary,
		Fallback: deps.fallback,
		Prompts:  prompt.NewCache(),
		Recorder: prompt.NewRecorder(zlog),
		Logger:   zlog,
	})

	srv, err := httpapi.NewServer(httpapi.ConfigFrom(cfg), httpapi.Deps{
		Store:    deps.store,
		Auth:     auth.New(deps.store, cfg.JWT, zlog),
		Chat:     chatSvc,
		Queue:    queue,
		Pipeline: deps.pipeline,
		Limits:   limits,
		Logger:   zlog,
	})
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	zlog.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	zlog.Info("shutdown complete")
	return nil
}

// initLogger builds the redacting structured logger from config.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = cfg.Log.Format
	logCfg.Fields["service"] = cfg.OTEL.ServiceName
	return logging.NewLogger(logCfg, nil)
}

// dependencies holds infrastructure handles that outlive a request.
type dependencies struct {
	store    *chatstore.Postgres
	vectors  vectorstore.Store
	embedder embeddings.Provider
	primary  llm.Client
	fallback llm.Client
	guardian *guardian.Service
	web      *websearch.Tool
	natsConn *nats.Conn
	events   *indexer.Publisher
	pipeline *indexer.Pipeline
}

// Close releases infrastructure resources. Safe on a partially
// initialized struct; initDependencies calls it on its own error paths.
func (d *dependencies) Close() {
	if d.primary != nil {
		_ = d.primary.Close()
	}
	if d.fallback != nil {
		_ = d.fallback.Close()
	}
	if d.embedder != nil {
		_ = d.embedder.Close()
	}
	if d.vectors != nil {
		d.vectors.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
}

// initDependencies connects every external system the server needs.
// Postgres, the vector store, and the embedding provider are required;
// NATS is dialed only when configured.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	d := &dependencies{}

	store, err := chatstore.NewPostgres(ctx, chatstore.PostgresConfig{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect chat store: %w", err)
	}
	d.store = store

	vectors, err := vectorstore.NewStore(ctx, cfg.Vector, cfg.Embedding.Dim, logger)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	d.vectors = vectors

	embedder, err := embeddings.NewProvider(cfg.Embedding, logger)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("build embedding provider: %w", err)
	}
	d.embedder = embedder

	d.primary = llm.NewOpenAI(cfg.Primary)
	d.fallback = llm.NewAnthropic(cfg.Fallback)
	d.guardian = guardian.New(cfg.Guardian, logger)
	d.web = websearch.New(cfg.Web, logger)

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("connect NATS at %s: %w", cfg.NATS.URL, err)
		}
		d.natsConn = nc
		logger.Info("connected to NATS", zap.String("url", cfg.NATS.URL))
	}
	d.events = indexer.NewPublisher(d.natsConn, cfg.NATS.SubjectPrefix, logger)

	chunker, err := indexer.NewChunker(cfg.Embedding.ChunkSize, cfg.Embedding.ChunkOverlap)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("build chunker: %w", err)
	}
	d.pipeline = indexer.NewPipeline(store, vectors, embedder, chunker,
		indexer.NewNaiveExtractor(0), d.events, cfg.Embedding.BatchSize, logger)

	return d, nil
}

package main

import (
	"chat-relay/analytics"
	"chat-relay/auth"
	"chat-relay/cache"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/gateway"
	"chat-relay/infrastructure/grpc/server"
	"chat-relay/infrastructure/httpapi"
	"chat-relay/infrastructure/search"
	"chat-relay/infrastructure/storage"
	"chat-relay/infrastructure/storage/postgres"
	"chat-relay/infrastructure/websocket"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server failure.
// Returning instead of exiting lets the deferred closers flush the stores.
func run() (int, error) {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	config, err := internal.Load()
	if err != nil {
		return exitConfig, err
	}
	censoredChar, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Audit store
	base, closeStore, err := openAuditStore(ctx, config, logger)
	if err != nil {
		return exitRuntime, err
	}
	defer closeStore()

	// 2. Full-text index over the audit store
	blugeWriter, err := openIndex(config)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()
	audit := search.NewIndexedAuditLog(base, blugeWriter, logger)
	defer audit.Flush()
	if config.BlugeFilepath == "" {
		if _, err := audit.Reindex(ctx); err != nil {
			return exitRuntime, fmt.Errorf("audit reindex failed: %w", err)
		}
	}

	// 3. Moderation
	classifier, err := buildClassifier(config, censoredChar, logger)
	if err != nil {
		return exitConfig, err
	}

	// 4. Relay core
	registry := runtime.NewRegistry(logger, config.DeliveryTimeout)
	relay := gateway.New(logger, classifier, audit, registry, gateway.Config{
		AppendTimeout:    config.AppendTimeout,
		DeliveryTimeout:  config.DeliveryTimeout,
		EchoToSender:     config.EchoToSender,
		MaskFlagged:      config.MaskFlaggedContent,
		MaxContentLength: config.MaxContentLength,
	})
	snapshots := cache.NewTTL[domain.Window, domain.AggregateSnapshot]()
	aggregator := analytics.NewAggregator(logger, audit, snapshots, config.SnapshotTTL)
	provider := auth.NewJWTProvider(config.JWTSecret)

	errChan := make(chan error, 2)

	// 5. gRPC health
	var health workers.HealthReporter = noopHealth{}
	var healthServer *server.HealthServer
	if config.GrpcPort > 0 {
		address := fmt.Sprintf("%s:%d", config.Host, config.GrpcPort)
		listener, err := net.Listen("tcp", address)
		if err != nil {
			return exitRuntime, fmt.Errorf("failed to listen on %s: %w", address, err)
		}
		healthServer = server.NewHealthServer(logger)
		health = healthServer
		go func() {
			if err := healthServer.Serve(listener); err != nil {
				errChan <- err
			}
		}()
	}

	// 6. Background workers
	supervisor := workers.NewSupervisor(logger).WithRestartDelay(config.RestartInterval)
	supervisor.Add(
		workers.NewCacheSweeper(logger, config.CacheSweepInterval, map[string]workers.SweepFunc{
			"snapshots":          snapshots.Sweep,
			"closed_connections": relay.SweepClosed,
		}),
		workers.NewHeartbeatWorker(logger, config.MetricInterval, audit, relay, registry, health),
	)
	go supervisor.Run(ctx)

	// 7. HTTP: websocket and admin
	settings := websocket.DefaultSettings()
	settings.BufferSize = config.ConnectionBufferSize
	socket := websocket.NewHandler(relay, provider, logger, settings)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           httpapi.NewRouter(logger, aggregator, audit, provider, socket),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 8. Wait for stop or error
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errChan:
		logger.Error("Server failure", "error", runErr)
	}

	// 9. Graceful shutdown: stop accepting, close sockets, then stop workers
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if healthServer != nil {
		healthServer.Stop(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	relay.Shutdown()
	supervisor.Stop()
	logger.Info("Program stopped cleanly")

	if runErr != nil {
		return exitRuntime, runErr
	}
	return exitOK, nil
}

// openAuditStore opens the configured backend. The returned func releases it.
func openAuditStore(ctx context.Context, config internal.Config, logger *slog.Logger) (contract.AuditLog, func(), error) {
	switch config.AuditBackend {
	case internal.BackendPostgres:
		if err := postgres.RunMigrations(config.DatabaseURL, logger); err != nil {
			return nil, nil, err
		}
		pool, err := postgres.NewPool(ctx, config.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		return postgres.NewAuditRepository(pool, logger), func() {
			logger.Info("Closing PostgreSQL pool...")
			pool.Close()
		}, nil
	default:
		db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
		if err != nil {
			return nil, nil, fmt.Errorf("database opening failed: %w", err)
		}
		if logger.Enabled(ctx, slog.LevelDebug) {
			endpoint := "/inspect"
			url := fmt.Sprintf("http://localhost:%d%s", config.DebugInspectorPort, endpoint)
			logger.Info("Debug Badger inspector available", "url", url)
			database.StartDebugServer(db, config.DebugInspectorPort, endpoint, storage.InspectMapper)
		}
		return storage.NewAuditRepository(db, logger), func() {
			logger.Info("Closing BadgerDB...")
			_ = db.Close()
		}, nil
	}
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}
	return options
}

func openIndex(config internal.Config) (*bluge.Writer, error) {
	if config.BlugeFilepath == "" {
		return bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	}
	return bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
}

// buildClassifier uses the policy file when set, watched for edits, else the embedded default.
func buildClassifier(config internal.Config, censoredChar rune, logger *slog.Logger) (*moderation.Classifier, error) {
	if config.PolicyFile == "" {
		policy, err := moderation.DefaultPolicy()
		if err != nil {
			return nil, err
		}
		return moderation.NewClassifier(policy, censoredChar, logger)
	}

	policy, err := moderation.LoadPolicy(config.PolicyFile)
	if err != nil {
		return nil, err
	}
	classifier, err := moderation.NewClassifier(policy, censoredChar, logger)
	if err != nil {
		return nil, err
	}
	_, err = moderation.WatchPolicy(config.PolicyFile, logger, func(updated moderation.Policy) {
		if err := classifier.Reload(updated); err != nil {
			logger.Warn("Moderation policy rejected", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return classifier, nil
}

type noopHealth struct{}

func (noopHealth) SetServing(bool) {}

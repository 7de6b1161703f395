package main

import (
	"MetLev/internal/amm"
	"MetLev/internal/config"
	"MetLev/internal/core"
	"MetLev/internal/ingestion"
	"MetLev/internal/keeper"
	"MetLev/internal/observability"
	"MetLev/internal/persistence"
	"MetLev/internal/projection"
	"MetLev/internal/query"
	"MetLev/internal/server"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/lib/pq"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: MetLev starting...")

	if os.Getenv("GOGC") == "" {
		log.Println("WARN: GOGC not set, recommend GOGC=400 for production")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: config: %v", err)
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: Postgres connected")

	migrator := persistence.NewMigrator(db)
	if cfg.MigrationsDir != "" {
		migrator = persistence.NewDirMigrator(db, cfg.MigrationsDir)
	}
	if err := migrator.Up(ctx); err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	log.Println("INFO: migrations applied")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Deterministic core ---
	// Outputs and the Postgres dedup tier stay detached while the event log
	// is replayed.
	coreCfg := core.DefaultConfig()
	coreCfg.LRUCapacity = cfg.IdempotencyLRUCapacity
	coreCfg.Policy = cfg.Policy
	venue := amm.NewSimulator(cfg.AMM)
	deterministicCore := core.NewDeterministicCore(
		coreCfg,
		venue,
		nil, nil, nil,
		nil,
		metrics,
	)

	// --- Recovery: snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Printf("WARN: failed to load snapshot: %v", err)
	}
	lastSnapshotSeq := int64(0)
	if snap != nil {
		if err := deterministicCore.RestoreFromSnapshot(snap); err != nil {
			log.Fatalf("FATAL: restore snapshot at sequence %d: %v", snap.Sequence, err)
		}
		if deterministicCore.GetStateHash() != snap.StateHash {
			log.Fatalf("FATAL: state hash mismatch after restore: expected %x, got %x", snap.StateHash, deterministicCore.GetStateHash())
		}
		lastSnapshotSeq = snap.Sequence
		log.Printf("INFO: restored snapshot at sequence %d", snap.Sequence)
	} else {
		log.Println("INFO: no snapshot found, cold start from sequence 0")
	}

	replayed, err := persistence.Replay(ctx, snapMgr, deterministicCore, metrics)
	if err != nil {
		log.Fatalf("FATAL: event replay failed: %v", err)
	}
	if replayed > 0 {
		log.Printf("INFO: replayed %d events (sequence now at %d)", replayed, deterministicCore.GetSequence())
	}

	// --- Channels ---
	// Persist channel blocks (backpressure); projection and publish drop.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	publishChan := make(chan core.CoreOutput, cfg.PublishChanSize)
	deterministicCore.AttachOutputs(persistChan, projectionChan, publishChan)
	deterministicCore.AttachDBIdempotency(persistence.NewPostgresIdempotencyChecker(db))

	runner := core.NewRunner(deterministicCore, cfg.RunnerQueueSize)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	log.Println("INFO: NATS connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure NATS streams: %v", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure outbound stream: %v", err)
	}

	subjects := ingestion.DefaultSubjects()
	rawEventChan := make(chan ingestion.RawEvent, cfg.RunnerQueueSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, metrics)
	if err := natsSubscriber.Subscribe(ctx, subjects); err != nil {
		log.Fatalf("FATAL: nats subscribe: %v", err)
	}

	// --- Services ---
	queryService := query.NewQueryService(db, cfg.BaseAsset, metrics)
	ingestService := ingestion.NewGRPCIngestService(runner)
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, server.NewEngineService(ingestService, queryService), metrics)
	gateway := server.NewHTTPGateway(cfg.HTTPAddr, cfg.GRPCAddr, healthChecker)

	healthChecker.AddCheck("postgres", func() error {
		pingCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
		defer c()
		return db.PingContext(pingCtx)
	})
	healthChecker.AddCheck("nats", func() error {
		if st := nc.Status(); st != nats.CONNECTED {
			return fmt.Errorf("nats %s", st)
		}
		return nil
	})

	// --- Start goroutines ---
	errChan := make(chan error, 16)
	runnerDone := make(chan struct{})
	persistDone := make(chan struct{})

	// 1. Core runner
	go func() {
		defer close(runnerDone)
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("core runner: %w", err)
		}
	}()

	// 2. Persistence worker
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	// 3. Projection worker
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics)
	go func() {
		projWorker.Run(ctx)
	}()

	// 4. Outbound publisher
	publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics)
	go func() {
		publisher.Run(ctx)
	}()

	// 5. NATS -> core
	pump := ingestion.NewPump(rawEventChan, subjects, runner, metrics)
	go func() {
		pump.Run(ctx)
	}()

	// 6. gRPC server
	go func() {
		if err := grpcServer.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// 7. HTTP/JSON gateway (proxies to gRPC)
	go func() {
		if err := gateway.Start(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	// 8. Periodic snapshots
	go func() {
		runPeriodicSnapshots(ctx, runner, snapMgr, cfg.SnapshotInterval, lastSnapshotSeq, metrics)
	}()

	// 9. Liquidation keeper
	if cfg.KeeperEnabled {
		liquidator := keeper.NewKeeper(runner, cfg.KeeperID, cfg.KeeperInterval, metrics)
		go func() {
			liquidator.Run(ctx)
		}()
		log.Printf("INFO: liquidation keeper running every %s as %s", cfg.KeeperInterval, cfg.KeeperID)
	}

	// 10. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: Metrics server listening on %s/metrics", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	if err := bootstrapProtocol(ctx, runner, cfg); err != nil {
		log.Fatalf("FATAL: bootstrap: %v", err)
	}

	// Mark service as ready after all goroutines started
	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	log.Printf("INFO: MetLev ready (sequence=%d, grpc=%s, http=%s, metrics=%s)",
		deterministicCore.GetSequence(), cfg.GRPCAddr, cfg.HTTPAddr, cfg.MetricsAddr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: %v, shutting down...", err)
	}

	// --- Graceful shutdown ---
	// Stop intake, let the core and persistence drain, then snapshot.
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	natsSubscriber.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	drained := true
	for _, w := range []struct {
		name string
		done chan struct{}
	}{{"core runner", runnerDone}, {"persistence worker", persistDone}} {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			log.Printf("WARN: %s did not stop before the shutdown deadline", w.name)
			drained = false
		}
	}

	// The runner has exited, so the core can be read directly.
	if !drained {
		log.Println("WARN: skipping final snapshot")
	} else if err := saveSnapshot(shutdownCtx, snapMgr, deterministicCore.CreateSnapshotState(), metrics); err != nil {
		log.Printf("ERROR: final snapshot failed: %v", err)
	} else {
		log.Println("INFO: final snapshot saved")
	}

	log.Println("INFO: MetLev shutdown complete")
}

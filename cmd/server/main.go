// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/blockstats/internal/api"
	"github.com/tomtom215/blockstats/internal/cache"
	"github.com/tomtom215/blockstats/internal/config"
	"github.com/tomtom215/blockstats/internal/database"
	"github.com/tomtom215/blockstats/internal/ingest"
	"github.com/tomtom215/blockstats/internal/logging"
	"github.com/tomtom215/blockstats/internal/pipeline"
	"github.com/tomtom215/blockstats/internal/session"
	"github.com/tomtom215/blockstats/internal/storage"
	"github.com/tomtom215/blockstats/internal/supervisor"
	"github.com/tomtom215/blockstats/internal/supervisor/services"
	"github.com/tomtom215/blockstats/internal/wal"
)

// shutdownGrace bounds the embedded NATS server shutdown.
const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Blockstats with supervisor tree...")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Blockstats exited with error")
	}

	logging.Info().Msg("Application stopped gracefully")
}

// components holds everything that needs closing after the tree stops.
type components struct {
	db       *database.DB
	spillLog *wal.BadgerWAL
	replayer *wal.Replayer
	embedded *ingest.EmbeddedServer
	sub      message.Subscriber
	consumer *ingest.Consumer
}

func run(cfg *config.Config) error {
	c := &components{}
	defer c.close()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	c.db = db
	logging.Info().Str("driver", cfg.Database.Driver).Str("path", cfg.Database.Path).Msg("Database ready")

	var store storage.Store = storage.NewSQLStoreFromDB(db)
	var breaker *storage.BreakerStore
	if cfg.Breaker.Enabled {
		breaker = storage.NewBreakerStore("player-store", store, cfg.Breaker)
		store = breaker
	}

	if err := initWAL(cfg, c, store); err != nil {
		return err
	}

	sessions := session.NewCache(nil)
	if cfg.Pipeline.ProxyMode {
		sessions = session.NewProxyCache()
	}

	var spill pipeline.Spiller
	if c.spillLog != nil {
		spill = c.spillLog
	}
	p := pipeline.New(cfg.Pipeline, store, spill, sessions)

	// The pipeline outlives the tree: ingest must stop before it is disabled.
	pipelineCtx, stopPipeline := context.WithCancel(context.Background())
	defer stopPipeline()
	if err := p.Start(pipelineCtx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	tracker := pipeline.NewTracker(p, session.NewAFKTracker(cfg.Pipeline.AFKThreshold, sessions))

	if err := initIngest(cfg, c, tracker); err != nil {
		disablePipeline(cfg, p)
		return err
	}

	deps := api.Dependencies{Pipeline: p}
	if breaker != nil {
		deps.Breaker = breaker
	}
	if c.spillLog != nil {
		deps.WAL = c.spillLog
	}
	if c.consumer != nil {
		deps.Ingest = c.consumer
	}
	router := api.NewRouter(api.NewHandler(deps), cfg.Server)
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router.SetupChi(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	slogLogger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		disablePipeline(cfg, p)
		return fmt.Errorf("failed to create supervisor tree: %w", err)
	}

	tree.AddDataService(services.NewLifecycleService("session-refresher",
		session.NewRefresher(sessions, cfg.Pipeline.RefreshInterval)))
	if c.replayer != nil && cfg.WAL.ReplayEvery > 0 {
		tree.AddDataService(services.NewLifecycleService("wal-replayer", c.replayer))
	}
	if c.consumer != nil {
		tree.AddMessagingService(services.NewRunnerService(c.consumer))
	}
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Info().Str("addr", httpServer.Addr).Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// errCh delivers exactly one value and is never closed.
	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Received shutdown signal, waiting for supervisor to finish...")
		treeErr = <-errCh
	case treeErr = <-errCh:
		cancel()
	}
	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		logging.Error().Err(treeErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	disablePipeline(cfg, p)
	return nil
}

// initWAL opens the spill log and, when configured, replays it once before
// any new events are accepted.
func initWAL(cfg *config.Config, c *components, store storage.Store) error {
	if !cfg.WAL.Enabled {
		logging.Info().Msg("Spill WAL disabled (WAL_ENABLED=false)")
		return nil
	}

	w, err := wal.Open(wal.FromConfig(cfg.WAL))
	if err != nil {
		return fmt.Errorf("failed to open spill WAL: %w", err)
	}
	c.spillLog = w
	c.replayer = wal.NewReplayer(w, store, storage.ErrRecordNotFound)

	if cfg.WAL.ReplayOnStart {
		result, err := c.replayer.ReplayOnce(context.Background())
		if err != nil {
			logging.Warn().Err(err).Msg("Startup WAL replay failed, will retry in background")
		} else {
			logging.Info().
				Int("replayed", result.Replayed).
				Int("failed", result.Failed).
				Int("dropped", result.Dropped).
				Msg("Startup WAL replay complete")
		}
	}
	return nil
}

// initIngest connects the event consumer to NATS, starting the embedded
// server first when one is configured.
func initIngest(cfg *config.Config, c *components, tracker *pipeline.Tracker) error {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("Event ingestion disabled (NATS_ENABLED=false)")
		return nil
	}

	url := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		srv, err := ingest.NewEmbeddedServer(cfg.NATS)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS server: %w", err)
		}
		c.embedded = srv
		url = srv.ClientURL()
		logging.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	sub, err := ingest.NewNATSSubscriber(cfg.NATS, url, watermill.NewSlogLogger(logging.NewSlogLogger()))
	if err != nil {
		return fmt.Errorf("failed to create NATS subscriber: %w", err)
	}
	c.sub = sub

	dedup := cache.NewLRU(cfg.NATS.DedupCapacity, cfg.NATS.DedupTTL)
	c.consumer = ingest.NewConsumer(sub, cfg.NATS.Subject, tracker, dedup)
	logging.Info().
		Str("subject", cfg.NATS.Subject).
		Str("queue_group", cfg.NATS.QueueGroup).
		Msg("Event consumer configured")
	return nil
}

func disablePipeline(cfg *config.Config, p *pipeline.Pipeline) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.DrainTimeout)
	defer cancel()

	report := p.Disable(ctx)
	logging.Info().
		Int("sessions_closed", report.SessionsClosed).
		Int("process_flushed", report.ProcessFlushed).
		Int("loads_flushed", report.LoadsFlushed).
		Int("saves_flushed", report.SavesFlushed).
		Int("clears_discarded", report.ClearsDiscarded).
		Dur("duration", report.Duration).
		Msg("Pipeline disabled")
}

// close releases resources in reverse order of acquisition.
func (c *components) close() {
	if c.sub != nil {
		if err := c.sub.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close NATS subscriber")
		}
	}
	if c.embedded != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		if err := c.embedded.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("Embedded NATS server shutdown failed")
		}
		cancel()
	}
	if c.spillLog != nil {
		if err := c.spillLog.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close spill WAL")
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

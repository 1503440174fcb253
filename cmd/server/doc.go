// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

/*
Package main is the entry point for the Blockstats server.

Blockstats tracks Minecraft player sessions. Game servers publish join, quit,
world change, kill, death and chat events over NATS; Blockstats turns them
into per-player records (sessions, time per world and game mode, kills,
deaths, AFK time) and stores them in DuckDB or SQLite.

# Application Architecture

The pipeline and the session cache live outside the supervisor tree so that
they can be drained after every producer has stopped. Everything else runs
under Suture v4:

	RootSupervisor ("blockstats")
	├── DataSupervisor ("data-layer")
	│   ├── session-refresher (folds elapsed time into active sessions)
	│   └── wal-replayer (retries spilled records, when WAL is enabled)
	├── MessagingSupervisor ("messaging-layer")
	│   └── ingest-consumer (NATS subscriber, when NATS is enabled)
	└── APISupervisor ("api-layer")
	    └── http-api (chi router: /api/v1, /health, /metrics)

Initialization order:

 1. Configuration: koanf v2 (defaults, YAML file, environment)
 2. Logging: zerolog, JSON or console
 3. Database: DuckDB or SQLite, schema created on open
 4. Store: SQL store, optionally behind a gobreaker circuit breaker
 5. Spill WAL: BadgerDB, replayed once on start when configured
 6. Pipeline: session cache plus Process, Get, Save and Clear queues
 7. Ingest: embedded or external NATS server, watermill subscriber
 8. Supervisor tree and HTTP server

# Configuration

Environment variables override the config file, which overrides defaults:

	LOG_LEVEL=info               # trace, debug, info, warn, error
	LOG_FORMAT=json              # json or console
	DB_DRIVER=duckdb             # duckdb or sqlite
	DB_PATH=/data/blockstats.duckdb
	PROXY_MODE=false             # track sessions without persisting them
	AFK_THRESHOLD=5m
	WAL_ENABLED=true
	WAL_PATH=/data/wal
	NATS_ENABLED=true
	NATS_EMBEDDED=true           # run an in-process NATS server
	NATS_URL=nats://nats:4222    # used when NATS_EMBEDDED=false
	NATS_SUBJECT=minecraft.events
	HTTP_PORT=8804
	HTTP_CORS_ORIGINS=https://dash.example.com

# Signal Handling

On SIGINT or SIGTERM:

 1. The supervisor tree stops: HTTP server, ingest consumer, background loops
 2. The pipeline is disabled: active sessions are closed and every queue is
    drained, spilling records that cannot be saved
 3. The NATS subscriber, embedded server, WAL and database are closed
*/
package main

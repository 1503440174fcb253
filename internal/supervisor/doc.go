// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

/*
Package supervisor runs the long-lived blockstats services under a suture v4
supervisor tree.

Services are grouped into layers that fail and back off independently:

	blockstats
	├── data-layer
	│   ├── session-refresher   periodic RefreshActiveSessions
	│   └── wal-replayer        re-saves spilled records (if wal.enabled)
	├── messaging-layer
	│   └── ingest-consumer     NATS event subscription (if nats.enabled)
	└── api-layer
	    └── http-api            read API, health, metrics

Supervisor events (start, failure, backoff) are logged through sutureslog
into the zerolog-backed slog handler from the logging package.

The pipeline itself is not supervised: a pipeline that stopped would have to
drop its queues, so it is started before the tree and disabled after it.

	tree, _ := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	tree.AddDataService(services.NewLifecycleService("session-refresher", refresher))
	tree.AddMessagingService(services.NewRunnerService(consumer))
	tree.AddAPIService(services.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))
	errCh := tree.ServeBackground(ctx)

Service wrappers live in the services subpackage.
*/
package supervisor

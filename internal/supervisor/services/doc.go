// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

// Package services adapts blockstats components to suture.Service.
//
// Three lifecycle shapes are covered:
//
//	HTTPServerService  ListenAndServe / Shutdown (the read API)
//	LifecycleService   Start / Stop (session refresher, WAL replayer)
//	RunnerService      blocking Run(ctx) (ingest consumer)
//
// Serve returns ctx.Err() on shutdown and a non-nil error on failure, which
// the supervisor answers with a restart.
package services

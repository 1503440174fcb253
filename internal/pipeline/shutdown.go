// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ShutdownReport summarizes what Disable did.
type ShutdownReport struct {
	SessionsClosed  int           `json:"sessions_closed"`
	ProcessFlushed  int           `json:"process_flushed"`
	LoadsFlushed    int           `json:"loads_flushed"`
	SavesFlushed    int           `json:"saves_flushed"`
	ClearsDiscarded int           `json:"clears_discarded"`
	Duration        time.Duration `json:"duration"`
}

// Disable shuts the pipeline down without losing accepted work.
//
// Shutdown sequence:
//
//  1. Every active session is closed at the current time and handed to the
//     Process stage, which still accepts work at this point
//  2. The pipeline is marked disabled; Submit and RequestClear return Closed
//  3. Process and Get workers stop; in-flight items finish first
//  4. Leftover loads run, then leftover mutations in their queued order, on
//     the calling goroutine
//  5. The Save stage stops and its leftovers are saved synchronously;
//     records that cannot be saved are spilled when a Spiller is configured
//  6. Pending clears are discarded and the working set and cache emptied
//
// ctx bounds the storage calls made while flushing. If it expires, the
// remaining saves fail fast and go to the spill log. Calling Disable more
// than once is a no-op and returns an empty report.
//
// Disable must run after every producer has stopped. In the server it is
// called once the supervisor tree has returned:
//
//	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.DrainTimeout)
//	defer cancel()
//	report := p.Disable(ctx)
func (p *Pipeline) Disable(ctx context.Context) ShutdownReport {
	start := time.Now()
	var report ShutdownReport

	p.mu.Lock()
	if p.disabled {
		p.mu.Unlock()
		return report
	}
	p.mu.Unlock()

	// Sessions close first, while the Process stage still accepts work.
	report.SessionsClosed = p.cache.EndAll(p.now())

	p.mu.Lock()
	p.disabled = true
	p.mu.Unlock()

	// Stop mutating workers before flushing so the flush is single-threaded.
	// Get workers finish in-flight loads and may still enqueue saves.
	processLeft := p.processQ.DrainAndStop()
	getLeft := p.getQ.DrainAndStop()

	report.LoadsFlushed = p.flushLoads(ctx, getLeft)
	report.ProcessFlushed = p.flushProcess(ctx, processLeft)

	saveLeft := p.saveQ.DrainAndStop()
	report.SavesFlushed = p.flushSaves(ctx, saveLeft)

	report.ClearsDiscarded = len(p.clearQ.DrainAndStop())

	p.ws.clear()
	p.cache.Clear()

	report.Duration = time.Since(start)
	p.logger.Info().
		Int("sessions_closed", report.SessionsClosed).
		Int("process_flushed", report.ProcessFlushed).
		Int("loads_flushed", report.LoadsFlushed).
		Int("saves_flushed", report.SavesFlushed).
		Dur("duration", report.Duration).
		Msg("Pipeline disabled")
	return report
}

// flushLoads completes loads that were requested but never started, running
// their waiting mutations.
func (p *Pipeline) flushLoads(ctx context.Context, ids []uuid.UUID) int {
	// Loads dropped or requested after the Get stage stopped have no queue
	// item but still hold callbacks.
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range p.ws.loadingIDs() {
		if !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}

	for _, id := range ids {
		if err := p.consumeGet(ctx, id); err != nil {
			p.logger.Error().Err(err).Msg("Failed to flush pending load")
		}
	}
	return len(ids)
}

// flushProcess applies leftover Process items in their queued order.
func (p *Pipeline) flushProcess(ctx context.Context, items []HandlingInfo) int {
	flushed := 0
	for _, info := range items {
		rec, ok := p.ws.resident(info.PlayerID)
		if !ok {
			loaded, err := p.load(ctx, info.PlayerID)
			if err != nil {
				p.logger.Error().Err(err).
					Str("player", info.PlayerID.String()).
					Str("kind", info.Kind).
					Msg("Failed to load record during shutdown, mutation dropped")
				continue
			}
			p.ws.install(info.PlayerID, loaded)
			p.ws.release(info.PlayerID)
			rec = loaded
		}
		p.apply(info, rec)
		flushed++
	}
	return flushed
}

// flushSaves writes the newest leftover snapshot of each player unless a
// newer one has already been written.
func (p *Pipeline) flushSaves(ctx context.Context, items []saveItem) int {
	latest := make(map[uuid.UUID]saveItem, len(items))
	for _, item := range items {
		if cur, ok := latest[item.rec.UUID]; !ok || item.seq > cur.seq {
			latest[item.rec.UUID] = item
		}
	}

	ordered := make([]saveItem, 0, len(latest))
	for _, item := range latest {
		ordered = append(ordered, item)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	flushed := 0
	for _, item := range ordered {
		id := item.rec.UUID
		if p.ws.beginSave(id, item.seq) == saveStale {
			continue
		}
		p.persistNow(ctx, item.rec, spillReasonShutdown)
		p.ws.endSave(id, item.seq)
		flushed++
	}
	return flushed
}

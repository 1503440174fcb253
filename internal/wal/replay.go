// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package wal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/blockstats/internal/logging"
	"github.com/tomtom215/blockstats/internal/metrics"
	"github.com/tomtom215/blockstats/internal/models"
)

// RecordStore is the part of the storage layer replay needs.
type RecordStore interface {
	LoadRecord(ctx context.Context, id uuid.UUID) (*models.PlayerRecord, error)
	SaveRecord(ctx context.Context, rec *models.PlayerRecord) error
}

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Replayed int
	Failed   int
	Dropped  int
}

// Replayer writes spilled records back through the store.
//
// A spilled snapshot may be older than what the database already holds for
// that player. In that case only its sessions, names and locations are merged
// into the stored record, so counters never move backwards.
type Replayer struct {
	wal      *BadgerWAL
	store    RecordStore
	notFound error
	interval time.Duration

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	stopDone chan struct{}
}

// NewReplayer creates a replayer. notFound is the store's "no such record" error.
func NewReplayer(w *BadgerWAL, store RecordStore, notFound error) *Replayer {
	return &Replayer{
		wal:      w,
		store:    store,
		notFound: notFound,
		interval: w.Config().ReplayInterval,
	}
}

// ReplayOnce replays every pending entry once.
func (r *Replayer) ReplayOnce(ctx context.Context) (ReplayResult, error) {
	var result ReplayResult

	entries, err := r.wal.GetPending(ctx)
	if err != nil {
		return result, err
	}
	if len(entries) == 0 {
		return result, nil
	}

	logging.Info().Int("pending_entries", len(entries)).Msg("Replaying spilled records")

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		switch r.replayEntry(ctx, entry) {
		case replayOK:
			result.Replayed++
		case replayFailed:
			result.Failed++
		case replayDropped:
			result.Dropped++
		}
	}

	logging.Info().
		Int("replayed", result.Replayed).
		Int("failed", result.Failed).
		Int("dropped", result.Dropped).
		Msg("Replay complete")
	return result, nil
}

type replayOutcome int

const (
	replayOK replayOutcome = iota
	replayFailed
	replayDropped
)

func (r *Replayer) replayEntry(ctx context.Context, entry *Entry) replayOutcome {
	log := logging.With().Str("entry", entry.ID).Str("player", entry.Player).Logger()

	rec, err := entry.Record()
	if err != nil {
		log.Error().Err(err).Msg("Dropping unreadable spilled record")
		r.drop(ctx, entry)
		metrics.RecordWALReplay("dropped")
		return replayDropped
	}

	if err := r.save(ctx, rec); err != nil {
		maxAttempts := r.wal.Config().MaxAttempts
		if maxAttempts > 0 && entry.Attempts+1 >= maxAttempts {
			log.Error().Err(err).Int("attempts", entry.Attempts+1).Msg("Dropping spilled record after max attempts")
			r.drop(ctx, entry)
			metrics.RecordWALReplay("dropped")
			return replayDropped
		}
		if uerr := r.wal.UpdateAttempt(ctx, entry.ID, err.Error()); uerr != nil {
			log.Warn().Err(uerr).Msg("Failed to record replay attempt")
		}
		log.Warn().Err(err).Msg("Replay of spilled record failed")
		metrics.RecordWALReplay("failed")
		return replayFailed
	}

	if err := r.wal.Confirm(ctx, entry.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to confirm replayed record")
	}
	metrics.RecordWALReplay("replayed")
	return replayOK
}

// save writes rec, merging into the stored record when the stored one is newer.
func (r *Replayer) save(ctx context.Context, rec *models.PlayerRecord) error {
	current, err := r.store.LoadRecord(ctx, rec.UUID)
	switch {
	case err == nil && current.LastSeen.After(rec.LastSeen):
		for _, s := range rec.Sessions {
			current.AddSession(s)
		}
		for _, n := range rec.Nicknames {
			if !hasNickname(current, n.Name) {
				current.Nicknames = append(current.Nicknames, n)
			}
		}
		for _, g := range rec.GeoInfo {
			if !hasGeo(current, g.Geolocation) {
				current.GeoInfo = append(current.GeoInfo, g)
			}
		}
		return r.store.SaveRecord(ctx, current)
	case err == nil, errors.Is(err, r.notFound):
		return r.store.SaveRecord(ctx, rec)
	default:
		return err
	}
}

func hasNickname(rec *models.PlayerRecord, name string) bool {
	for _, n := range rec.Nicknames {
		if n.Name == name {
			return true
		}
	}
	return false
}

func hasGeo(rec *models.PlayerRecord, geo string) bool {
	for _, g := range rec.GeoInfo {
		if g.Geolocation == geo {
			return true
		}
	}
	return false
}

func (r *Replayer) drop(ctx context.Context, entry *Entry) {
	if err := r.wal.DeleteEntry(ctx, entry.ID); err != nil && !errors.Is(err, ErrEntryNotFound) {
		logging.Warn().Err(err).Str("entry", entry.ID).Msg("Failed to delete spilled record")
	}
}

// Start replays once and then keeps replaying every interval until Stop.
func (r *Replayer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.stopDone = make(chan struct{})
	r.running = true

	go r.run(loopCtx, r.stopDone)

	logging.Info().Dur("interval", r.interval).Msg("WAL replay loop started")
	return nil
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (r *Replayer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.running = false
	done := r.stopDone
	r.mu.Unlock()

	<-done
	logging.Info().Msg("WAL replay loop stopped")
}

// IsRunning reports whether the loop is active.
func (r *Replayer) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Replayer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	r.pass(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

func (r *Replayer) pass(ctx context.Context) {
	if _, err := r.ReplayOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("WAL replay pass failed")
	}
	if err := r.wal.RunGC(); err != nil {
		logging.Debug().Err(err).Msg("WAL GC")
	}
}

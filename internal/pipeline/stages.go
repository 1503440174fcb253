// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/blockstats/internal/metrics"
	"github.com/tomtom215/blockstats/internal/models"
	"github.com/tomtom215/blockstats/internal/queue"
	"github.com/tomtom215/blockstats/internal/storage"
)

// Spill reasons recorded on write-ahead log entries.
const (
	spillReasonSaveFailed    = "save_failed"
	spillReasonQueueOverflow = "save_queue_full"
	spillReasonShutdown      = "shutdown"
)

// consumeProcess applies info to the working record, or arranges for it to be
// applied once the record is loaded.
func (p *Pipeline) consumeProcess(_ context.Context, info HandlingInfo) error {
	cb := func(rec *models.PlayerRecord) { p.apply(info, rec) }

	result, rec := p.ws.claim(info.PlayerID, cb)
	switch result {
	case claimRequeue:
		return queue.ErrRequeue
	case claimResident:
		defer p.ws.release(info.PlayerID)
		cb(rec)
	case claimLoad:
		if r := p.getQ.Offer(info.PlayerID); r == queue.Closed {
			p.dropLoad(info.PlayerID)
		}
	}
	return nil
}

// consumeGet loads a record and runs every callback that was waiting for it.
// A player storage has never seen starts with a fresh record.
func (p *Pipeline) consumeGet(ctx context.Context, id uuid.UUID) error {
	rec, err := p.load(ctx, id)
	if err != nil {
		dropped := p.ws.loadFailed(id)
		return fmt.Errorf("load player %s, dropped %d pending mutations: %w", id, dropped, err)
	}

	cbs := p.ws.install(id, rec)
	defer p.ws.release(id)
	for _, cb := range cbs {
		cb(rec)
	}
	return nil
}

func (p *Pipeline) load(ctx context.Context, id uuid.UUID) (*models.PlayerRecord, error) {
	rec, err := p.store.LoadRecord(ctx, id)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return models.NewPlayerRecord(id, time.Time{}), nil
	}
	return rec, err
}

// consumeSave writes one snapshot. Only one snapshot per player is written
// at a time and a snapshot older than one already written is skipped.
func (p *Pipeline) consumeSave(ctx context.Context, item saveItem) error {
	id := item.rec.UUID
	switch p.ws.beginSave(id, item.seq) {
	case saveBusy:
		return queue.ErrRequeue
	case saveStale:
		p.ws.skipSave(id)
		return nil
	}
	defer p.ws.endSave(id, item.seq)
	return p.persist(ctx, item.rec)
}

// consumeClear evicts a working record once it is idle. A player who is
// online again is left resident; their next logout asks again.
func (p *Pipeline) consumeClear(_ context.Context, id uuid.UUID) error {
	if p.cache.IsActive(id) {
		return nil
	}
	if !p.ws.evict(id) {
		return queue.ErrRequeue
	}
	return nil
}

// apply runs one mutation against rec. The caller holds rec exclusively.
func (p *Pipeline) apply(info HandlingInfo, rec *models.PlayerRecord) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WorkerPanics.WithLabelValues(StageProcess).Inc()
			p.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("player", info.PlayerID.String()).
				Str("kind", info.Kind).
				Msg("Recovered panic in mutation")
		}
	}()

	if rec.UUID != info.PlayerID {
		p.identityMismatch(info, fmt.Errorf("%w: item for %s got record %s", ErrIdentityMismatch, info.PlayerID, rec.UUID))
		return
	}
	if rec.Registered.IsZero() || info.Timestamp.Before(rec.Registered) {
		rec.Registered = info.Timestamp
	}

	persist, err := info.Mutate(rec)
	if err != nil {
		if errors.Is(err, ErrIdentityMismatch) {
			p.identityMismatch(info, err)
			return
		}
		p.logger.Warn().Err(err).
			Str("player", info.PlayerID.String()).
			Str("kind", info.Kind).
			Msg("Mutation failed")
		return
	}
	if persist {
		p.enqueueSave(rec)
	}
}

func (p *Pipeline) identityMismatch(info HandlingInfo, err error) {
	metrics.IdentityMismatches.Inc()
	p.logger.Error().Err(err).
		Str("player", info.PlayerID.String()).
		Str("kind", info.Kind).
		Msg("Mutation rejected: record identity mismatch")
}

// enqueueSave hands a snapshot of rec to the Save stage.
func (p *Pipeline) enqueueSave(rec *models.PlayerRecord) {
	item := saveItem{rec: rec.Clone(), seq: p.seq.Add(1)}
	p.ws.addSave(rec.UUID)
	if r := p.saveQ.Offer(item); r == queue.Closed {
		p.ws.skipSave(rec.UUID)
		p.persistNow(context.Background(), item.rec, spillReasonShutdown)
	}
}

// overflowSave runs when the Save queue is full. The snapshot goes straight
// to the write-ahead log so it is replayed later instead of lost.
func (p *Pipeline) overflowSave(item saveItem) {
	p.ws.skipSave(item.rec.UUID)
	p.spillRecord(context.Background(), item.rec, spillReasonQueueOverflow, errors.New("save queue full"))
}

// dropLoad abandons a load that could not be queued.
func (p *Pipeline) dropLoad(id uuid.UUID) {
	dropped := p.ws.loadFailed(id)
	p.logger.Warn().
		Str("player", id.String()).
		Int("dropped_mutations", dropped).
		Msg("Load request not queued, pending mutations dropped")
}

// persist saves rec with retries, spilling it when storage stays unavailable.
func (p *Pipeline) persist(ctx context.Context, rec *models.PlayerRecord) error {
	err := p.saveWithRetry(ctx, rec)
	if err == nil {
		return nil
	}
	p.spillRecord(ctx, rec, spillReasonSaveFailed, err)
	return fmt.Errorf("save player %s: %w", rec.UUID, err)
}

// persistNow is persist for callers outside the Save stage.
func (p *Pipeline) persistNow(ctx context.Context, rec *models.PlayerRecord, reason string) {
	if err := p.saveWithRetry(ctx, rec); err != nil {
		p.spillRecord(ctx, rec, reason, err)
	}
}

// saveWithRetry retries retryable failures with exponential backoff.
func (p *Pipeline) saveWithRetry(ctx context.Context, rec *models.PlayerRecord) error {
	backoff := p.cfg.SaveRetryBackoff
	for attempt := 0; ; attempt++ {
		err := p.store.SaveRecord(ctx, rec)
		if err == nil {
			return nil
		}
		if !storage.IsRetryable(err) || attempt >= p.cfg.SaveMaxRetries {
			return err
		}

		metrics.SaveRetries.Inc()
		p.logger.Debug().Err(err).
			Str("player", rec.UUID.String()).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Retrying save")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

// spillRecord parks rec in the write-ahead log.
func (p *Pipeline) spillRecord(ctx context.Context, rec *models.PlayerRecord, reason string, cause error) {
	if p.spill == nil {
		p.logger.Error().Err(cause).
			Str("player", rec.UUID.String()).
			Str("reason", reason).
			Msg("Record could not be saved and no write-ahead log is configured; data lost")
		return
	}
	// A cancelled worker context must not stop the spill.
	id, err := p.spill.Write(context.WithoutCancel(ctx), rec, reason)
	if err != nil {
		p.logger.Error().Err(err).
			AnErr("cause", cause).
			Str("player", rec.UUID.String()).
			Msg("Failed to spill record to write-ahead log; data lost")
		return
	}
	p.logger.Warn().Err(cause).
		Str("player", rec.UUID.String()).
		Str("entry", id).
		Str("reason", reason).
		Msg("Record spilled to write-ahead log")
}

// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

// Package pipeline turns gameplay events into durable player records.
//
// Work flows through four bounded stages, each a queue.Queue with its own
// worker pool:
//
//	Process: apply a mutation to the player's working record, loading it first
//	         when it is not resident
//	Get:     load a record from storage and run the callbacks waiting on it
//	Save:    write a record snapshot, retrying transient failures and spilling
//	         to the write-ahead log when storage stays unavailable
//	Clear:   evict a working record once nothing refers to it
//
// The working set guarantees that at most one goroutine mutates a player's
// record at a time. A contended item is requeued rather than blocking a
// worker, so one slow player never stalls the others.
//
// Closed sessions arrive through PersistSession, which the session cache
// calls; events arrive through Submit, usually from a Tracker.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/blockstats/internal/config"
	"github.com/tomtom215/blockstats/internal/events"
	"github.com/tomtom215/blockstats/internal/logging"
	"github.com/tomtom215/blockstats/internal/models"
	"github.com/tomtom215/blockstats/internal/queue"
	"github.com/tomtom215/blockstats/internal/session"
	"github.com/tomtom215/blockstats/internal/storage"
)

// Stage names, used as queue names and metric labels.
const (
	StageProcess = "process"
	StageGet     = "get"
	StageSave    = "save"
	StageClear   = "clear"
)

// Spiller durably parks a record that could not be saved. *wal.BadgerWAL
// implements it.
type Spiller interface {
	Write(ctx context.Context, rec *models.PlayerRecord, reason string) (string, error)
}

// saveItem is a record snapshot on its way to storage. seq orders snapshots
// of the same player; a higher seq always contains everything a lower one does.
type saveItem struct {
	rec *models.PlayerRecord
	seq uint64
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	Running        bool                   `json:"running"`
	WorkingSet     int                    `json:"working_set"`
	ActiveSessions int                    `json:"active_sessions"`
	Stages         map[string]queue.Stats `json:"stages"`
}

// Pipeline owns the four stages and the working set.
type Pipeline struct {
	cfg    config.PipelineConfig
	store  storage.Store
	spill  Spiller
	cache  *session.Cache
	now    func() time.Time
	logger zerolog.Logger

	ws  *workingSet
	seq atomic.Uint64

	processQ *queue.Queue[HandlingInfo]
	getQ     *queue.Queue[uuid.UUID]
	saveQ    *queue.Queue[saveItem]
	clearQ   *queue.Queue[uuid.UUID]

	mu       sync.Mutex
	started  bool
	disabled bool
}

// New creates a pipeline writing through store. spill may be nil, in which
// case records that cannot be saved are logged and lost. Unless cache is a
// proxy cache, the pipeline installs itself as its persister.
func New(cfg config.PipelineConfig, store storage.Store, spill Spiller, cache *session.Cache) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		store:  store,
		spill:  spill,
		cache:  cache,
		now:    time.Now,
		logger: logging.WithComponent("pipeline"),
		ws:     newWorkingSet(),
	}

	p.processQ = queue.New(stageConfig(StageProcess, cfg.Process, cfg.RequeueBackoff), p.consumeProcess)
	p.getQ = queue.New(stageConfig(StageGet, cfg.Get, cfg.RequeueBackoff), p.consumeGet)
	p.saveQ = queue.New(stageConfig(StageSave, cfg.Save, cfg.RequeueBackoff), p.consumeSave)
	p.clearQ = queue.New(stageConfig(StageClear, cfg.Clear, cfg.RequeueBackoff), p.consumeClear)

	p.processQ.OnDrop(func(info HandlingInfo) { p.ws.untrack(info.PlayerID) })
	p.getQ.OnDrop(p.dropLoad)
	p.saveQ.OnDrop(p.overflowSave)

	cache.SetPersister(p)
	return p
}

func stageConfig(name string, sc config.StageConfig, backoff time.Duration) queue.Config {
	return queue.Config{
		Name:           name,
		Capacity:       sc.Capacity,
		Workers:        sc.Workers,
		RequeueBackoff: backoff,
	}
}

// Start launches every stage's workers.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disabled {
		return queue.ErrStopped
	}
	if p.started {
		return nil
	}

	// Downstream stages first so nothing is offered to a stage without workers.
	if err := p.clearQ.Start(ctx); err != nil {
		return err
	}
	if err := p.saveQ.Start(ctx); err != nil {
		return err
	}
	if err := p.getQ.Start(ctx); err != nil {
		return err
	}
	if err := p.processQ.Start(ctx); err != nil {
		return err
	}
	p.started = true

	p.logger.Info().
		Bool("proxy_mode", p.cache.IsProxy()).
		Int("process_workers", p.cfg.Process.Workers).
		Int("save_workers", p.cfg.Save.Workers).
		Msg("Pipeline started")
	return nil
}

// Submit hands an event for player id to the Process stage. It never blocks.
func (p *Pipeline) Submit(id uuid.UUID, ev events.Event, at time.Time) queue.Result {
	if p.isDisabled() {
		return queue.Closed
	}
	return p.submit(handlingFor(id, ev, at))
}

// SubmitMutation hands an arbitrary mutation to the Process stage.
func (p *Pipeline) SubmitMutation(info HandlingInfo) queue.Result {
	if p.isDisabled() {
		return queue.Closed
	}
	return p.submit(info)
}

func (p *Pipeline) submit(info HandlingInfo) queue.Result {
	p.ws.track(info.PlayerID)
	r := p.processQ.Offer(info)
	if r == queue.Closed {
		p.ws.untrack(info.PlayerID)
	}
	return r
}

// PersistSession implements session.Persister. It runs on the event path and
// only enqueues work.
func (p *Pipeline) PersistSession(s *models.Session) {
	r := p.submit(HandlingInfo{
		PlayerID:  s.PlayerID,
		Kind:      kindSessionClosed,
		Timestamp: s.Start,
		Mutate:    sessionClosed(s),
	})
	if r != queue.Accepted {
		p.logger.Error().
			Str("player", s.PlayerID.String()).
			Str("session", s.ID.String()).
			Str("result", r.String()).
			Msg("Closed session not accepted by pipeline")
	}
}

// RequestClear asks the Clear stage to evict id once it is no longer in use.
func (p *Pipeline) RequestClear(id uuid.UUID) queue.Result {
	if p.isDisabled() {
		return queue.Closed
	}
	return p.clearQ.Offer(id)
}

// ActiveSession returns a snapshot of the active session for id.
func (p *Pipeline) ActiveSession(id uuid.UUID) (*models.Session, bool) {
	return p.cache.GetCachedSession(id)
}

// AllActiveSessions returns snapshots of every active session.
func (p *Pipeline) AllActiveSessions() map[uuid.UUID]*models.Session {
	return p.cache.AllActive()
}

// Record returns the freshest view of id's record: the resident working copy
// when it is idle, otherwise what storage holds.
func (p *Pipeline) Record(ctx context.Context, id uuid.UUID) (*models.PlayerRecord, error) {
	if rec, ok := p.ws.snapshot(id); ok {
		return rec, nil
	}
	return p.store.LoadRecord(ctx, id)
}

// Stats returns queue counters and working set size.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	running := p.started && !p.disabled
	p.mu.Unlock()

	return Stats{
		Running:        running,
		WorkingSet:     p.ws.len(),
		ActiveSessions: p.cache.Len(),
		Stages: map[string]queue.Stats{
			StageProcess: p.processQ.Stats(),
			StageGet:     p.getQ.Stats(),
			StageSave:    p.saveQ.Stats(),
			StageClear:   p.clearQ.Stats(),
		},
	}
}

func (p *Pipeline) isDisabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disabled
}

// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package pipeline

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/blockstats/internal/metrics"
	"github.com/tomtom215/blockstats/internal/models"
)

// callback runs once a player's record has been loaded.
type callback func(rec *models.PlayerRecord)

// claimResult tells the Process stage what to do with an item.
type claimResult int

const (
	// claimRequeue: the player is contended, try again later.
	claimRequeue claimResult = iota
	// claimJoined: a load is in flight and the item rides along with it.
	claimJoined
	// claimResident: the record is resident and now held by the caller.
	claimResident
	// claimLoad: the caller must request a load.
	claimLoad
)

// maxPendingLoads is the number of callbacks a single load may carry before
// further items for the same player are requeued.
const maxPendingLoads = 2

type saveState int

const (
	saveProceed saveState = iota
	saveBusy
	saveStale
)

// entry is the pipeline's view of one player.
type entry struct {
	record  *models.PlayerRecord
	loading bool
	busy    bool
	pending []callback

	// queued counts Process items accepted but not yet handled.
	queued int
	// saves counts snapshots enqueued but not yet written or spilled.
	saves    int
	saving   bool
	savedSeq uint64
}

func (e *entry) idle() bool {
	return !e.loading && !e.busy && len(e.pending) == 0 && e.queued == 0 && e.saves == 0
}

// workingSet maps player identity to its working record and in-flight state.
// Every method is an in-memory map operation under one mutex; no method does
// I/O or runs a mutation while holding the lock.
type workingSet struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

func newWorkingSet() *workingSet {
	return &workingSet{entries: make(map[uuid.UUID]*entry)}
}

func (ws *workingSet) getLocked(id uuid.UUID) *entry {
	e, ok := ws.entries[id]
	if !ok {
		e = &entry{}
		ws.entries[id] = e
		metrics.WorkingSetSize.Set(float64(len(ws.entries)))
	}
	return e
}

// pruneLocked forgets an entry that holds nothing.
func (ws *workingSet) pruneLocked(id uuid.UUID, e *entry) {
	if e.record == nil && e.idle() {
		delete(ws.entries, id)
		metrics.WorkingSetSize.Set(float64(len(ws.entries)))
	}
}

// track counts a Process item accepted for id.
func (ws *workingSet) track(id uuid.UUID) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.getLocked(id).queued++
}

// untrack reverses track for an item that left the Process queue unhandled.
func (ws *workingSet) untrack(id uuid.UUID) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	e, ok := ws.entries[id]
	if !ok {
		return
	}
	if e.queued > 0 {
		e.queued--
	}
	ws.pruneLocked(id, e)
}

// claim decides how the Process stage handles an item for id. On
// claimResident the returned record is held exclusively until release; on
// claimJoined and claimLoad cb has been registered with the load.
func (ws *workingSet) claim(id uuid.UUID, cb callback) (claimResult, *models.PlayerRecord) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	e := ws.getLocked(id)

	switch {
	case e.busy, e.loading && len(e.pending) >= maxPendingLoads:
		return claimRequeue, nil
	case e.loading:
		e.pending = append(e.pending, cb)
		e.doneQueued()
		return claimJoined, nil
	case e.record != nil:
		e.busy = true
		e.doneQueued()
		return claimResident, e.record
	default:
		e.loading = true
		e.pending = append(e.pending, cb)
		e.doneQueued()
		return claimLoad, nil
	}
}

func (e *entry) doneQueued() {
	if e.queued > 0 {
		e.queued--
	}
}

// release ends exclusive access taken by claim or install.
func (ws *workingSet) release(id uuid.UUID) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if e, ok := ws.entries[id]; ok {
		e.busy = false
	}
}

// install makes rec the working record for id and returns the callbacks that
// were waiting for it. The caller holds the record exclusively until release.
func (ws *workingSet) install(id uuid.UUID, rec *models.PlayerRecord) []callback {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	e := ws.getLocked(id)
	e.record = rec
	e.loading = false
	e.busy = true
	cbs := e.pending
	e.pending = nil
	return cbs
}

// loadFailed abandons a load and returns the number of callbacks dropped.
func (ws *workingSet) loadFailed(id uuid.UUID) int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	e, ok := ws.entries[id]
	if !ok {
		return 0
	}
	n := len(e.pending)
	e.pending = nil
	e.loading = false
	ws.pruneLocked(id, e)
	return n
}

// loadingIDs returns the ids with a load requested but not yet installed.
func (ws *workingSet) loadingIDs() []uuid.UUID {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	var ids []uuid.UUID
	for id, e := range ws.entries {
		if e.loading {
			ids = append(ids, id)
		}
	}
	return ids
}

// resident returns the working record for id when one is installed.
func (ws *workingSet) resident(id uuid.UUID) (*models.PlayerRecord, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	e, ok := ws.entries[id]
	if !ok || e.record == nil {
		return nil, false
	}
	return e.record, true
}

// snapshot returns a copy of the working record for id, if it is resident
// and not being mutated.
func (ws *workingSet) snapshot(id uuid.UUID) (*models.PlayerRecord, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	e, ok := ws.entries[id]
	if !ok || e.record == nil || e.busy {
		return nil, false
	}
	return e.record.Clone(), true
}

// addSave counts a snapshot enqueued for id.
func (ws *workingSet) addSave(id uuid.UUID) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.getLocked(id).saves++
}

// beginSave admits one writer per player and skips snapshots older than one
// already written.
func (ws *workingSet) beginSave(id uuid.UUID, seq uint64) saveState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	e, ok := ws.entries[id]
	if !ok {
		return saveProceed
	}
	switch {
	case e.saving:
		return saveBusy
	case seq <= e.savedSeq:
		return saveStale
	default:
		e.saving = true
		return saveProceed
	}
}

// endSave releases the writer admitted by beginSave once snapshot seq has
// been written or spilled.
func (ws *workingSet) endSave(id uuid.UUID, seq uint64) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	e, ok := ws.entries[id]
	if !ok {
		return
	}
	e.saving = false
	if seq > e.savedSeq {
		e.savedSeq = seq
	}
	e.doneSave()
	ws.pruneLocked(id, e)
}

// skipSave forgets a snapshot that never reached a writer.
func (ws *workingSet) skipSave(id uuid.UUID) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	e, ok := ws.entries[id]
	if !ok {
		return
	}
	e.doneSave()
	ws.pruneLocked(id, e)
}

func (e *entry) doneSave() {
	if e.saves > 0 {
		e.saves--
	}
}

// evict removes the working record for id if nothing in the pipeline still
// refers to it. It reports false when the player is still in use.
func (ws *workingSet) evict(id uuid.UUID) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	e, ok := ws.entries[id]
	if !ok {
		return true
	}
	if !e.idle() {
		return false
	}
	delete(ws.entries, id)
	metrics.WorkingSetSize.Set(float64(len(ws.entries)))
	return true
}

func (ws *workingSet) len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.entries)
}

func (ws *workingSet) clear() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.entries = make(map[uuid.UUID]*entry)
	metrics.WorkingSetSize.Set(0)
}

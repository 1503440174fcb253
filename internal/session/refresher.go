// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package session

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/blockstats/internal/logging"
	"github.com/tomtom215/blockstats/internal/metrics"
)

// DefaultRefreshInterval is how often active sessions are brought up to date.
const DefaultRefreshInterval = time.Minute

// Refresher periodically folds world time into every active session so that
// readers see up-to-the-minute world and game mode breakdowns.
type Refresher struct {
	cache    *Cache
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRefresher creates a refresher for cache.
func NewRefresher(cache *Cache, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{
		cache:    cache,
		interval: interval,
		now:      time.Now,
	}
}

// Start launches the refresh loop. Calling Start on a running refresher is a no-op.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.run(loopCtx, r.done)

	logging.Debug().Dur("interval", r.interval).Msg("Session refresher started")
	return nil
}

// Stop halts the loop and waits for it to exit.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	done := r.done
	r.running = false
	r.mu.Unlock()

	<-done
}

// IsRunning reports whether the loop is active.
func (r *Refresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Refresher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cache.RefreshActiveSessions(r.now())
			metrics.ActiveSessions.Set(float64(r.cache.Len()))
		}
	}
}

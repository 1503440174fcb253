// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/blockstats/internal/config"
	"github.com/tomtom215/blockstats/internal/logging"
	"github.com/tomtom215/blockstats/internal/metrics"
	"github.com/tomtom215/blockstats/internal/models"
)

// BreakerStore guards a Store with a circuit breaker so a failing database is
// given room to recover instead of being hammered by every queued load and save.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[interface{}]
}

// NewBreakerStore wraps next. A missing record and a cancelled context do not
// count as failures.
func NewBreakerStore(name string, next Store, cfg config.BreakerConfig) *BreakerStore {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrRecordNotFound) ||
				errors.Is(err, ErrNilRecord) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			metrics.RecordBreakerTransition(name, from.String(), to.String(), int(to))
		},
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return &BreakerStore{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[interface{}](settings),
	}
}

// LoadRecord implements Store.
func (b *BreakerStore) LoadRecord(ctx context.Context, id uuid.UUID) (*models.PlayerRecord, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.LoadRecord(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := res.(*models.PlayerRecord)
	return rec, nil
}

// SaveRecord implements Store.
func (b *BreakerStore) SaveRecord(ctx context.Context, rec *models.PlayerRecord) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.SaveRecord(ctx, rec)
	})
	return err
}

// State returns the breaker state name: closed, half-open or open.
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

// Counts returns the breaker's request counters for the current interval.
func (b *BreakerStore) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

// Package ingest receives gameplay events from the game server bridge and
// hands them to the pipeline.
//
// The bridge publishes one JSON envelope per event on a NATS subject. The
// Consumer decodes each envelope, suppresses redeliveries by event id and
// calls a Handler. Core NATS gives at-most-once delivery, so a message is
// acked once the pipeline has decided its fate; only a closed pipeline
// nacks.
package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/blockstats/internal/cache"
	"github.com/tomtom215/blockstats/internal/events"
	"github.com/tomtom215/blockstats/internal/logging"
	"github.com/tomtom215/blockstats/internal/metrics"
	"github.com/tomtom215/blockstats/internal/queue"
)

// Outcome labels for metrics.IngestMessages.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDropped   = "dropped"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeRejected  = "rejected"
)

// Handler consumes decoded events. *pipeline.Tracker implements it.
type Handler interface {
	Handle(ev events.Event) (queue.Result, error)
}

// Stats counts messages by outcome since the consumer was created.
type Stats struct {
	Received   int64 `json:"received"`
	Accepted   int64 `json:"accepted"`
	Dropped    int64 `json:"dropped"`
	Duplicates int64 `json:"duplicates"`
	Invalid    int64 `json:"invalid"`
	Rejected   int64 `json:"rejected"`
	DedupSize  int   `json:"dedup_size"`
	Running    bool  `json:"running"`
}

// Consumer reads envelopes from a subscriber topic and feeds a Handler.
type Consumer struct {
	sub     message.Subscriber
	topic   string
	handler Handler
	dedup   *cache.LRU
	logger  zerolog.Logger

	// cleanupInterval is how often expired dedup keys are swept.
	cleanupInterval time.Duration
	// warnLimit keeps a malformed-message flood from flooding the log.
	warnLimit *rate.Limiter

	running    atomic.Bool
	received   atomic.Int64
	accepted   atomic.Int64
	dropped    atomic.Int64
	duplicates atomic.Int64
	invalid    atomic.Int64
	rejected   atomic.Int64
}

// NewConsumer creates a consumer of topic. dedup holds recently seen event
// ids; its ttl is the duplicate suppression window.
func NewConsumer(sub message.Subscriber, topic string, handler Handler, dedup *cache.LRU) *Consumer {
	return &Consumer{
		sub:             sub,
		topic:           topic,
		handler:         handler,
		dedup:           dedup,
		logger:          logging.WithComponent("ingest"),
		cleanupInterval: time.Minute,
		warnLimit:       rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Run subscribes and processes messages until ctx is canceled or the
// subscription closes.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.sub.Subscribe(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.topic, err)
	}

	c.running.Store(true)
	defer c.running.Store(false)
	c.logger.Info().Str("topic", c.topic).Msg("Consuming gameplay events")

	cleanup := time.NewTicker(c.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanup.C:
			if n := c.dedup.CleanupExpired(); n > 0 {
				c.logger.Debug().Int("removed", n).Msg("Expired dedup entries removed")
			}
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.processMessage(msg)
		}
	}
}

// processMessage decides the message's fate and acks or nacks it. It returns
// the outcome label.
func (c *Consumer) processMessage(msg *message.Message) string {
	c.received.Add(1)

	eventID, ev, err := events.Decode(msg.Payload)
	if err != nil {
		c.invalid.Add(1)
		c.warn(msg, "", err, "Discarding malformed event")
		return c.finish(msg, OutcomeInvalid, true)
	}

	if c.dedup.Contains(eventID) {
		c.duplicates.Add(1)
		return c.finish(msg, OutcomeDuplicate, true)
	}

	result, err := c.handler.Handle(ev)
	if err != nil {
		c.invalid.Add(1)
		c.warn(msg, eventID, err, "Event not handled")
		return c.finish(msg, OutcomeInvalid, true)
	}

	switch result {
	case queue.Accepted:
		c.dedup.Add(eventID)
		c.accepted.Add(1)
		return c.finish(msg, OutcomeAccepted, true)
	case queue.Dropped:
		// Overflow is final: a redelivery would find the queue just as full.
		c.dedup.Add(eventID)
		c.dropped.Add(1)
		return c.finish(msg, OutcomeDropped, true)
	default:
		c.rejected.Add(1)
		return c.finish(msg, OutcomeRejected, false)
	}
}

func (c *Consumer) finish(msg *message.Message, outcome string, ack bool) string {
	metrics.RecordIngest(outcome)
	if ack {
		msg.Ack()
	} else {
		msg.Nack()
	}
	return outcome
}

func (c *Consumer) warn(msg *message.Message, eventID string, err error, text string) {
	if !c.warnLimit.Allow() {
		return
	}
	ctx := logging.ContextWithEventID(msg.Context(), eventID)
	logging.Ctx(ctx).Warn().
		Str("component", "ingest").
		Err(err).
		Str("message_uuid", msg.UUID).
		Str("topic", c.topic).
		Msg(text)
}

// IsRunning reports whether Run is consuming.
func (c *Consumer) IsRunning() bool {
	return c.running.Load()
}

// Stats returns the outcome counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Received:   c.received.Load(),
		Accepted:   c.accepted.Load(),
		Dropped:    c.dropped.Load(),
		Duplicates: c.duplicates.Load(),
		Invalid:    c.invalid.Load(),
		Rejected:   c.rejected.Load(),
		DedupSize:  c.dedup.Len(),
		Running:    c.running.Load(),
	}
}

// String names the consumer in supervisor logs.
func (c *Consumer) String() string {
	return "ingest-consumer"
}

// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/blockstats/internal/cache"
	"github.com/tomtom215/blockstats/internal/config"
	"github.com/tomtom215/blockstats/internal/events"
	"github.com/tomtom215/blockstats/internal/queue"
)

func TestEmbeddedServer_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	cfg := config.NATSConfig{
		Host:        "127.0.0.1",
		Port:        -1, // random
		Subject:     testTopic,
		QueueGroup:  "blockstats-test",
		Subscribers: 1,
		AckWait:     5 * time.Second,
	}

	srv, err := NewEmbeddedServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	require.True(t, srv.IsRunning())

	logger := watermill.NopLogger{}
	sub, err := NewNATSSubscriber(cfg, srv.ClientURL(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	pub, err := NewNATSPublisher(srv.ClientURL(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	handler := &fakeHandler{result: queue.Accepted}
	c := NewConsumer(sub, testTopic, handler, cache.NewLRU(100, time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = c.Run(ctx) }()
	require.Eventually(t, c.IsRunning, 5*time.Second, 10*time.Millisecond)

	payload := encode(t, "evt-e2e", events.Kick{PlayerID: uuid.New(), Time: t0})

	// Core NATS drops messages published before the subscription reaches the
	// server, so keep publishing the same event until one lands. Dedup makes
	// the repeats harmless.
	require.Eventually(t, func() bool {
		_ = pub.Publish(testTopic, message.NewMessage(watermill.NewUUID(), payload))
		return c.Stats().Accepted == 1
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, 1, handler.count())
	assert.Equal(t, events.KindKick, handler.seen[0].Kind())
}

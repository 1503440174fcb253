// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tomtom215/blockstats/internal/logging"
	"github.com/tomtom215/blockstats/internal/validation"
)

// Validate checks struct tags first, then the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateWAL(); err != nil {
		return err
	}
	return c.validateNATS()
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal, panic, disabled; got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	// The process queue absorbs gameplay bursts; it must not be the smallest stage.
	if p.Process.Capacity < p.Save.Capacity {
		return fmt.Errorf("PROCESS_QUEUE_CAPACITY (%d) must be at least SAVE_QUEUE_CAPACITY (%d)",
			p.Process.Capacity, p.Save.Capacity)
	}
	if p.SaveMaxRetries > 0 && p.SaveRetryBackoff == 0 {
		return fmt.Errorf("SAVE_RETRY_BACKOFF must be set when SAVE_MAX_RETRIES > 0")
	}
	return nil
}

func (c *Config) validateWAL() error {
	if !c.WAL.Enabled {
		return nil
	}
	if strings.TrimSpace(c.WAL.Path) == "" {
		return fmt.Errorf("WAL_PATH is required when WAL_ENABLED=true")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.Subject == "" {
		return fmt.Errorf("NATS_SUBJECT is required when NATS_ENABLED=true")
	}
	if c.NATS.EmbeddedServer {
		if c.NATS.Port == 0 {
			return fmt.Errorf("NATS_PORT is required when NATS_EMBEDDED=true")
		}
		return nil
	}
	u, err := url.Parse(c.NATS.URL)
	if err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	if u.Scheme != "nats" && u.Scheme != "tls" {
		return fmt.Errorf("NATS_URL must use nats:// or tls://, got %q", c.NATS.URL)
	}
	return nil
}

// ServerAddr returns host:port for the HTTP server.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// NATSURL returns the URL clients should dial: the embedded server's address
// when it is enabled, otherwise the configured URL.
func (c *Config) NATSURL() string {
	if c.NATS.EmbeddedServer {
		return fmt.Sprintf("nats://%s:%d", c.NATS.Host, c.NATS.Port)
	}
	return c.NATS.URL
}

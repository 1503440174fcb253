// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package services

import (
	"context"
	"errors"
	"fmt"
)

// StartStopper is a background loop with an explicit lifecycle.
//
// Satisfied by *session.Refresher and *wal.Replayer.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// Runner blocks in Run until ctx is canceled or it fails.
//
// Satisfied by *ingest.Consumer.
type Runner interface {
	Run(ctx context.Context) error
	String() string
}

// errRunnerExited is returned when a Runner returns nil before shutdown, so
// the supervisor restarts it instead of forgetting it.
var errRunnerExited = errors.New("runner exited before shutdown")

// LifecycleService adapts a StartStopper to suture.Service: Start, wait for
// cancellation, Stop. Stop blocks until the loop's goroutine has exited.
type LifecycleService struct {
	component StartStopper
	name      string
}

// NewLifecycleService wraps component under name.
func NewLifecycleService(name string, component StartStopper) *LifecycleService {
	return &LifecycleService{component: component, name: name}
}

// Serve implements suture.Service.
func (s *LifecycleService) Serve(ctx context.Context) error {
	if err := s.component.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	s.component.Stop()
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *LifecycleService) String() string {
	return s.name
}

// RunnerService adapts a Runner to suture.Service.
type RunnerService struct {
	runner Runner
}

// NewRunnerService wraps runner; its String is the service name.
func NewRunnerService(runner Runner) *RunnerService {
	return &RunnerService{runner: runner}
}

// Serve implements suture.Service. A Run that ends on its own, with or
// without an error, is a failure to be restarted.
func (s *RunnerService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return errRunnerExited
	}
	return err
}

// String names the service in supervisor logs.
func (s *RunnerService) String() string {
	return s.runner.String()
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package supervisor runs background services as monitored tasks.
// Each service runs in its own goroutine; one failing never disturbs
// the others, and every completion is observed and logged.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Service is a long-running background component. Start blocks until
// the service stops: it returns nil after a clean stop and an error on
// failure. Stop requests shutdown and returns once the service has
// wound down or ctx expires.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// TaskState describes where a supervised service is in its lifecycle.
type TaskState int

const (
	NotStarted TaskState = iota
	Running
	StoppedClean
	Failed
)

func (s TaskState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case StoppedClean:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// FailureObserver is notified when a supervised service fails.
type FailureObserver interface {
	RecordServiceFailure(ctx context.Context, service string)
}

// Handle tracks a set of launched services until they are stopped.
type Handle struct {
	logger   *slog.Logger
	services []Service
	observer FailureObserver

	mu     sync.Mutex
	states map[string]TaskState

	wg sync.WaitGroup
}

// Start launches every service in its own goroutine and returns once
// all are launched. It does not wait for the services to finish;
// completions are observed in the background and logged. observer may
// be nil.
func Start(ctx context.Context, logger *slog.Logger, observer FailureObserver, services []Service) *Handle {
	h := &Handle{
		logger:   logger,
		services: services,
		observer: observer,
		states:   make(map[string]TaskState, len(services)),
	}
	for _, svc := range services {
		h.states[svc.Name()] = NotStarted
	}

	for _, svc := range services {
		h.setState(svc.Name(), Running)
		h.wg.Add(1)
		go func(svc Service) {
			defer h.wg.Done()
			err := svc.Start(ctx)
			if err != nil {
				h.setState(svc.Name(), Failed)
				logger.Error("service failed",
					slog.String("service", svc.Name()),
					slog.Any("error", err))
				if observer != nil {
					observer.RecordServiceFailure(context.WithoutCancel(ctx), svc.Name())
				}
				return
			}
			h.setState(svc.Name(), StoppedClean)
			logger.Info("service stopped", slog.String("service", svc.Name()))
		}(svc)
	}

	return h
}

// Stop requests shutdown of every service concurrently and waits until
// all have reached a terminal state. Individual stop errors are
// collected; a service that already failed does not block shutdown of
// the rest.
func (h *Handle) Stop(ctx context.Context) error {
	if len(h.services) == 0 {
		return nil
	}

	errCh := make(chan error, len(h.services))
	var stopWG sync.WaitGroup
	for _, svc := range h.services {
		stopWG.Add(1)
		go func(svc Service) {
			defer stopWG.Done()
			if err := svc.Stop(ctx); err != nil {
				h.logger.Error("service stop failed",
					slog.String("service", svc.Name()),
					slog.Any("error", err))
				errCh <- err
			}
		}(svc)
	}
	stopWG.Wait()
	close(errCh)

	// All run goroutines have been asked to exit; wait for their
	// completions to be observed.
	h.wg.Wait()

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// States returns a snapshot of every service's lifecycle state.
func (h *Handle) States() map[string]TaskState {
	h.mu.Lock()
	defer h.mu.Unlock()
	snapshot := make(map[string]TaskState, len(h.states))
	for name, state := range h.states {
		snapshot[name] = state
	}
	return snapshot
}

func (h *Handle) setState(name string, state TaskState) {
	h.mu.Lock()
	h.states[name] = state
	h.mu.Unlock()
}

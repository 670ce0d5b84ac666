package scheduler

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Registry drives background work on cron schedules: the event
// assembler, the event remover, the job status reconciler and every
// enabled scheduled job. A nil *Registry is valid and means the
// deployment mode has no scheduler; callers surface 501 in that case.
type Registry struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		cron:    cron.New(),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Register binds fn to a cron schedule under a unique name. Registering
// an existing name replaces the previous binding.
func (r *Registry) Register(name, schedule string, fn func(context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[name]; ok {
		r.cron.Remove(existing)
		delete(r.entries, name)
	}

	id, err := r.cron.AddFunc(schedule, func() {
		ctx := context.Background()
		r.logger.DebugContext(ctx, "scheduled task firing", "task", name)
		fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("registering task %q with schedule %q: %w", name, schedule, err)
	}
	r.entries[name] = id
	return nil
}

// Unregister removes a named binding. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entries[name]; ok {
		r.cron.Remove(id)
		delete(r.entries, name)
	}
}

// Start launches the cron loop in its own goroutine.
func (r *Registry) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for running tasks.
func (r *Registry) Stop() {
	<-r.cron.Stop().Done()
}

// Available reports whether scheduled-job endpoints can be served.
func (r *Registry) Available() bool {
	return r != nil
}

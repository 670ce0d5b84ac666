package jobs

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/database"
	"github.com/cloudcustos/ruleengine/internal/executor"
	"github.com/cloudcustos/ruleengine/internal/metrics"
)

// describeBatchSize bounds one executor describe call.
const describeBatchSize = 100

// Reconciler mirrors executor state onto job rows and frees job locks
// when a run reaches a terminal state. It runs on the scheduler's tick
// in the long-running deployment mode.
type Reconciler struct {
	dbClient database.DBClient
	lock     *database.LockClient
	executor executor.Executor
	emitter  metrics.Emitter
	logger   *slog.Logger

	newTimestamp func() time.Time
}

func NewReconciler(dbClient database.DBClient, exec executor.Executor, emitter metrics.Emitter, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		dbClient:     dbClient,
		lock:         database.NewLockClient(dbClient),
		executor:     exec,
		emitter:      emitter,
		logger:       logger,
		newTimestamp: func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one reconciliation sweep. Errors on individual jobs are
// logged and do not stop the sweep.
func (r *Reconciler) Run(ctx context.Context) error {
	jobs, err := r.dbClient.ListNonTerminalJobs(ctx)
	if err != nil {
		return err
	}

	byBatchID := make(map[string]*database.JobDocument, len(jobs))
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if job.BatchJobID == "" {
			continue
		}
		byBatchID[job.BatchJobID] = job
		ids = append(ids, job.BatchJobID)
	}

	var pending, running int
	for start := 0; start < len(ids); start += describeBatchSize {
		end := min(start+describeBatchSize, len(ids))
		statuses, err := r.executor.Describe(ctx, ids[start:end])
		if err != nil {
			r.logger.ErrorContext(ctx, "executor describe failed", "error", err)
			continue
		}
		for _, status := range statuses {
			job := byBatchID[status.ID]
			if job == nil {
				continue
			}
			switch status.Status {
			case api.JobStatusPending, api.JobStatusSubmitted, api.JobStatusRunnable:
				pending++
			case api.JobStatusStarting, api.JobStatusRunning:
				running++
			}
			r.reconcile(ctx, job, status)
		}
	}

	r.emitter.EmitGauge("jobs_pending", float64(pending), nil)
	r.emitter.EmitGauge("jobs_running", float64(running), nil)
	return nil
}

func (r *Reconciler) reconcile(ctx context.Context, job *database.JobDocument, status executor.Status) {
	if job.Status == status.Status {
		return
	}

	job.Status = status.Status
	if status.Reason != "" {
		job.Reason = status.Reason
	}
	if status.Status.IsTerminal() {
		job.StoppedAt = r.newTimestamp()
	}
	if err := r.dbClient.SetJob(ctx, job); err != nil {
		r.logger.ErrorContext(ctx, "failed to mirror job status",
			"job_id", job.ID, "status", status.Status, "error", err)
		return
	}

	if !status.Status.IsTerminal() {
		return
	}
	if err := r.lock.Release(ctx, job.TenantName, job.ID); err != nil {
		r.logger.ErrorContext(ctx, "failed to release lock for finished job",
			"job_id", job.ID, "tenant", job.TenantName, "error", err)
	}
	r.emitter.AddCounter("jobs_finished_total", 1, map[string]string{
		"status": string(status.Status),
	})
	r.logger.InfoContext(ctx, "job finished",
		"job_id", job.ID, "tenant", job.TenantName, "status", job.Status)
}

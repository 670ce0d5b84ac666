package executor

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cloudcustos/ruleengine/internal/api"
)

var _ Executor = &Local{}

type localJob struct {
	submission Submission
	status     api.JobStatus
	reason     string
}

// Local is an in-process Executor for tests and the long-running
// deployment mode without a batch backend. Submissions are recorded and
// advance only through SetStatus.
type Local struct {
	mu   sync.Mutex
	jobs map[string]*localJob
}

func NewLocal() *Local {
	return &Local{jobs: make(map[string]*localJob)}
}

func (l *Local) Submit(ctx context.Context, submission Submission) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uuid.NewString()
	l.jobs[id] = &localJob{submission: submission, status: api.JobStatusSubmitted}
	return id, nil
}

func (l *Local) Terminate(ctx context.Context, id, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !job.status.IsTerminal() {
		job.status = api.JobStatusFailed
		job.reason = reason
	}
	return nil
}

func (l *Local) Describe(ctx context.Context, ids []string) ([]Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	statuses := make([]Status, 0, len(ids))
	for _, id := range ids {
		job, ok := l.jobs[id]
		if !ok {
			continue
		}
		statuses = append(statuses, Status{ID: id, Status: job.status, Reason: job.reason})
	}
	return statuses, nil
}

// SetStatus drives a recorded job's lifecycle from tests.
func (l *Local) SetStatus(id string, status api.JobStatus, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if job, ok := l.jobs[id]; ok {
		job.status = status
		job.reason = reason
	}
}

// Submission returns the recorded submission for id.
func (l *Local) Submission(id string) (Submission, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[id]
	if !ok {
		return Submission{}, false
	}
	return job.submission, true
}

// Submissions lists every recorded submission id in insertion-agnostic
// order.
func (l *Local) Submissions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.jobs))
	for id := range l.jobs {
		ids = append(ids, id)
	}
	return ids
}

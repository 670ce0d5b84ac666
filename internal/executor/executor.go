package executor

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"

	"github.com/cloudcustos/ruleengine/internal/api"
)

// ErrJobNotFound is returned when the executor does not know the job id.
var ErrJobNotFound = errors.New("ExecutorJobNotFound")

// Submission describes one scanner run. Env carries the full executor
// environment; the scanner reads everything from it.
type Submission struct {
	Name string
	Env  map[string]string
}

// Status is the executor's view of a submitted job.
type Status struct {
	ID     string
	Status api.JobStatus
	Reason string
}

// Executor submits scanner runs and tracks their lifecycle. The control
// plane never executes policies itself.
type Executor interface {
	// Submit starts a run and returns the executor's job id.
	Submit(ctx context.Context, submission Submission) (string, error)
	// Terminate stops a run. Terminating an already finished run is
	// not an error.
	Terminate(ctx context.Context, id, reason string) error
	// Describe reports the current status of the given runs. Unknown
	// ids are omitted from the result.
	Describe(ctx context.Context, ids []string) ([]Status, error)
}

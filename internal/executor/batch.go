package executor

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	batchtypes "github.com/aws/aws-sdk-go-v2/service/batch/types"

	"github.com/cloudcustos/ruleengine/internal/api"
)

var _ Executor = &BatchExecutor{}

// BatchExecutor runs the scanner container on AWS Batch.
type BatchExecutor struct {
	client        *batch.Client
	jobQueue      string
	jobDefinition string
}

func NewBatchExecutor(client *batch.Client, jobQueue, jobDefinition string) *BatchExecutor {
	return &BatchExecutor{
		client:        client,
		jobQueue:      jobQueue,
		jobDefinition: jobDefinition,
	}
}

func (e *BatchExecutor) Submit(ctx context.Context, submission Submission) (string, error) {
	env := make([]batchtypes.KeyValuePair, 0, len(submission.Env))
	for name, value := range submission.Env {
		env = append(env, batchtypes.KeyValuePair{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}
	sort.Slice(env, func(i, j int) bool { return *env[i].Name < *env[j].Name })

	resp, err := e.client.SubmitJob(ctx, &batch.SubmitJobInput{
		JobName:       aws.String(submission.Name),
		JobQueue:      aws.String(e.jobQueue),
		JobDefinition: aws.String(e.jobDefinition),
		ContainerOverrides: &batchtypes.ContainerOverrides{
			Environment: env,
		},
	})
	if err != nil {
		return "", fmt.Errorf("submitting batch job %s: %w", submission.Name, err)
	}
	return aws.ToString(resp.JobId), nil
}

func (e *BatchExecutor) Terminate(ctx context.Context, id, reason string) error {
	_, err := e.client.TerminateJob(ctx, &batch.TerminateJobInput{
		JobId:  aws.String(id),
		Reason: aws.String(reason),
	})
	if err != nil {
		return fmt.Errorf("terminating batch job %s: %w", id, err)
	}
	return nil
}

func (e *BatchExecutor) Describe(ctx context.Context, ids []string) ([]Status, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	resp, err := e.client.DescribeJobs(ctx, &batch.DescribeJobsInput{Jobs: ids})
	if err != nil {
		return nil, fmt.Errorf("describing batch jobs: %w", err)
	}

	statuses := make([]Status, 0, len(resp.Jobs))
	for _, job := range resp.Jobs {
		statuses = append(statuses, Status{
			ID:     aws.ToString(job.JobId),
			Status: fromBatchStatus(job.Status),
			Reason: aws.ToString(job.StatusReason),
		})
	}
	return statuses, nil
}

// fromBatchStatus maps the Batch lifecycle onto ours. The two lattices
// are intentionally identical apart from casing.
func fromBatchStatus(status batchtypes.JobStatus) api.JobStatus {
	switch status {
	case batchtypes.JobStatusSubmitted:
		return api.JobStatusSubmitted
	case batchtypes.JobStatusPending:
		return api.JobStatusPending
	case batchtypes.JobStatusRunnable:
		return api.JobStatusRunnable
	case batchtypes.JobStatusStarting:
		return api.JobStatusStarting
	case batchtypes.JobStatusRunning:
		return api.JobStatusRunning
	case batchtypes.JobStatusSucceeded:
		return api.JobStatusSucceeded
	case batchtypes.JobStatusFailed:
		return api.JobStatusFailed
	}
	return api.JobStatusSubmitted
}

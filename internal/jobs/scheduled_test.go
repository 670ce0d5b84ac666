package jobs

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/database"
	"github.com/cloudcustos/ruleengine/internal/scheduler"
)

func newScheduledFixture(t *testing.T) (*jobsFixture, *ScheduledService) {
	t.Helper()
	f := newJobsFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewScheduledService(f.service, scheduler.NewRegistry(logger), logger)
	return f, svc
}

func TestScheduledJobLifecycle(t *testing.T) {
	f, svc := newScheduledFixture(t)
	f.seedAWSTenant(t, "L1")
	f.seedLicense(t, "L1", "RS-AWS-CORE")
	f.seedLicensedRuleset(t, "RS-AWS-CORE", "ecc-aws-001-x")

	doc, err := svc.Create(context.Background(), Caller{}, &api.ScheduledJobRequest{
		Name:          "nightly",
		TenantName:    "TEN-AWS-1",
		Schedule:      "0 2 * * *",
		Description:   "nightly full scan",
		TargetRegions: []string{"us-east-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, database.ScheduledJobTypeStandard, doc.Type)
	assert.True(t, doc.Enabled)
	assert.Equal(t, []string{"RS-AWS-CORE::L1"}, doc.Meta.Rulesets)
	assert.Equal(t, []string{"us-east-1"}, doc.Meta.Regions)
	assert.Equal(t, "L1", doc.Context[contextLicenseKey])

	t.Run("name is unique per customer", func(t *testing.T) {
		_, err := svc.Create(context.Background(), Caller{}, &api.ScheduledJobRequest{
			Name:       "nightly",
			TenantName: "TEN-AWS-1",
			Schedule:   "0 3 * * *",
		})
		assertRESTError(t, err, 409)
	})

	t.Run("patch toggles and reshapes", func(t *testing.T) {
		patched, err := svc.Patch(context.Background(), Caller{}, "ACME", "nightly", &api.ScheduledJobPatchRequest{
			Enabled:  lo.ToPtr(false),
			Schedule: lo.ToPtr("30 4 * * *"),
		})
		require.NoError(t, err)
		assert.False(t, patched.Enabled)
		assert.Equal(t, "30 4 * * *", patched.Schedule)
	})

	t.Run("delete removes the definition", func(t *testing.T) {
		require.NoError(t, svc.Delete(context.Background(), Caller{}, "ACME", "nightly"))
		_, err := svc.Get(context.Background(), Caller{}, "ACME", "nightly")
		assertRESTError(t, err, 404)
	})
}

func TestScheduledJobValidation(t *testing.T) {
	f, svc := newScheduledFixture(t)
	f.seedAWSTenant(t, "L1")
	f.seedLicense(t, "L1", "RS-AWS-CORE")
	f.seedLicensedRuleset(t, "RS-AWS-CORE", "ecc-aws-001-x")

	t.Run("invalid cron expression", func(t *testing.T) {
		_, err := svc.Create(context.Background(), Caller{}, &api.ScheduledJobRequest{
			Name:       "broken",
			TenantName: "TEN-AWS-1",
			Schedule:   "not a schedule",
		})
		assertRESTError(t, err, 400)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := svc.Create(context.Background(), Caller{}, &api.ScheduledJobRequest{
			Name:       "orphan",
			TenantName: "nope",
			Schedule:   "0 2 * * *",
		})
		assertRESTError(t, err, 404)
	})

	t.Run("foreign caller", func(t *testing.T) {
		_, err := svc.Create(context.Background(), Caller{Customer: "OTHER"}, &api.ScheduledJobRequest{
			Name:       "foreign",
			TenantName: "TEN-AWS-1",
			Schedule:   "0 2 * * *",
		})
		assertRESTError(t, err, 403)
	})
}

func TestScheduledJobWithoutScheduler(t *testing.T) {
	f := newJobsFixture(t)
	svc := NewScheduledService(f.service, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.Create(context.Background(), Caller{}, &api.ScheduledJobRequest{
		Name:       "nightly",
		TenantName: "TEN-AWS-1",
		Schedule:   "0 2 * * *",
	})
	assertRESTError(t, err, 501)

	_, err = svc.List(context.Background(), Caller{}, "ACME", "")
	assertRESTError(t, err, 501)
}

func TestScheduledRunSubmitsJob(t *testing.T) {
	f, svc := newScheduledFixture(t)
	f.seedAWSTenant(t, "L1")
	f.seedLicense(t, "L1", "RS-AWS-CORE")
	f.seedLicensedRuleset(t, "RS-AWS-CORE", "ecc-aws-001-x")

	_, err := svc.Create(context.Background(), Caller{}, &api.ScheduledJobRequest{
		Name:       "nightly",
		TenantName: "TEN-AWS-1",
		Schedule:   "0 2 * * *",
	})
	require.NoError(t, err)

	svc.run(context.Background(), "ACME", "nightly")

	ids := f.executor.Submissions()
	require.Len(t, ids, 1)
	submission, ok := f.executor.Submission(ids[0])
	require.True(t, ok)
	assert.Equal(t, "scheduled", submission.Env["JOB_TYPE"])
	assert.Equal(t, "RS-AWS-CORE::L1", submission.Env["RULESETS"])

	doc, err := svc.Get(context.Background(), Caller{}, "ACME", "nightly")
	require.NoError(t, err)
	assert.Equal(t, testTimestamp, doc.LastRun)

	// A second tick while the first run still holds the lock is skipped.
	svc.run(context.Background(), "ACME", "nightly")
	assert.Len(t, f.executor.Submissions(), 1)
}

package jobs

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/api/rest"
	"github.com/cloudcustos/ruleengine/internal/database"
	"github.com/cloudcustos/ruleengine/internal/executor"
	"github.com/cloudcustos/ruleengine/internal/licenses"
	"github.com/cloudcustos/ruleengine/internal/metrics"
	"github.com/cloudcustos/ruleengine/internal/secrets"
)

type permissionCall struct {
	Customer, Tenant, TenantLicenseKey string
}

type fakeLM struct {
	allowed bool
	err     error
	calls   []permissionCall
}

func (f *fakeLM) CheckPermission(ctx context.Context, customer, tenant, tenantLicenseKey string) (bool, error) {
	f.calls = append(f.calls, permissionCall{customer, tenant, tenantLicenseKey})
	return f.allowed, f.err
}

var testTimestamp = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type jobsFixture struct {
	service  *Service
	dbClient *database.Cache
	secrets  *secrets.Memory
	executor *executor.Local
	lm       *fakeLM
}

func newJobsFixture(t *testing.T) *jobsFixture {
	t.Helper()
	f := &jobsFixture{
		dbClient: database.NewCache(),
		secrets:  secrets.NewMemory(),
		executor: executor.NewLocal(),
		lm:       &fakeLM{allowed: true},
	}
	f.service = NewService(f.dbClient, f.secrets, f.executor, f.lm,
		metrics.NoopEmitter{},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config{
			RulesetsBucket:     "rulesets-bucket",
			ReportsBucket:      "reports-bucket",
			AWSRegion:          "eu-central-1",
			JobLifetimeMinutes: 55,
			LogLevel:           "DEBUG",
			MinCoreVersion:     "5.5.0",
			CurrentCoreVersion: "5.7.1",
		})
	f.service.newTimestamp = func() time.Time { return testTimestamp }
	nextID := 0
	f.service.newID = func() string {
		nextID++
		return fmt.Sprintf("job-%d", nextID)
	}
	f.service.resolveAWSAccount = func(ctx context.Context, creds map[string]string) (string, error) {
		return "111111111111", nil
	}
	return f
}

func (f *jobsFixture) seedAWSTenant(t *testing.T, licenseKeys ...string) *database.TenantDocument {
	t.Helper()
	tenant := &database.TenantDocument{
		Name:          "TEN-AWS-1",
		Customer:      "ACME",
		Cloud:         api.CloudAWS,
		Project:       "111111111111",
		ActiveRegions: []string{"us-east-1", "us-west-2"},
		Active:        true,
	}
	for i, key := range licenseKeys {
		metaKey := "AWS"
		if i > 0 {
			metaKey = fmt.Sprintf("AWS_%d", i)
		}
		tenant.Applications = append(tenant.Applications, database.TenantApplication{
			Type:   api.LicensesApplicationType,
			Status: database.ApplicationStatusActive,
			Meta:   map[string]string{metaKey: key},
		})
	}
	require.NoError(t, f.dbClient.SetTenant(context.Background(), tenant))
	return tenant
}

func (f *jobsFixture) seedLicense(t *testing.T, key, rulesetID string) {
	t.Helper()
	require.NoError(t, f.dbClient.SetLicense(context.Background(), &database.LicenseDocument{
		LicenseKey: key,
		Customers: map[string]database.LicenseCustomer{
			"ACME": {TenantLicenseKey: "TLK-" + key},
		},
		RulesetIDs: []string{rulesetID},
		Expiration: testTimestamp.Add(30 * 24 * time.Hour),
	}))
}

func (f *jobsFixture) seedLicensedRuleset(t *testing.T, id string, rules ...string) {
	t.Helper()
	require.NoError(t, f.dbClient.SetRuleset(context.Background(), &database.RulesetDocument{
		ID:       id,
		Customer: api.SystemCustomer,
		Name:     id,
		Cloud:    api.CloudAWS,
		Rules:    rules,
		Licensed: true,
		Versions: []string{"1.0.0"},
	}))
}

func (f *jobsFixture) holder(t *testing.T, tenant string) database.JobLockEntry {
	t.Helper()
	holders, err := database.NewLockClient(f.dbClient).Holders(context.Background(), tenant)
	require.NoError(t, err)
	require.LessOrEqual(t, len(holders), 1)
	if len(holders) == 0 {
		return database.JobLockEntry{}
	}
	return holders[0]
}

func assertRESTError(t *testing.T, err error, statusCode int) *rest.Error {
	t.Helper()
	var restErr *rest.Error
	require.ErrorAs(t, err, &restErr)
	assert.Equal(t, statusCode, restErr.StatusCode)
	return restErr
}

func TestSubmitLicensedJob(t *testing.T) {
	f := newJobsFixture(t)
	f.seedAWSTenant(t, "L1")
	f.seedLicense(t, "L1", "RS-AWS-CORE")
	f.seedLicensedRuleset(t, "RS-AWS-CORE", "ecc-aws-001-x", "ecc-aws-002-y")

	job, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
		TenantName:    "TEN-AWS-1",
		TargetRegions: []string{"us-east-1"},
		RulesToScan:   []string{"001"},
		Credentials: map[string]string{
			"AWS_ACCESS_KEY_ID":     "AKIATEST",
			"AWS_SECRET_ACCESS_KEY": "secret",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, api.JobStatusPending, job.Status)
	assert.Equal(t, []string{"RS-AWS-CORE::L1"}, job.Rulesets)
	assert.Equal(t, []string{"ecc-aws-001-x"}, job.RulesToScan)
	assert.Equal(t, "L1", job.AffectedLicense)
	assert.Equal(t, []string{"us-east-1"}, job.Regions)
	assert.Equal(t, testTimestamp, job.SubmittedAt)
	assert.NotEmpty(t, job.BatchJobID)

	// Credentials are parked under the job key with a TTL.
	stored, err := f.secrets.Get(context.Background(), job.CredentialsKey)
	require.NoError(t, err)
	assert.Equal(t, "AKIATEST", stored["AWS_ACCESS_KEY_ID"])

	// The executor environment carries the full contract.
	submission, ok := f.executor.Submission(job.BatchJobID)
	require.True(t, ok)
	env := submission.Env
	assert.Equal(t, job.ID, env["CUSTODIAN_JOB_ID"])
	assert.Equal(t, "standard", env["JOB_TYPE"])
	assert.Equal(t, "2025-06-01T12:00:00Z", env["SUBMITTED_AT"])
	assert.Equal(t, "SYSTEM", env["SYSTEM_CUSTOMER_NAME"])
	assert.Equal(t, "RS-AWS-CORE::L1", env["RULESETS"])
	assert.Equal(t, "rulesets-bucket", env["RULESETS_BUCKET_NAME"])
	assert.Equal(t, "reports-bucket", env["REPORTS_BUCKET_NAME"])
	assert.Equal(t, "us-east-1", env["TARGET_REGIONS"])
	assert.Equal(t, "TLK-L1", env["AFFECTED_LICENSES"])
	assert.Equal(t, job.CredentialsKey, env["CREDENTIALS_KEY"])
	assert.Equal(t, "55", env["BATCH_JOB_LIFETIME_MINUTES"])
	assert.Equal(t, "5.5.0", env["MIN_CORE_VERSION"])
	assert.Equal(t, "5.7.1", env["CURRENT_CORE_VERSION"])

	// LM was consulted with the tenant license key.
	require.Len(t, f.lm.calls, 1)
	assert.Equal(t, permissionCall{"ACME", "TEN-AWS-1", "TLK-L1"}, f.lm.calls[0])

	// The lock stays held until the job reaches a terminal state.
	assert.Equal(t, job.ID, f.holder(t, "TEN-AWS-1").JobID)
}

func TestSubmitLockConflict(t *testing.T) {
	f := newJobsFixture(t)
	f.seedAWSTenant(t, "L1")
	f.seedLicense(t, "L1", "RS-AWS-CORE")
	f.seedLicensedRuleset(t, "RS-AWS-CORE", "ecc-aws-001-x")

	first, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
		TenantName:    "TEN-AWS-1",
		TargetRegions: []string{"us-east-1"},
	})
	require.NoError(t, err)

	_, err = f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
		TenantName:    "TEN-AWS-1",
		TargetRegions: []string{"us-east-1"},
	})
	restErr := assertRESTError(t, err, 403)
	assert.Contains(t, restErr.Message, first.ID)

	// The blocked submission left the first job and its lock untouched.
	held, err := f.service.Get(context.Background(), Caller{}, first.ID)
	require.NoError(t, err)
	assert.Equal(t, api.JobStatusPending, held.Status)
	assert.Equal(t, first.ID, f.holder(t, "TEN-AWS-1").JobID)
}

func TestSubmitDisjointRegionLocks(t *testing.T) {
	f := newJobsFixture(t)
	f.seedAWSTenant(t, "L1")
	f.seedLicense(t, "L1", "RS-AWS-CORE")
	f.seedLicensedRuleset(t, "RS-AWS-CORE", "ecc-aws-001-x")

	first, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
		TenantName:    "TEN-AWS-1",
		TargetRegions: []string{"us-east-1"},
	})
	require.NoError(t, err)

	// A disjoint scope is admitted alongside the first job.
	second, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
		TenantName:    "TEN-AWS-1",
		TargetRegions: []string{"us-west-2"},
	})
	require.NoError(t, err)

	// The first job's regions stay protected after the second acquisition.
	_, err = f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
		TenantName:    "TEN-AWS-1",
		TargetRegions: []string{"us-east-1"},
	})
	restErr := assertRESTError(t, err, 403)
	assert.Contains(t, restErr.Message, first.ID)

	holders, err := database.NewLockClient(f.dbClient).Holders(context.Background(), "TEN-AWS-1")
	require.NoError(t, err)
	require.Len(t, holders, 2)

	// Releasing the second job must not free the first job's scope.
	_, err = f.service.Terminate(context.Background(), Caller{}, second.ID)
	require.NoError(t, err)
	_, err = f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
		TenantName:    "TEN-AWS-1",
		TargetRegions: []string{"us-east-1"},
	})
	restErr = assertRESTError(t, err, 403)
	assert.Contains(t, restErr.Message, first.ID)
}

func TestSubmitAmbiguousLicenses(t *testing.T) {
	f := newJobsFixture(t)
	f.seedAWSTenant(t, "L1", "L2")
	f.seedLicense(t, "L1", "RS-AWS-CORE")
	f.seedLicense(t, "L2", "RS-AWS-EXTRA")
	f.seedLicensedRuleset(t, "RS-AWS-CORE", "ecc-aws-001-x")
	f.seedLicensedRuleset(t, "RS-AWS-EXTRA", "ecc-aws-002-y")

	_, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
		TenantName: "TEN-AWS-1",
	})
	restErr := assertRESTError(t, err, 409)
	assert.Equal(t, "Ambiguous situation. Multiple licenses: L1, L2. Specify license_key.", restErr.Message)

	// Naming the license resolves the ambiguity.
	job, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
		TenantName: "TEN-AWS-1",
		LicenseKey: "L1",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"RS-AWS-CORE::L1"}, job.Rulesets)
	assert.Equal(t, "L1", job.AffectedLicense)
}

func TestSubmitNamedRulesetAmbiguousLicenses(t *testing.T) {
	f := newJobsFixture(t)
	f.seedAWSTenant(t, "L1", "L2")
	f.seedLicense(t, "L1", "RS-AWS-CORE")
	f.seedLicense(t, "L2", "RS-AWS-CORE")
	f.seedLicensedRuleset(t, "RS-AWS-CORE", "ecc-aws-001-x")

	// Both licenses carry the named ruleset; picking either would make
	// the billed license depend on iteration order.
	_, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
		TenantName: "TEN-AWS-1",
		Rulesets:   []string{"RS-AWS-CORE"},
	})
	restErr := assertRESTError(t, err, 409)
	assert.Equal(t, "Ambiguous situation. Multiple licenses: L1, L2. Specify license_key.", restErr.Message)

	// Naming the license resolves the ambiguity.
	job, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
		TenantName: "TEN-AWS-1",
		Rulesets:   []string{"RS-AWS-CORE"},
		LicenseKey: "L2",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"RS-AWS-CORE::L2"}, job.Rulesets)
	assert.Equal(t, "L2", job.AffectedLicense)
}

func TestSubmitLocalRulesets(t *testing.T) {
	f := newJobsFixture(t)
	f.seedAWSTenant(t)
	require.NoError(t, f.dbClient.SetRuleset(context.Background(), &database.RulesetDocument{
		ID:       database.RulesetID("ACME", "daily", "1.2.0"),
		Customer: "ACME",
		Name:     "daily",
		Version:  "1.2.0",
		Cloud:    api.CloudAWS,
		Rules:    []string{"ecc-aws-001-x"},
	}))

	t.Run("latest version is picked", func(t *testing.T) {
		job, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
			TenantName: "TEN-AWS-1",
			Rulesets:   []string{"daily"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"daily:1.2.0"}, job.Rulesets)
		assert.Empty(t, job.AffectedLicense)

		_, err = f.service.Terminate(context.Background(), Caller{}, job.ID)
		require.NoError(t, err)
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
			TenantName: "TEN-AWS-1",
			Rulesets:   []string{"nightly"},
		})
		assertRESTError(t, err, 404)
	})

	t.Run("cloud mismatch", func(t *testing.T) {
		require.NoError(t, f.dbClient.SetRuleset(context.Background(), &database.RulesetDocument{
			ID:       database.RulesetID("ACME", "azure-baseline", "1.0.0"),
			Customer: "ACME",
			Name:     "azure-baseline",
			Version:  "1.0.0",
			Cloud:    api.CloudAzure,
		}))
		_, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
			TenantName: "TEN-AWS-1",
			Rulesets:   []string{"azure-baseline"},
		})
		assertRESTError(t, err, 400)
	})
}

func TestSubmitTenantChecks(t *testing.T) {
	f := newJobsFixture(t)
	tenant := f.seedAWSTenant(t)

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{TenantName: "nope"})
		assertRESTError(t, err, 404)
	})

	t.Run("inactive tenant", func(t *testing.T) {
		inactive := *tenant
		inactive.Name = "TEN-AWS-OFF"
		inactive.Active = false
		require.NoError(t, f.dbClient.SetTenant(context.Background(), &inactive))
		_, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{TenantName: "TEN-AWS-OFF"})
		assertRESTError(t, err, 404)
	})

	t.Run("caller from another customer", func(t *testing.T) {
		_, err := f.service.Submit(context.Background(), Caller{Customer: "OTHER"}, &api.JobRequest{TenantName: "TEN-AWS-1"})
		assertRESTError(t, err, 403)
	})

	t.Run("caller restricted to other tenants", func(t *testing.T) {
		caller := Caller{Customer: "ACME", AllowedTenants: []string{"TEN-AWS-2"}}
		_, err := f.service.Submit(context.Background(), caller, &api.JobRequest{TenantName: "TEN-AWS-1"})
		assertRESTError(t, err, 403)
	})
}

func TestSubmitCredentialVerification(t *testing.T) {
	creds := map[string]string{
		"AWS_ACCESS_KEY_ID":     "AKIATEST",
		"AWS_SECRET_ACCESS_KEY": "secret",
	}

	t.Run("account mismatch", func(t *testing.T) {
		f := newJobsFixture(t)
		f.seedAWSTenant(t, "L1")
		f.seedLicense(t, "L1", "RS-AWS-CORE")
		f.seedLicensedRuleset(t, "RS-AWS-CORE", "ecc-aws-001-x")
		f.service.resolveAWSAccount = func(ctx context.Context, creds map[string]string) (string, error) {
			return "999999999999", nil
		}

		_, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
			TenantName:  "TEN-AWS-1",
			Credentials: creds,
		})
		assertRESTError(t, err, 403)
		// Nothing leaked into the secret store and the lock is free again.
		assert.Empty(t, f.holder(t, "TEN-AWS-1").JobID)
	})

	t.Run("rejected by sts", func(t *testing.T) {
		f := newJobsFixture(t)
		f.seedAWSTenant(t, "L1")
		f.service.resolveAWSAccount = func(ctx context.Context, creds map[string]string) (string, error) {
			return "", errors.New("InvalidClientTokenId")
		}

		_, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
			TenantName:  "TEN-AWS-1",
			Credentials: creds,
		})
		assertRESTError(t, err, 400)
	})
}

func TestSubmitPermissionGate(t *testing.T) {
	t.Run("denied", func(t *testing.T) {
		f := newJobsFixture(t)
		f.seedAWSTenant(t, "L1")
		f.seedLicense(t, "L1", "RS-AWS-CORE")
		f.seedLicensedRuleset(t, "RS-AWS-CORE", "ecc-aws-001-x")
		f.lm.allowed = false

		_, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{TenantName: "TEN-AWS-1"})
		assertRESTError(t, err, 403)
		assert.Empty(t, f.holder(t, "TEN-AWS-1").JobID)
	})

	t.Run("license manager down", func(t *testing.T) {
		f := newJobsFixture(t)
		f.seedAWSTenant(t, "L1")
		f.seedLicense(t, "L1", "RS-AWS-CORE")
		f.seedLicensedRuleset(t, "RS-AWS-CORE", "ecc-aws-001-x")
		f.lm.err = licenses.ErrUnavailable

		_, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{TenantName: "TEN-AWS-1"})
		assertRESTError(t, err, 503)
	})
}

func TestSubmitUnresolvedRuleToScan(t *testing.T) {
	f := newJobsFixture(t)
	f.seedAWSTenant(t, "L1")
	f.seedLicense(t, "L1", "RS-AWS-CORE")
	f.seedLicensedRuleset(t, "RS-AWS-CORE", "ecc-aws-001-x")

	_, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{
		TenantName:  "TEN-AWS-1",
		RulesToScan: []string{"ecc-aws-090-z"},
	})
	restErr := assertRESTError(t, err, 400)
	assert.Contains(t, restErr.Message, "ecc-aws-090-z")
	assert.Contains(t, restErr.Message, "did you mean")
}

func TestResolveRegions(t *testing.T) {
	awsTenant := &database.TenantDocument{
		Cloud:         api.CloudAWS,
		ActiveRegions: []string{"us-east-1", "us-west-2"},
	}

	testCases := []struct {
		name      string
		tenant    *database.TenantDocument
		requested []string
		expected  []string
		errStatus int
	}{
		{
			name:     "azure scans global scope",
			tenant:   &database.TenantDocument{Cloud: api.CloudAzure},
			expected: []string{"global"},
		},
		{
			name:      "gcp ignores requested regions",
			tenant:    &database.TenantDocument{Cloud: api.CloudGoogle},
			requested: []string{"europe-west1"},
			expected:  []string{"global"},
		},
		{
			name:     "aws defaults to all active regions",
			tenant:   awsTenant,
			expected: []string{"us-east-1", "us-west-2"},
		},
		{
			name:      "aws honors a subset",
			tenant:    awsTenant,
			requested: []string{"us-west-2"},
			expected:  []string{"us-west-2"},
		},
		{
			name:      "aws rejects inactive regions",
			tenant:    awsTenant,
			requested: []string{"us-east-1", "eu-north-1"},
			errStatus: 400,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			regions, err := ResolveRegions(tc.tenant, tc.requested)
			if tc.errStatus != 0 {
				assertRESTError(t, err, tc.errStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, regions)
		})
	}
}

func TestTerminate(t *testing.T) {
	f := newJobsFixture(t)
	f.seedAWSTenant(t, "L1")
	f.seedLicense(t, "L1", "RS-AWS-CORE")
	f.seedLicensedRuleset(t, "RS-AWS-CORE", "ecc-aws-001-x")

	job, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{TenantName: "TEN-AWS-1"})
	require.NoError(t, err)

	stopped, err := f.service.Terminate(context.Background(), Caller{}, job.ID)
	require.NoError(t, err)
	assert.Equal(t, api.JobStatusFailed, stopped.Status)
	assert.Equal(t, terminatedByUserReason, stopped.Reason)
	assert.Equal(t, testTimestamp, stopped.StoppedAt)

	// Lock is freed and the executor saw the termination.
	assert.Empty(t, f.holder(t, "TEN-AWS-1").JobID)
	statuses, err := f.executor.Describe(context.Background(), []string{job.BatchJobID})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, api.JobStatusFailed, statuses[0].Status)

	t.Run("already terminal", func(t *testing.T) {
		_, err := f.service.Terminate(context.Background(), Caller{}, job.ID)
		assertRESTError(t, err, 400)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := f.service.Terminate(context.Background(), Caller{}, "missing")
		assertRESTError(t, err, 404)
	})

	t.Run("foreign caller", func(t *testing.T) {
		_, err := f.service.Terminate(context.Background(), Caller{Customer: "OTHER"}, job.ID)
		assertRESTError(t, err, 403)
	})
}

func TestGetHidesForeignJobs(t *testing.T) {
	f := newJobsFixture(t)
	f.seedAWSTenant(t, "L1")
	f.seedLicense(t, "L1", "RS-AWS-CORE")
	f.seedLicensedRuleset(t, "RS-AWS-CORE", "ecc-aws-001-x")

	job, err := f.service.Submit(context.Background(), Caller{}, &api.JobRequest{TenantName: "TEN-AWS-1"})
	require.NoError(t, err)

	got, err := f.service.Get(context.Background(), Caller{Customer: "ACME"}, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = f.service.Get(context.Background(), Caller{Customer: "OTHER"}, job.ID)
	assertRESTError(t, err, 404)
}

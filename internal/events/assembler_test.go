package events

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
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
	"github.com/cloudcustos/ruleengine/internal/metrics"
	"github.com/cloudcustos/ruleengine/internal/rules"
)

type fakeMappings struct {
	mapping rules.EventMapping
	calls   []string
}

func (f *fakeMappings) Get(ctx context.Context, licenseKey, version string, cloud api.Cloud) (rules.EventMapping, error) {
	f.calls = append(f.calls, licenseKey+"/"+version+"/"+string(cloud))
	return f.mapping, nil
}

type assemblerFixture struct {
	assembler *Assembler
	dbClient  *database.Cache
	executor  *executor.Local
	mappings  *fakeMappings
}

func newAssemblerFixture(t *testing.T) *assemblerFixture {
	t.Helper()
	f := &assemblerFixture{
		dbClient: database.NewCache(),
		executor: executor.NewLocal(),
		mappings: &fakeMappings{mapping: rules.EventMapping{
			"s3.amazonaws.com": {"DeleteBucket": []string{"ecc-aws-100-s3-delete"}},
		}},
	}
	f.assembler = NewAssembler(f.dbClient, f.mappings, f.executor, metrics.NoopEmitter{},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config{
			Partitions:        2,
			PageSize:          100,
			DeploymentAccount: "000000000000",
			RulesetsBucket:    "rulesets-bucket",
			ReportsBucket:     "reports-bucket",
			AWSRegion:         "eu-central-1",
		})
	nextID := 0
	f.assembler.newID = func() string {
		nextID++
		return "br-1"
	}
	return f
}

func (f *assemblerFixture) seedEventDrivenTenant(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.dbClient.SetTenant(ctx, &database.TenantDocument{
		Name:     "T1",
		Customer: "ACME",
		Cloud:    api.CloudAWS,
		Project:  "A1",
		Active:   true,
		Applications: []database.TenantApplication{{
			Type:   api.LicensesApplicationType,
			Status: database.ApplicationStatusActive,
			Meta:   map[string]string{"AWS": "L1"},
		}},
	}))
	require.NoError(t, f.dbClient.SetLicense(ctx, &database.LicenseDocument{
		LicenseKey: "L1",
		Customers: map[string]database.LicenseCustomer{
			"ACME": {TenantLicenseKey: "TLK-L1"},
		},
		RulesetIDs:  []string{"RS-AWS-ED"},
		EventDriven: database.LicenseEventDriven{Active: true},
		Expiration:  time.Now().Add(365 * 24 * time.Hour),
	}))
	require.NoError(t, f.dbClient.SetRuleset(ctx, &database.RulesetDocument{
		ID:          "RS-AWS-ED",
		Customer:    api.SystemCustomer,
		Name:        "event-driven-aws",
		Version:     "1.0.0",
		Cloud:       api.CloudAWS,
		Rules:       []string{"ecc-aws-100-s3-delete"},
		Licensed:    true,
		EventDriven: true,
	}))
}

func cloudTrailEvent(account, region string) map[string]any {
	return map[string]any{
		"detail-type": cloudTrailDetailType,
		"detail": map[string]any{
			"eventSource": "s3.amazonaws.com",
			"eventName":   "DeleteBucket",
			"accountId":   account,
			"awsRegion":   region,
		},
	}
}

func (f *assemblerFixture) putEvent(t *testing.T, partition int, ts float64, events ...map[string]any) {
	t.Helper()
	require.NoError(t, f.dbClient.PutEvents(context.Background(), &database.EventDocument{
		Partition: partition,
		Timestamp: ts,
		Vendor:    api.EventVendorAWS,
		Events:    events,
	}))
}

func TestAssembleMinimalPath(t *testing.T) {
	f := newAssemblerFixture(t)
	f.seedEventDrivenTenant(t)
	f.putEvent(t, 0, 10, cloudTrailEvent("A1", "us-east-1"))
	f.putEvent(t, 1, 12, cloudTrailEvent("A1", "us-east-1"))
	f.putEvent(t, 0, 15, cloudTrailEvent("A1", "us-east-1"))

	report, err := f.assembler.Assemble(context.Background())
	require.NoError(t, err)

	assert.Equal(t, float64(0), report.Cursor)
	assert.Equal(t, float64(15), report.NewCursor)
	require.Equal(t, []string{"br-1"}, report.BatchResultIDs)
	require.NotEmpty(t, report.JobID)

	// Cursor persisted before processing.
	cursor, err := readCursor(context.Background(), f.dbClient)
	require.NoError(t, err)
	assert.Equal(t, float64(15), cursor)

	doc, err := f.dbClient.GetBatchResults(context.Background(), "br-1")
	require.NoError(t, err)
	assert.Equal(t, "T1", doc.TenantName)
	assert.Equal(t, "ACME", doc.Customer)
	assert.Equal(t, "A1", doc.CloudIdentifier)
	assert.Equal(t, map[string][]string{"us-east-1": {"ecc-aws-100-s3-delete"}}, doc.Rules)
	assert.Equal(t, float64(0), doc.RegistrationStart)
	assert.Equal(t, float64(15), doc.RegistrationEnd)
	assert.Equal(t, report.JobID, doc.JobID)

	ids := f.executor.Submissions()
	require.Len(t, ids, 1)
	submission, ok := f.executor.Submission(ids[0])
	require.True(t, ok)
	assert.Equal(t, "br-1", submission.Env["BATCH_RESULTS_IDS"])
	assert.Equal(t, "event-driven-multi-account", submission.Env["JOB_TYPE"])

	// Mapping resolved for the license and the published version.
	assert.Equal(t, []string{"L1/1.0.0/AWS"}, f.mappings.calls)
}

func TestAssembleNoEvents(t *testing.T) {
	f := newAssemblerFixture(t)

	_, err := f.assembler.Assemble(context.Background())
	var restErr *rest.Error
	require.ErrorAs(t, err, &restErr)
	assert.Equal(t, 404, restErr.StatusCode)
}

func TestAssembleSkipsUnlicensedTenants(t *testing.T) {
	f := newAssemblerFixture(t)
	// Tenant without any license application.
	require.NoError(t, f.dbClient.SetTenant(context.Background(), &database.TenantDocument{
		Name:     "T2",
		Customer: "ACME",
		Cloud:    api.CloudAWS,
		Project:  "A2",
		Active:   true,
	}))
	f.putEvent(t, 0, 20, cloudTrailEvent("A2", "us-east-1"))

	report, err := f.assembler.Assemble(context.Background())
	require.NoError(t, err)

	// The cursor still advances; nothing is dispatched.
	assert.Equal(t, float64(20), report.NewCursor)
	assert.Empty(t, report.BatchResultIDs)
	assert.Empty(t, f.executor.Submissions())
}

func TestAssembleFiltersSelfAndForeignEvents(t *testing.T) {
	f := newAssemblerFixture(t)
	f.seedEventDrivenTenant(t)
	f.putEvent(t, 0, 5,
		cloudTrailEvent("000000000000", "us-east-1"), // our own account
		map[string]any{"detail-type": "Scheduled Event"},
		cloudTrailEvent("A1", "us-east-1"))

	report, err := f.assembler.Assemble(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Events)
	require.Len(t, report.BatchResultIDs, 1)
}

func TestCompressRegions(t *testing.T) {
	t.Run("shared rule across regions collapses", func(t *testing.T) {
		compressed := compressRegions(map[string][]string{
			"us-east-1": {"rule-a", "rule-b"},
			"us-west-2": {"rule-a", "rule-b"},
			"eu-west-1": {"rule-a", "rule-b"},
		})
		assert.Equal(t, map[string][]string{
			"eu-west-1,us-east-1,us-west-2": {"rule-a", "rule-b"},
		}, compressed)
	})

	t.Run("heterogeneous map stays as is", func(t *testing.T) {
		original := map[string][]string{
			"us-east-1": {"rule-a"},
			"us-west-2": {"rule-b"},
		}
		assert.Equal(t, original, compressRegions(original))
	})
}

func TestMergeStreams(t *testing.T) {
	doc := func(partition int, ts float64) *database.EventDocument {
		return &database.EventDocument{Partition: partition, Timestamp: ts}
	}
	merged := mergeStreams([][]*database.EventDocument{
		{doc(0, 1), doc(0, 4), doc(0, 9)},
		{doc(1, 2), doc(1, 3)},
		nil,
	})
	timestamps := make([]float64, 0, len(merged))
	for _, d := range merged {
		timestamps = append(timestamps, d.Timestamp)
	}
	assert.Equal(t, []float64{1, 2, 3, 4, 9}, timestamps)
}

func TestProcessMaestro(t *testing.T) {
	raw := []map[string]any{
		{
			"group":       maestroGroupManagement,
			"subGroup":    maestroSubGroupInstance,
			"eventAction": "CREATE",
			"tenantName":  "T-AZ",
			"request":     map[string]any{"cloud": "AZURE"},
		},
		{
			// AWS requests never come through MAESTRO processing.
			"group":       maestroGroupManagement,
			"subGroup":    maestroSubGroupInstance,
			"eventAction": "CREATE",
			"tenantName":  "T-AWS",
			"request":     map[string]any{"cloud": "AWS"},
		},
		{
			"group":       "BILLING",
			"subGroup":    maestroSubGroupInstance,
			"eventAction": "CREATE",
			"tenantName":  "T-AZ",
			"request":     map[string]any{"cloud": "AZURE"},
		},
	}

	events := processMaestro(raw)
	require.Len(t, events, 1)
	assert.Equal(t, api.CloudAzure, events[0].Cloud)
	assert.Equal(t, "T-AZ", events[0].TenantName)
	assert.Equal(t, maestroInstanceSource, events[0].Source)
	assert.Equal(t, "CreateInstance", events[0].Name)
	assert.Equal(t, api.GlobalRegion, events[0].Region)
}

func TestDedupe(t *testing.T) {
	a := normalizedEvent{Source: "s3.amazonaws.com", Name: "DeleteBucket", AccountID: "A1", Region: "us-east-1"}
	b := a
	c := a
	c.Region = "us-west-2"

	deduped := dedupe([]normalizedEvent{a, b, c})
	assert.Equal(t, []normalizedEvent{a, c}, deduped)
}

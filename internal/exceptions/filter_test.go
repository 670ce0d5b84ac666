package exceptions

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudcustos/ruleengine/internal/database"
	"github.com/cloudcustos/ruleengine/internal/sharding"
)

func TestFilterSuppressesMatchedResources(t *testing.T) {
	findings := sharding.NewCollection(sharding.SingleDistributor{})
	findings.PutPart(sharding.Part{
		Policy:    "ecc-aws-001-x",
		Location:  "us-east-1",
		Timestamp: 10,
		Resources: []map[string]any{
			{"id": "i-allowed", "arn": "arn:aws:ec2:::i-allowed"},
			{"id": "i-suppressed", "arn": "arn:aws:ec2:::i-suppressed"},
			{"id": "i-tagged", "Tags": []any{map[string]any{"Key": "env", "Value": "dev"}}},
		},
	})
	findings.Meta["ecc-aws-001-x"] = sharding.PolicyMeta{Resource: "ec2"}

	exc := NewCollection([]*database.ExceptionDocument{
		{ID: "exc-1", ARN: "arn:aws:ec2:::i-suppressed", ExpireAt: time.Now().Add(time.Hour)},
		{ID: "exc-2", TagsFilters: []string{"env=dev"}, ExpireAt: time.Now().Add(time.Hour)},
	}, time.Now())

	rulesByName := map[string]*database.RuleDocument{
		"ecc-aws-001-x": {
			Name:         "ecc-aws-001-x",
			Resource:     "ec2",
			Severity:     "High",
			MitreTactics: []string{"TA0005"},
		},
	}

	summaries, filtered := Filter(findings, exc, rulesByName)

	require.Len(t, summaries, 2)
	assert.Equal(t, "exc-1", summaries[0].ExceptionID)
	assert.Equal(t, 1, summaries[0].Resources)
	assert.Equal(t, map[string]int{"High": 1}, summaries[0].BySeverity)
	assert.Equal(t, map[string]int{"ecc-aws-001-x": 1}, summaries[0].ByViolation)
	assert.Equal(t, map[string]int{"TA0005": 1}, summaries[0].ByMitre)
	assert.Equal(t, "exc-2", summaries[1].ExceptionID)

	part, ok := filtered.Get("ecc-aws-001-x", "us-east-1")
	require.True(t, ok)
	require.Len(t, part.Resources, 1)
	assert.Equal(t, "i-allowed", part.Resources[0]["id"])
	assert.Equal(t, sharding.PolicyMeta{Resource: "ec2"}, filtered.Meta["ecc-aws-001-x"])
}

func TestFilterPropagatesErrorParts(t *testing.T) {
	findings := sharding.NewCollection(sharding.SingleDistributor{})
	findings.PutPart(sharding.Part{
		Policy:    "ecc-aws-002-y",
		Location:  "us-east-1",
		Timestamp: 10,
		Error:     "ACCESS:assume role denied",
		Resources: []map[string]any{{"arn": "arn:aws:ec2:::i-suppressed"}},
	})

	exc := NewCollection([]*database.ExceptionDocument{
		{ID: "exc-1", ARN: "arn:aws:ec2:::i-suppressed", ExpireAt: time.Now().Add(time.Hour)},
	}, time.Now())

	summaries, filtered := Filter(findings, exc, nil)

	assert.Empty(t, summaries)
	part, ok := filtered.Get("ecc-aws-002-y", "us-east-1")
	require.True(t, ok)
	assert.Equal(t, "ACCESS:assume role denied", part.Error)
	// Stale resources of an error part are never filtered.
	assert.Len(t, part.Resources, 1)
}

func TestFilterWithoutExceptionsIsIdentity(t *testing.T) {
	findings := sharding.NewCollection(sharding.SingleDistributor{})
	findings.PutPart(sharding.Part{
		Policy:    "ecc-aws-001-x",
		Location:  "us-east-1",
		Timestamp: 10,
		Resources: []map[string]any{{"id": "i-1"}},
	})

	summaries, filtered := Filter(findings, NewCollection(nil, time.Now()), nil)
	assert.Empty(t, summaries)
	assert.Equal(t, findings.Len(), filtered.Len())
}

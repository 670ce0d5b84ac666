package rules

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/blob"
	"github.com/cloudcustos/ruleengine/internal/database"
)

func TestCollectEventMappings(t *testing.T) {
	rules := []*database.RuleDocument{
		{
			Name:  "ecc-aws-100-s3-delete",
			Cloud: api.CloudAWS,
			Events: database.RuleEvents{
				"s3.amazonaws.com": {"DeleteBucket", "DeleteBucketPolicy"},
			},
		},
		{
			Name:  "ecc-aws-101-s3-acl",
			Cloud: api.CloudAWS,
			Events: database.RuleEvents{
				"s3.amazonaws.com": {"DeleteBucket"},
			},
		},
		{
			Name:  "ecc-azure-001-vm",
			Cloud: api.CloudAzure,
			Events: database.RuleEvents{
				"Microsoft.Compute": {"virtualMachines/write"},
			},
		},
		{
			// No events, contributes nothing.
			Name:  "ecc-aws-200-quiet",
			Cloud: api.CloudAWS,
		},
	}

	mappings := CollectEventMappings(rules)

	aws := mappings[api.CloudAWS]
	require.NotNil(t, aws)
	assert.Equal(t, []string{"ecc-aws-100-s3-delete", "ecc-aws-101-s3-acl"},
		aws.RuleNames("s3.amazonaws.com", "DeleteBucket"))
	assert.Equal(t, []string{"ecc-aws-100-s3-delete"},
		aws.RuleNames("s3.amazonaws.com", "DeleteBucketPolicy"))

	azure := mappings[api.CloudAzure]
	require.NotNil(t, azure)
	assert.Equal(t, []string{"ecc-azure-001-vm"},
		azure.RuleNames("Microsoft.Compute", "virtualMachines/write"))

	assert.Empty(t, aws.RuleNames("unknown", "Event"))
}

func TestPublishAndProvideEventMappings(t *testing.T) {
	store := blob.NewMemory()
	ctx := t.Context()

	mappings := CollectEventMappings([]*database.RuleDocument{
		{
			Name:  "ecc-aws-100-s3-delete",
			Cloud: api.CloudAWS,
			Events: database.RuleEvents{
				"s3.amazonaws.com": {"DeleteBucket"},
			},
		},
	})
	require.NoError(t, PublishEventMappings(ctx, store, "rulesets", "L1", "1.0.0", mappings))

	// Every cloud file exists, including the empty ones.
	keys, err := store.ListKeys(ctx, "rulesets", "mappings/L1/1.0.0/events/")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	provider := NewS3EventMappingProvider(store, "rulesets", time.Minute)

	mapping, err := provider.Get(ctx, "L1", "1.0.0", api.CloudAWS)
	require.NoError(t, err)
	assert.Equal(t, []string{"ecc-aws-100-s3-delete"},
		mapping.RuleNames("s3.amazonaws.com", "DeleteBucket"))

	empty, err := provider.Get(ctx, "L1", "1.0.0", api.CloudAzure)
	require.NoError(t, err)
	assert.Empty(t, empty.RuleNames("Microsoft.Compute", "anything"))

	// Memoized: serve from cache even after the blob disappears.
	require.NoError(t, store.DeleteObject(ctx, "rulesets", "mappings/L1/1.0.0/events/aws.json.gz"))
	mapping, err = provider.Get(ctx, "L1", "1.0.0", api.CloudAWS)
	require.NoError(t, err)
	assert.NotEmpty(t, mapping.RuleNames("s3.amazonaws.com", "DeleteBucket"))

	// Invalidate drops the memo and the miss surfaces.
	provider.Invalidate()
	_, err = provider.Get(ctx, "L1", "1.0.0", api.CloudAWS)
	assert.Error(t, err)

	_, err = provider.Get(ctx, "L1", "1.0.0", api.CloudKubernetes)
	assert.Error(t, err)
}

func TestCommentIndexFilters(t *testing.T) {
	meta := MappingMeta{
		Platforms:       []string{"AWS", "Azure"},
		Categories:      []string{"FinOps", "Security"},
		ServiceSections: []string{"Storage", "Compute"},
		Sources:         []string{"CIS", "EPAM"},
	}

	// 1.2.1.2 = AWS / Security / Storage / EPAM
	comment := "1.2.1.2"

	tests := []struct {
		name   string
		filter MappingFilter
		want   bool
	}{
		{"empty filter matches", MappingFilter{}, true},
		{"single dimension match", MappingFilter{Platforms: []string{"aws"}}, true},
		{"all dimensions match", MappingFilter{
			Platforms:       []string{"AWS"},
			Categories:      []string{"Security"},
			ServiceSections: []string{"Storage"},
			Sources:         []string{"EPAM"},
		}, true},
		{"one dimension misses", MappingFilter{
			Platforms:  []string{"AWS"},
			Categories: []string{"FinOps"},
		}, false},
		{"source mismatch", MappingFilter{Sources: []string{"CIS"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(meta, comment))
		})
	}

	t.Run("malformed comment resolves nothing", func(t *testing.T) {
		filter := MappingFilter{Platforms: []string{"AWS"}}
		assert.False(t, filter.Matches(meta, "not-an-index"))
		assert.True(t, MappingFilter{}.Matches(meta, "not-an-index"))
	})

	t.Run("short comment leaves trailing dimensions unset", func(t *testing.T) {
		index := ParseCommentIndex("2.1")
		assert.Equal(t, "Azure", meta.Platform(index))
		assert.Equal(t, "FinOps", meta.Category(index))
		assert.Equal(t, "", meta.ServiceSection(index))
	})
}

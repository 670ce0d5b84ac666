package exceptions

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudcustos/ruleengine/internal/database"
)

var collectionNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func validUntil(d time.Duration) time.Time {
	return collectionNow.Add(d)
}

func TestCollectionMatchModes(t *testing.T) {
	col := NewCollection([]*database.ExceptionDocument{
		{
			ID:       "exc-arn",
			ARN:      "arn:aws:s3:::audit-bucket",
			ExpireAt: validUntil(time.Hour),
		},
		{
			ID:           "exc-triple",
			ResourceID:   "i-12345",
			ResourceType: "ec2",
			Location:     "us-east-1",
			ExpireAt:     validUntil(time.Hour),
		},
		{
			ID:          "exc-tags",
			TagsFilters: []string{"env=dev", "team=platform"},
			ExpireAt:    validUntil(time.Hour),
		},
	}, collectionNow)

	testCases := []struct {
		name     string
		resource Resource
		expected string
		matched  bool
	}{
		{
			name:     "by arn",
			resource: Resource{ARN: "arn:aws:s3:::audit-bucket"},
			expected: "exc-arn",
			matched:  true,
		},
		{
			name:     "by triple",
			resource: Resource{ID: "i-12345", Type: "ec2", Location: "us-east-1"},
			expected: "exc-triple",
			matched:  true,
		},
		{
			name:     "triple location mismatch",
			resource: Resource{ID: "i-12345", Type: "ec2", Location: "us-west-2"},
		},
		{
			name: "by tags with extra tags on the resource",
			resource: Resource{Tags: map[string]string{
				"env":   "dev",
				"team":  "platform",
				"owner": "alice",
			}},
			expected: "exc-tags",
			matched:  true,
		},
		{
			name:     "partial tag path does not match",
			resource: Resource{Tags: map[string]string{"env": "dev"}},
		},
		{
			name:     "no identification at all",
			resource: Resource{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, ok := col.Match(tc.resource)
			assert.Equal(t, tc.matched, ok)
			assert.Equal(t, tc.expected, id)
		})
	}
}

func TestCollectionArnWinsOverTags(t *testing.T) {
	col := NewCollection([]*database.ExceptionDocument{
		{ID: "exc-arn", ARN: "arn:aws:s3:::b", ExpireAt: validUntil(time.Hour)},
		{ID: "exc-tags", TagsFilters: []string{"env=dev"}, ExpireAt: validUntil(time.Hour)},
	}, collectionNow)

	id, ok := col.Match(Resource{
		ARN:  "arn:aws:s3:::b",
		Tags: map[string]string{"env": "dev"},
	})
	require.True(t, ok)
	assert.Equal(t, "exc-arn", id)
}

func TestCollectionSkipsExpired(t *testing.T) {
	col := NewCollection([]*database.ExceptionDocument{
		{ID: "exc-old", ARN: "arn:aws:s3:::b", ExpireAt: validUntil(-time.Hour)},
	}, collectionNow)

	assert.True(t, col.Empty())
	_, ok := col.Match(Resource{ARN: "arn:aws:s3:::b"})
	assert.False(t, ok)
}

func TestCollectionNestedTagPaths(t *testing.T) {
	// Two filters sharing a prefix live on the same branch.
	col := NewCollection([]*database.ExceptionDocument{
		{ID: "exc-narrow", TagsFilters: []string{"env=dev", "team=platform"}, ExpireAt: validUntil(time.Hour)},
		{ID: "exc-wide", TagsFilters: []string{"env=dev"}, ExpireAt: validUntil(time.Hour)},
	}, collectionNow)

	id, ok := col.Match(Resource{Tags: map[string]string{"env": "dev"}})
	require.True(t, ok)
	assert.Equal(t, "exc-wide", id)

	id, ok = col.Match(Resource{Tags: map[string]string{"env": "dev", "team": "platform"}})
	require.True(t, ok)
	// The shorter path terminates first during the walk.
	assert.Equal(t, "exc-wide", id)
}

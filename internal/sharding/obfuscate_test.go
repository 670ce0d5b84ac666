package sharding

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudcustos/ruleengine/internal/blob"
)

func TestUUIDObfuscatorReplacesStringLeaves(t *testing.T) {
	store := blob.NewMemory()
	obfuscator := NewUUIDObfuscator(store, "reports", time.Hour)
	ctx := t.Context()

	collection := NewCollection(SingleDistributor{})
	collection.PutPart(Part{
		Policy:    "ecc-aws-001-x",
		Location:  "us-east-1",
		Timestamp: 10,
		Resources: []map[string]any{
			{
				"id":   "bucket-a",
				"arn":  "arn:aws:s3:::bucket-a",
				"size": float64(12),
				"tags": []any{map[string]any{"Key": "owner", "Value": "bucket-a"}},
			},
		},
	})

	url, err := obfuscator.Obfuscate(ctx, collection)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "memory://reports/on-demand/dictionaries/"))

	part, ok := collection.Get("ecc-aws-001-x", "us-east-1")
	require.True(t, ok)
	resource := part.Resources[0]

	// Every string leaf is now an alias, non-strings are untouched.
	_, err = uuid.Parse(resource["id"].(string))
	assert.NoError(t, err)
	assert.NotEqual(t, "arn:aws:s3:::bucket-a", resource["arn"])
	assert.Equal(t, float64(12), resource["size"])

	// The repeated value "bucket-a" maps to one alias everywhere.
	tag := resource["tags"].([]any)[0].(map[string]any)
	assert.Equal(t, resource["id"], tag["Value"])

	// The sidecar dictionary restores the originals.
	key := strings.TrimPrefix(url, "memory://reports/")
	var dictionary map[string]string
	require.NoError(t, store.GetGzipJSON(ctx, "reports", key, &dictionary))
	assert.Equal(t, "bucket-a", dictionary[resource["id"].(string)])
	assert.Equal(t, "arn:aws:s3:::bucket-a", dictionary[resource["arn"].(string)])
}

func TestUUIDObfuscatorEmptyCollection(t *testing.T) {
	store := blob.NewMemory()
	obfuscator := NewUUIDObfuscator(store, "reports", time.Hour)

	url, err := obfuscator.Obfuscate(t.Context(), NewCollection(SingleDistributor{}))
	require.NoError(t, err)
	assert.Empty(t, url)

	keys, err := store.ListKeys(t.Context(), "reports", "on-demand")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

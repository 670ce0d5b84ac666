package sharding

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudcustos/ruleengine/internal/blob"
)

func TestIORoundTrip(t *testing.T) {
	store := blob.NewMemory()
	io := NewIO(store, "reports")
	ctx := t.Context()

	d := NewAWSRegionDistributor(2)
	written := NewCollection(d)
	written.PutPart(Part{
		Policy:    "ecc-aws-001-x",
		Location:  "us-east-1",
		Timestamp: 10,
		Resources: []map[string]any{{"id": "a"}},
	})
	written.PutPart(Part{
		Policy:    "ecc-aws-001-x",
		Location:  "global",
		Timestamp: 10,
		Error:     "SKIPPED:region disabled",
	})
	written.Meta["ecc-aws-001-x"] = PolicyMeta{
		Description: "S3 buckets must block public access",
		Resource:    "aws.s3",
	}

	prefix := "C1/AWS/T1/job-1"
	require.NoError(t, io.Write(ctx, prefix, written))

	keys, err := store.ListKeys(ctx, "reports", prefix)
	require.NoError(t, err)
	assert.Equal(t, []string{
		prefix + "/0.json",
		prefix + "/1.json",
		prefix + "/meta.json",
	}, keys)

	read, err := io.Read(ctx, prefix, d)
	require.NoError(t, err)
	assert.Equal(t, written.Len(), read.Len())
	assert.Equal(t, written.Meta, read.Meta)

	for _, part := range []struct{ policy, location string }{
		{"ecc-aws-001-x", "us-east-1"},
		{"ecc-aws-001-x", "global"},
	} {
		want, _ := written.Get(part.policy, part.location)
		got, ok := read.Get(part.policy, part.location)
		require.True(t, ok)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("part mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestIOReadForLocations(t *testing.T) {
	store := blob.NewMemory()
	io := NewIO(store, "reports")
	ctx := t.Context()

	d := NewAWSRegionDistributor(2)
	written := NewCollection(d)
	written.PutPart(Part{Policy: "p", Location: "us-east-1", Timestamp: 1})
	written.PutPart(Part{Policy: "p", Location: "us-east-2", Timestamp: 1})
	require.NoError(t, io.Write(ctx, "prefix", written))

	// us-east-1 and us-east-2 hash into different shards; fetching for
	// one region must not load the other shard.
	read, err := io.ReadForLocations(ctx, "prefix", d, []string{"us-east-1"})
	require.NoError(t, err)

	_, ok := read.Get("p", "us-east-1")
	assert.True(t, ok)
	_, ok = read.Get("p", "us-east-2")
	assert.False(t, ok)
}

func TestIOReadMissingPrefix(t *testing.T) {
	store := blob.NewMemory()
	io := NewIO(store, "reports")
	ctx := t.Context()

	read, err := io.Read(ctx, "nowhere", SingleDistributor{})
	require.NoError(t, err)
	assert.Equal(t, 0, read.Len())

	exists, err := io.Exists(ctx, "nowhere")
	require.NoError(t, err)
	assert.False(t, exists)
}

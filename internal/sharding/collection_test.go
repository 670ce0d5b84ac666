package sharding

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAWSRegionDistributor(t *testing.T) {
	d := NewAWSRegionDistributor(2)

	assert.Equal(t, 0, d.Distribute("global"))
	assert.Equal(t, 1, d.Distribute("us-east-1"))
	assert.Equal(t, 0, d.Distribute("us-east-2"))
	// Unknown regions all land in one bucket.
	assert.Equal(t, d.Distribute("mars-north-1"), d.Distribute("atlantis-1"))

	for _, region := range awsRegions {
		idx := d.Distribute(region)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, d.N())
	}

	assert.Panics(t, func() { NewAWSRegionDistributor(0) })
}

func TestDistributorFor(t *testing.T) {
	assert.Equal(t, 2, DistributorFor("AWS").N())
	assert.Equal(t, 1, DistributorFor("AZURE").N())
	assert.Equal(t, 1, DistributorFor("GOOGLE").N())
	assert.Equal(t, 1, DistributorFor("KUBERNETES").N())
}

// Parts routed through a distributor land in the shard the distributor
// names for their location, and only there.
func TestCollectionRouting(t *testing.T) {
	d := NewAWSRegionDistributor(2)
	c := NewCollection(d)

	regions := []string{"global", "us-east-1", "eu-west-1", "ap-south-1"}
	for _, region := range regions {
		c.PutPart(Part{Policy: "ecc-aws-001-x", Location: region, Timestamp: 1})
	}

	for _, region := range regions {
		shard := c.shard(d.Distribute(region))
		_, ok := shard.Get("ecc-aws-001-x", region)
		assert.True(t, ok, region)

		other := c.shard(1 - d.Distribute(region))
		_, ok = other.Get("ecc-aws-001-x", region)
		assert.False(t, ok, region)
	}
}

func TestCollectionPartsAndErrorParts(t *testing.T) {
	c := NewCollection(SingleDistributor{})
	c.PutPart(Part{Policy: "p1", Location: "global", Timestamp: 10, Resources: []map[string]any{{"id": "a"}}})
	c.PutPart(Part{Policy: "p2", Location: "global", Timestamp: 10, Error: "ACCESS:denied"})
	c.PutPart(Part{Policy: "p3", Location: "global", Timestamp: 12, Error: "CLIENT:throttled", PreviousTimestamp: ptr(8.0)})

	parts := c.Parts()
	// p2 never succeeded, so only p1 and p3 carry meaningful resources.
	require.Len(t, parts, 2)
	policies := []string{parts[0].Policy, parts[1].Policy}
	assert.ElementsMatch(t, []string{"p1", "p3"}, policies)

	errorParts := c.ErrorParts()
	require.Len(t, errorParts, 2)
	policies = []string{errorParts[0].Policy, errorParts[1].Policy}
	assert.ElementsMatch(t, []string{"p2", "p3"}, policies)
}

func TestCollectionUpdate(t *testing.T) {
	base := NewCollection(NewAWSRegionDistributor(2))
	base.PutPart(Part{Policy: "p", Location: "us-east-1", Timestamp: 10, Resources: []map[string]any{{"id": "a"}}})
	base.Meta["p"] = PolicyMeta{Description: "old", Resource: "aws.s3"}

	incoming := NewCollection(SingleDistributor{})
	incoming.PutPart(Part{Policy: "p", Location: "us-east-1", Timestamp: 20, Resources: []map[string]any{{"id": "b"}}})
	incoming.PutPart(Part{Policy: "q", Location: "eu-west-1", Timestamp: 20, Resources: nil})
	incoming.Meta["p"] = PolicyMeta{Description: "new", Resource: "aws.s3"}

	base.Update(incoming)

	got, ok := base.Get("p", "us-east-1")
	require.True(t, ok)
	assert.Equal(t, 20.0, got.Timestamp)
	assert.Equal(t, []map[string]any{{"id": "b"}}, got.Resources)

	_, ok = base.Get("q", "eu-west-1")
	assert.True(t, ok)
	assert.Equal(t, "new", base.Meta["p"].Description)

	// Stale updates cannot regress the collection.
	stale := NewCollection(SingleDistributor{})
	stale.PutPart(Part{Policy: "p", Location: "us-east-1", Timestamp: 5, Resources: []map[string]any{{"id": "stale"}}})
	base.Update(stale)
	got, _ = base.Get("p", "us-east-1")
	assert.Equal(t, 20.0, got.Timestamp)
}

func TestCollectionDifference(t *testing.T) {
	newCollection := func(parts ...Part) *Collection {
		c := NewCollection(NewAWSRegionDistributor(2))
		for _, part := range parts {
			c.PutPart(part)
		}
		return c
	}

	t.Run("new resources survive the diff", func(t *testing.T) {
		current := newCollection(Part{
			Policy:    "P",
			Location:  "us-east-1",
			Timestamp: 20,
			Resources: []map[string]any{{"id": "a"}, {"id": "b"}},
		})
		old := newCollection(Part{
			Policy:    "P",
			Location:  "us-east-1",
			Timestamp: 10,
			Resources: []map[string]any{{"id": "a"}},
		})

		diff, err := current.Difference(old)
		require.NoError(t, err)
		assert.Equal(t, 1, diff.Distributor().N())

		got, ok := diff.Get("P", "us-east-1")
		require.True(t, ok)
		assert.Equal(t, []map[string]any{{"id": "b"}}, got.Resources)
	})

	t.Run("difference with self is empty", func(t *testing.T) {
		c := newCollection(Part{
			Policy:    "P",
			Location:  "us-east-1",
			Timestamp: 20,
			Resources: []map[string]any{{"id": "a"}, {"id": "b"}},
		})
		diff, err := c.Difference(c)
		require.NoError(t, err)
		got, ok := diff.Get("P", "us-east-1")
		require.True(t, ok)
		assert.Empty(t, got.Resources)
	})

	t.Run("difference with empty keeps everything", func(t *testing.T) {
		c := newCollection(Part{
			Policy:    "P",
			Location:  "us-east-1",
			Timestamp: 20,
			Resources: []map[string]any{{"id": "a"}, {"id": "b"}},
		})
		diff, err := c.Difference(NewCollection(SingleDistributor{}))
		require.NoError(t, err)
		got, ok := diff.Get("P", "us-east-1")
		require.True(t, ok)
		assert.Equal(t, []map[string]any{{"id": "a"}, {"id": "b"}}, got.Resources)
	})

	t.Run("error parts pass through unchanged", func(t *testing.T) {
		errorPart := Part{
			Policy:            "P",
			Location:          "us-east-1",
			Timestamp:         20,
			Error:             "ACCESS:denied",
			Resources:         []map[string]any{{"id": "a"}},
			PreviousTimestamp: ptr(10.0),
		}
		current := newCollection(errorPart)
		old := newCollection(Part{
			Policy:    "P",
			Location:  "us-east-1",
			Timestamp: 10,
			Resources: []map[string]any{{"id": "a"}},
		})

		diff, err := current.Difference(old)
		require.NoError(t, err)
		got, ok := diff.Get("P", "us-east-1")
		require.True(t, ok)
		assert.Equal(t, errorPart, got)
	})

	t.Run("never-succeeded baseline keeps the part whole", func(t *testing.T) {
		current := newCollection(Part{
			Policy:    "P",
			Location:  "us-east-1",
			Timestamp: 20,
			Resources: []map[string]any{{"id": "a"}},
		})
		old := newCollection(Part{
			Policy:    "P",
			Location:  "us-east-1",
			Timestamp: 10,
			Error:     "CREDENTIALS:expired",
		})

		diff, err := current.Difference(old)
		require.NoError(t, err)
		got, ok := diff.Get("P", "us-east-1")
		require.True(t, ok)
		assert.Equal(t, []map[string]any{{"id": "a"}}, got.Resources)
	})

	t.Run("changed fields count as new", func(t *testing.T) {
		current := newCollection(Part{
			Policy:    "P",
			Location:  "us-east-1",
			Timestamp: 20,
			Resources: []map[string]any{{"id": "a", "tag": "v2"}},
		})
		old := newCollection(Part{
			Policy:    "P",
			Location:  "us-east-1",
			Timestamp: 10,
			Resources: []map[string]any{{"id": "a", "tag": "v1"}},
		})

		diff, err := current.Difference(old)
		require.NoError(t, err)
		got, ok := diff.Get("P", "us-east-1")
		require.True(t, ok)
		assert.Equal(t, []map[string]any{{"id": "a", "tag": "v2"}}, got.Resources)
	})
}

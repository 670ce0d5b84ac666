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
	"github.com/cloudcustos/ruleengine/internal/database"
)

func TestIngestAssignsPartitionAndTTL(t *testing.T) {
	dbClient := database.NewCache()
	ingestor := NewIngestor(dbClient, 10, time.Hour)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ingestor.newTimestamp = func() time.Time { return now }
	ingestor.pickPartition = func(n int) int {
		require.Equal(t, 10, n)
		return 7
	}

	doc, err := ingestor.Ingest(context.Background(), &api.EventSubmitRequest{
		Vendor: "AWS",
		Events: []map[string]any{{"detail-type": cloudTrailDetailType}},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, doc.Partition)
	assert.Equal(t, api.EventVendorAWS, doc.Vendor)
	assert.Equal(t, float64(now.Unix()), doc.Timestamp)
	assert.Equal(t, now.Add(time.Hour).Unix(), doc.TTL)

	stored, err := dbClient.ListEventsSince(context.Background(), 7, 0, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestRemoverPrunesUpToCursor(t *testing.T) {
	dbClient := database.NewCache()
	ctx := context.Background()
	for _, ts := range []float64{5, 10, 15} {
		require.NoError(t, dbClient.PutEvents(ctx, &database.EventDocument{Partition: 0, Timestamp: ts}))
	}
	require.NoError(t, writeCursor(ctx, dbClient, 10))

	remover := NewRemover(dbClient, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, remover.Run(ctx))

	left, err := dbClient.ListEventsSince(ctx, 0, 0, 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, float64(15), left[0].Timestamp)
}

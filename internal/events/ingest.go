package events

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/database"
)

// Ingestor appends raw audit event batches to a random partition.
type Ingestor struct {
	dbClient   database.DBClient
	partitions int
	ttl        time.Duration

	newTimestamp  func() time.Time
	pickPartition func(n int) int
}

func NewIngestor(dbClient database.DBClient, partitions int, ttl time.Duration) *Ingestor {
	return &Ingestor{
		dbClient:      dbClient,
		partitions:    partitions,
		ttl:           ttl,
		newTimestamp:  func() time.Time { return time.Now().UTC() },
		pickPartition: rand.IntN,
	}
}

// Ingest stores one batch. The insertion timestamp doubles as the sort
// key the assembler's cursor walks over.
func (i *Ingestor) Ingest(ctx context.Context, req *api.EventSubmitRequest) (*database.EventDocument, error) {
	now := i.newTimestamp()
	doc := &database.EventDocument{
		Partition: i.pickPartition(i.partitions),
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
		Vendor:    api.EventVendor(req.Vendor),
		Events:    req.Events,
	}
	if i.ttl > 0 {
		doc.TTL = now.Add(i.ttl).Unix()
	}
	if err := i.dbClient.PutEvents(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

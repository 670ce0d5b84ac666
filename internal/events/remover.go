package events

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudcustos/ruleengine/internal/database"
)

// Remover deletes events the assembler has already consumed. It runs on
// its own schedule so a crashed assembler can still re-read the tail.
type Remover struct {
	dbClient   database.DBClient
	partitions int
	logger     *slog.Logger
}

func NewRemover(dbClient database.DBClient, partitions int, logger *slog.Logger) *Remover {
	return &Remover{
		dbClient:   dbClient,
		partitions: partitions,
		logger:     logger,
	}
}

// Run removes events up to the current cursor across all partitions.
func (r *Remover) Run(ctx context.Context) error {
	cursor, err := readCursor(ctx, r.dbClient)
	if err != nil {
		return err
	}
	if cursor == 0 {
		return nil
	}
	for partition := 0; partition < r.partitions; partition++ {
		if err := r.dbClient.DeleteEventsUpTo(ctx, partition, cursor); err != nil {
			return fmt.Errorf("pruning partition %d: %w", partition, err)
		}
	}
	r.logger.InfoContext(ctx, "pruned consumed events", "cursor", cursor)
	return nil
}

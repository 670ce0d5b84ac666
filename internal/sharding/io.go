package sharding

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/cloudcustos/ruleengine/internal/blob"
)

const metaKey = "meta.json"

// IO reads and writes collections at a blob-store prefix. Shard n lives
// at <prefix>/<n>.json, the policy meta at <prefix>/meta.json, all
// gzipped JSON.
type IO struct {
	client blob.Client
	bucket string
}

func NewIO(client blob.Client, bucket string) *IO {
	return &IO{client: client, bucket: bucket}
}

func shardKey(prefix string, n int) string {
	return path.Join(prefix, fmt.Sprintf("%d.json", n))
}

// Write persists every shard of the collection plus its meta. Empty
// shards are written too so readers can distinguish "scanned, nothing
// found" from "never written".
func (io *IO) Write(ctx context.Context, prefix string, collection *Collection) error {
	n := collection.distributor.N()
	for i := 0; i < n; i++ {
		shard := collection.shard(i)
		parts := make([]Part, 0, shard.Len())
		for _, part := range shard.parts {
			parts = append(parts, part)
		}
		if err := io.client.PutGzipJSON(ctx, io.bucket, shardKey(prefix, i), parts); err != nil {
			return fmt.Errorf("writing shard %d at %s: %w", i, prefix, err)
		}
	}
	if err := io.client.PutGzipJSON(ctx, io.bucket, path.Join(prefix, metaKey), collection.Meta); err != nil {
		return fmt.Errorf("writing meta at %s: %w", prefix, err)
	}
	return nil
}

// Read fetches the whole collection at prefix. Missing shard files are
// treated as empty.
func (io *IO) Read(ctx context.Context, prefix string, distributor Distributor) (*Collection, error) {
	indexes := make([]int, 0, distributor.N())
	for i := 0; i < distributor.N(); i++ {
		indexes = append(indexes, i)
	}
	return io.read(ctx, prefix, distributor, indexes)
}

// ReadForLocations fetches only the shards the given locations hash
// into. On AWS a job touching two regions typically pulls one or two of
// N shard files instead of the whole corpus.
func (io *IO) ReadForLocations(ctx context.Context, prefix string, distributor Distributor, locations []string) (*Collection, error) {
	picked := make(map[int]struct{}, len(locations))
	for _, location := range locations {
		picked[distributor.Distribute(location)] = struct{}{}
	}
	indexes := make([]int, 0, len(picked))
	for i := range picked {
		indexes = append(indexes, i)
	}
	return io.read(ctx, prefix, distributor, indexes)
}

func (io *IO) read(ctx context.Context, prefix string, distributor Distributor, indexes []int) (*Collection, error) {
	collection := NewCollection(distributor)
	for _, i := range indexes {
		var parts []Part
		err := io.client.GetGzipJSON(ctx, io.bucket, shardKey(prefix, i), &parts)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading shard %d at %s: %w", i, prefix, err)
		}
		for _, part := range parts {
			collection.PutPart(part)
		}
	}

	var meta map[string]PolicyMeta
	err := io.client.GetGzipJSON(ctx, io.bucket, path.Join(prefix, metaKey), &meta)
	if err != nil && !errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("reading meta at %s: %w", prefix, err)
	}
	if meta != nil {
		collection.Meta = meta
	}
	return collection, nil
}

// Exists reports whether any shard file is present at prefix.
func (io *IO) Exists(ctx context.Context, prefix string) (bool, error) {
	keys, err := io.client.ListKeys(ctx, io.bucket, prefix)
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

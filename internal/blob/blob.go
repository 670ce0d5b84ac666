package blob

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("ObjectNotFound")

// Client is the blob store every component persists large payloads
// through: ruleset policy bundles, shard findings, event mappings.
type Client interface {
	// GetObject streams an object. The caller closes the reader.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucket, key string, body io.Reader) error
	DeleteObject(ctx context.Context, bucket, key string) error
	// ListKeys returns object keys under prefix.
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)

	// GetGzipJSON reads a gzipped JSON object into out.
	GetGzipJSON(ctx context.Context, bucket, key string, out any) error
	// PutGzipJSON writes v as a gzipped JSON object. Large payloads are
	// spooled through a temp file to bound memory.
	PutGzipJSON(ctx context.Context, bucket, key string, v any) error

	// PresignGet produces a time-limited download URL.
	PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error)

	// CreateBucket provisions a bucket with the standard lifecycle rules.
	CreateBucket(ctx context.Context, bucket string, snapshotExpireDays int) error
}

package secrets

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested secret does not exist or
// its TTL elapsed.
var ErrNotFound = errors.New("SecretNotFound")

// Store holds short-lived job credentials and the LM signing key.
type Store interface {
	// Get reads the secret at key.
	Get(ctx context.Context, key string) (map[string]any, error)
	// Put writes the secret at key. A positive ttl expires the secret;
	// zero keeps it until deleted.
	Put(ctx context.Context, key string, value map[string]any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

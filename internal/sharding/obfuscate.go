package sharding

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/cloudcustos/ruleengine/internal/blob"
)

// Obfuscator rewrites finding payloads before they leave the system.
// Readers apply it when the caller sets the obfuscate flag; the matching
// deobfuscation runs as a separate offline tool against the dictionary.
type Obfuscator interface {
	// Obfuscate rewrites the collection's resources in place and returns
	// the URL of the sidecar dictionary, or "" when nothing was replaced.
	Obfuscate(ctx context.Context, collection *Collection) (string, error)
}

// NoopObfuscator leaves the collection untouched.
type NoopObfuscator struct{}

func (NoopObfuscator) Obfuscate(context.Context, *Collection) (string, error) {
	return "", nil
}

// UUIDObfuscator replaces every string leaf of every resource with a
// UUID and uploads the alias-to-original dictionary next to the other
// on-demand artifacts. A value repeated across resources maps to the
// same alias so joins over the obfuscated data still hold.
type UUIDObfuscator struct {
	client  blob.Client
	bucket  string
	expires time.Duration
}

func NewUUIDObfuscator(client blob.Client, bucket string, expires time.Duration) *UUIDObfuscator {
	return &UUIDObfuscator{client: client, bucket: bucket, expires: expires}
}

func (o *UUIDObfuscator) Obfuscate(ctx context.Context, collection *Collection) (string, error) {
	dictionary := make(map[string]string)
	aliases := make(map[string]string)

	for _, shard := range collection.shards {
		for key, part := range shard.parts {
			for i, resource := range part.Resources {
				part.Resources[i] = obfuscateValue(resource, aliases, dictionary).(map[string]any)
			}
			shard.parts[key] = part
		}
	}

	if len(dictionary) == 0 {
		return "", nil
	}

	key := path.Join("on-demand", "dictionaries", uuid.NewString()+".json")
	if err := o.client.PutGzipJSON(ctx, o.bucket, key, dictionary); err != nil {
		return "", fmt.Errorf("writing obfuscation dictionary: %w", err)
	}
	return o.client.PresignGet(ctx, o.bucket, key, o.expires)
}

func obfuscateValue(value any, aliases, dictionary map[string]string) any {
	switch v := value.(type) {
	case string:
		alias, ok := aliases[v]
		if !ok {
			alias = uuid.NewString()
			aliases[v] = alias
			dictionary[alias] = v
		}
		return alias
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, entry := range v {
			out[k] = obfuscateValue(entry, aliases, dictionary)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, entry := range v {
			out[i] = obfuscateValue(entry, aliases, dictionary)
		}
		return out
	default:
		return v
	}
}

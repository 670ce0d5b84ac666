package secrets

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"
)

var _ Store = &VaultStore{}

// expiresAtField carries the secret deadline inside the KV payload.
// KV v2 has no per-secret TTL, so expiry is enforced on read.
const expiresAtField = "__expires_at"

// VaultStore is a KV v2 backed Store.
type VaultStore struct {
	client       *vault.Client
	mount        string
	newTimestamp func() time.Time
}

func NewVaultStore(client *vault.Client, mount string) *VaultStore {
	return &VaultStore{
		client:       client,
		mount:        mount,
		newTimestamp: time.Now,
	}
}

func (s *VaultStore) Get(ctx context.Context, key string) (map[string]any, error) {
	secret, err := s.client.KVv2(s.mount).Get(ctx, key)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("reading secret %s: %w", key, err)
	}

	data := secret.Data
	if raw, ok := data[expiresAtField]; ok {
		expiresAt, err := parseUnix(raw)
		if err != nil {
			return nil, fmt.Errorf("secret %s has a malformed deadline: %w", key, err)
		}
		if s.newTimestamp().After(expiresAt) {
			// Expired. Best-effort cleanup, the caller sees a miss.
			_ = s.Delete(ctx, key)
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		delete(data, expiresAtField)
	}
	return data, nil
}

func (s *VaultStore) Put(ctx context.Context, key string, value map[string]any, ttl time.Duration) error {
	data := make(map[string]any, len(value)+1)
	for k, v := range value {
		data[k] = v
	}
	if ttl > 0 {
		data[expiresAtField] = s.newTimestamp().Add(ttl).Unix()
	}
	if _, err := s.client.KVv2(s.mount).Put(ctx, key, data); err != nil {
		return fmt.Errorf("writing secret %s: %w", key, err)
	}
	return nil
}

func (s *VaultStore) Delete(ctx context.Context, key string) error {
	if err := s.client.KVv2(s.mount).DeleteMetadata(ctx, key); err != nil {
		return fmt.Errorf("deleting secret %s: %w", key, err)
	}
	return nil
}

// EnableEngine mounts the KV v2 engine if it is not mounted yet. Used
// by the init-vault command.
func (s *VaultStore) EnableEngine(ctx context.Context) error {
	mounts, err := s.client.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return fmt.Errorf("listing vault mounts: %w", err)
	}
	if _, ok := mounts[s.mount+"/"]; ok {
		return nil
	}
	err = s.client.Sys().MountWithContext(ctx, s.mount, &vault.MountInput{
		Type:    "kv",
		Options: map[string]string{"version": "2"},
	})
	if err != nil {
		return fmt.Errorf("mounting kv engine at %s: %w", s.mount, err)
	}
	return nil
}

func parseUnix(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case int64:
		return time.Unix(v, 0), nil
	case float64:
		return time.Unix(int64(v), 0), nil
	default:
		// Vault returns KV numbers as json.Number.
		if n, ok := raw.(interface{ Int64() (int64, error) }); ok {
			seconds, err := n.Int64()
			if err != nil {
				return time.Time{}, err
			}
			return time.Unix(seconds, 0), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported deadline type %T", raw)
}

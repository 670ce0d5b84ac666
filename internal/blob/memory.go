package blob

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ Client = &Memory{}

// Memory is an in-memory Client used by tests and by --use-cache mode.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

func (m *Memory) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[objectKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) PutObject(ctx context.Context, bucket, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(bucket, key)] = data
	return nil
}

func (m *Memory) DeleteObject(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectKey(bucket, key))
	return nil
}

func (m *Memory) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	bucketPrefix := bucket + "/"
	for k := range m.objects {
		if strings.HasPrefix(k, bucketPrefix+prefix) {
			keys = append(keys, strings.TrimPrefix(k, bucketPrefix))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) GetGzipJSON(ctx context.Context, bucket, key string, out any) error {
	body, err := m.GetObject(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer body.Close()
	return ReadGzipJSON(body, out)
}

func (m *Memory) PutGzipJSON(ctx context.Context, bucket, key string, v any) error {
	var buf bytes.Buffer
	if err := WriteGzipJSON(&buf, v); err != nil {
		return err
	}
	return m.PutObject(ctx, bucket, key, &buf)
}

func (m *Memory) PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if _, err := m.GetObject(ctx, bucket, key); err != nil {
		return "", err
	}
	return fmt.Sprintf("memory://%s/%s", bucket, key), nil
}

func (m *Memory) CreateBucket(ctx context.Context, bucket string, snapshotExpireDays int) error {
	return nil
}

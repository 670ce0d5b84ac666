package database

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/cloudcustos/ruleengine/internal/api"
)

// lockRetries bounds the optimistic read-modify-write loop.
const lockRetries = 3

// JobLockEntry records one live job's claimed scope.
type JobLockEntry struct {
	JobID      string    `json:"job_id"`
	Regions    []string  `json:"regions,omitempty"`
	Platforms  []string  `json:"platforms,omitempty"`
	AcquiredAt time.Time `json:"acquired_at,omitzero"`
}

// JobLock is the value stored under the CUSTODIAN_JOB_LOCK tenant
// setting: one entry per live job. Jobs with disjoint scopes hold
// entries side by side; each scope stays protected until its own job
// releases it.
type JobLock struct {
	Entries []JobLockEntry `json:"entries,omitempty"`
}

// LockConflictError names the job currently holding an intersecting scope.
type LockConflictError struct {
	BlockerJobID string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("tenant is locked by job %s", e.BlockerJobID)
}

// LockClient serializes job admission per tenant scope.
type LockClient struct {
	dbClient DBClient
	// Allow overriding timestamps for testing.
	newTimestamp func() time.Time
}

// NewLockClient returns a lock client backed by tenant settings.
func NewLockClient(dbClient DBClient) *LockClient {
	return &LockClient{
		dbClient:     dbClient,
		newTimestamp: func() time.Time { return time.Now().UTC() },
	}
}

// Acquire claims the requested regions and platforms for jobID. Any
// live entry of another job with an intersecting scope yields a
// *LockConflictError; disjoint scopes coexist.
func (l *LockClient) Acquire(ctx context.Context, tenant, jobID string, regions, platforms []string) error {
	for attempt := 0; ; attempt++ {
		doc, lock, err := l.read(ctx, tenant)
		if err != nil {
			return err
		}

		for _, entry := range lock.Entries {
			if entry.JobID == jobID {
				continue
			}
			if len(lo.Intersect(entry.Regions, regions)) > 0 ||
				len(lo.Intersect(entry.Platforms, platforms)) > 0 {
				return &LockConflictError{BlockerJobID: entry.JobID}
			}
		}

		next := JobLock{Entries: slices.DeleteFunc(slices.Clone(lock.Entries),
			func(entry JobLockEntry) bool { return entry.JobID == jobID })}
		next.Entries = append(next.Entries, JobLockEntry{
			JobID:      jobID,
			Regions:    regions,
			Platforms:  platforms,
			AcquiredAt: l.newTimestamp(),
		})
		err = l.write(ctx, tenant, doc, next)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrPreconditionFailed) || attempt >= lockRetries {
			return err
		}
	}
}

// Release drops jobID's entry. Other jobs' entries stay untouched and
// releasing an absent entry is a no-op.
func (l *LockClient) Release(ctx context.Context, tenant, jobID string) error {
	for attempt := 0; ; attempt++ {
		doc, lock, err := l.read(ctx, tenant)
		if err != nil {
			return err
		}
		remaining := slices.DeleteFunc(slices.Clone(lock.Entries),
			func(entry JobLockEntry) bool { return entry.JobID == jobID })
		if len(remaining) == len(lock.Entries) {
			return nil
		}
		err = l.write(ctx, tenant, doc, JobLock{Entries: remaining})
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrPreconditionFailed) || attempt >= lockRetries {
			return err
		}
	}
}

// Holders returns every live lock entry for the tenant.
func (l *LockClient) Holders(ctx context.Context, tenant string) ([]JobLockEntry, error) {
	_, lock, err := l.read(ctx, tenant)
	return lock.Entries, err
}

func (l *LockClient) read(ctx context.Context, tenant string) (*TenantSettingDocument, JobLock, error) {
	var lock JobLock
	doc, err := l.dbClient.GetTenantSetting(ctx, tenant, api.JobLockSettingName)
	if errors.Is(err, ErrNotFound) {
		return nil, lock, nil
	}
	if err != nil {
		return nil, lock, err
	}
	if err := json.Unmarshal(doc.Value, &lock); err != nil {
		return nil, lock, fmt.Errorf("corrupt job lock for tenant %s: %w", tenant, err)
	}
	return doc, lock, nil
}

func (l *LockClient) write(ctx context.Context, tenant string, prev *TenantSettingDocument, lock JobLock) error {
	value, err := json.Marshal(lock)
	if err != nil {
		return err
	}
	next := &TenantSettingDocument{
		TenantName: tenant,
		Key:        api.JobLockSettingName,
		Value:      value,
		Revision:   1,
	}
	if prev != nil {
		next.Revision = prev.Revision + 1
	}
	return l.dbClient.SetTenantSetting(ctx, next)
}
